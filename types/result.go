package types

import (
	"fmt"
	"strings"
	"time"
)

// ScenarioRef identifies one scenario within one matrix entry.
type ScenarioRef struct {
	Project  string `json:"project"`
	Suite    string `json:"suite"`
	File     string `json:"file"`
	Scenario string `json:"scenario"`
}

// ID is the stable key used for result maps and flake-shake aggregation.
func (r ScenarioRef) ID() string {
	return fmt.Sprintf("%s > %s > %s", r.Project, r.Suite, r.Scenario)
}

func (r ScenarioRef) String() string {
	return r.ID()
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Index     int           `json:"index"`
	Name      string        `json:"name"`
	Status    TestStatus    `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Depth     int           `json:"depth,omitempty"` // nesting inside each steps
}

// AttemptResult records one execution of a scenario.
type AttemptResult struct {
	Attempt       int           `json:"attempt"` // 0 is the first run, n is the n-th retry
	Status        TestStatus    `json:"status"`
	FailureReason string        `json:"failureReason,omitempty"`
	ErrorKind     ErrorKind     `json:"errorKind,omitempty"`
	Duration      time.Duration `json:"duration"`
	Steps         []StepResult  `json:"steps"`
	Artifacts     []string      `json:"artifacts,omitempty"`
	ConsoleErrors []string      `json:"consoleErrors,omitempty"`
	ArtifactDir   string        `json:"artifactDir"`
}

// ExecutionResult is the terminal outcome of a scenario on one matrix entry.
// It is created once, after the final attempt, and not modified afterwards.
type ExecutionResult struct {
	ScenarioRef
	Device        string          `json:"device"`
	Status        TestStatus      `json:"status"`
	FailureReason string          `json:"failureReason,omitempty"`
	ErrorKind     ErrorKind       `json:"errorKind,omitempty"`
	Error         error           `json:"-"`
	Artifacts     []string        `json:"artifacts,omitempty"`
	Attempts      []AttemptResult `json:"attempts"`
	Flaky         bool            `json:"flaky"` // passed only after a retry
	// Interrupted marks a scenario that never started because the run was cancelled.
	Interrupted   bool            `json:"interrupted,omitempty"`
	Duration      time.Duration   `json:"duration"`
	StartedAt     time.Time       `json:"startedAt"`
	ConsoleErrors []string        `json:"consoleErrors,omitempty"`
}

// Retries returns how many times the scenario was re-run.
func (r *ExecutionResult) Retries() int {
	if len(r.Attempts) == 0 {
		return 0
	}
	return len(r.Attempts) - 1
}

// FinalAttempt returns the attempt whose outcome is terminal.
func (r *ExecutionResult) FinalAttempt() *AttemptResult {
	if len(r.Attempts) == 0 {
		return nil
	}
	return &r.Attempts[len(r.Attempts)-1]
}

// NewExecutionResult builds the terminal result from the attempts of a scenario.
// The last attempt decides the status; every attempt contributes artifacts.
func NewExecutionResult(ref ScenarioRef, device string, startedAt time.Time, attempts []AttemptResult, finalErr error) *ExecutionResult {
	res := &ExecutionResult{
		ScenarioRef: ref,
		Device:      device,
		Status:      TestStatusSkip,
		StartedAt:   startedAt,
		Attempts:    attempts,
		Error:       finalErr,
	}
	seen := make(map[string]bool)
	for _, a := range attempts {
		res.Duration += a.Duration
		res.Artifacts = append(res.Artifacts, a.Artifacts...)
		for _, msg := range a.ConsoleErrors {
			if !seen[msg] {
				seen[msg] = true
				res.ConsoleErrors = append(res.ConsoleErrors, msg)
			}
		}
	}
	if final := res.FinalAttempt(); final != nil {
		res.Status = final.Status
		res.FailureReason = final.FailureReason
		res.ErrorKind = final.ErrorKind
		res.Flaky = final.Status == TestStatusPass && len(attempts) > 1
	}
	return res
}

// NewSkippedResult builds a result for a scenario that was not executed.
func NewSkippedResult(ref ScenarioRef, device, reason string) *ExecutionResult {
	return &ExecutionResult{
		ScenarioRef:   ref,
		Device:        device,
		Status:        TestStatusSkip,
		FailureReason: reason,
		StartedAt:     time.Now(),
	}
}

// Summary renders a single line description of the result.
func (r *ExecutionResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", r.ID(), r.Status)
	if r.Flaky {
		fmt.Fprintf(&b, " (flaky, %d retries)", r.Retries())
	}
	if r.FailureReason != "" {
		reason := r.FailureReason
		if idx := strings.Index(reason, "\n"); idx != -1 {
			reason = reason[:idx]
		}
		fmt.Fprintf(&b, ": %s", reason)
	}
	return b.String()
}
