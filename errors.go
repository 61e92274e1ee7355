package pagecheck

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-pagecheck/exitcodes"
	"github.com/ethereum-optimism/infra/op-pagecheck/runner"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// maxListedFailures bounds the scenario names printed in a TestFailureError.
const maxListedFailures = 3

// RuntimeError means the run could not produce a trustworthy verdict: the run
// configuration was invalid, the web server never became ready, the browser
// was missing or the run was interrupted. It exits with code 2.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ExitCode implements cli.ExitCoder.
func (e *RuntimeError) ExitCode() int {
	return exitcodes.RuntimeErr
}

// Interrupted reports whether the run was cancelled before every scenario finished.
func (e *RuntimeError) Interrupted() bool {
	return errors.Is(e.Err, runner.ErrRunInterrupted)
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a completed run in which at least one scenario
// did not eventually pass. It exits with code 1.
type TestFailureError struct {
	RunID string
	// Failed lists the unsuccessful scenarios in work order.
	Failed []types.ScenarioRef
	// Total is the number of scenarios the verdict covers.
	Total int
	// Summary is the rendered run report.
	Summary string
}

func (e *TestFailureError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("test failure: %s", e.Summary)
	}
	names := make([]string, 0, maxListedFailures)
	for i, ref := range e.Failed {
		if i == maxListedFailures {
			names = append(names, fmt.Sprintf("+%d more", len(e.Failed)-i))
			break
		}
		names = append(names, ref.ID())
	}
	return fmt.Sprintf("test failure: %d of %d scenario(s) failed: %s", len(e.Failed), e.Total, strings.Join(names, ", "))
}

// ExitCode implements cli.ExitCoder.
func (e *TestFailureError) ExitCode() int {
	return exitcodes.TestFailure
}

// NewTestFailureError creates a TestFailureError for the given unsuccessful
// scenarios. With no scenarios the summary becomes the message.
func NewTestFailureError(summary string, failed ...types.ScenarioRef) *TestFailureError {
	return &TestFailureError{Failed: failed, Total: len(failed), Summary: summary}
}

// newRunFailure builds the failure for a finished run, or returns nil when
// the run passed.
func newRunFailure(result *runner.RunnerResult) *TestFailureError {
	if result == nil || !result.Status.Failed() {
		return nil
	}
	var failed []types.ScenarioRef
	for _, res := range result.Results {
		if res.Status.Failed() {
			failed = append(failed, res.ScenarioRef)
		}
	}
	e := NewTestFailureError(result.String(), failed...)
	e.RunID = result.RunID
	e.Total = result.Stats.Total
	return e
}

// newFlakeShakeFailure builds the failure for a flake-shake report, or returns
// nil when every scenario was stable.
func newFlakeShakeFailure(report *runner.FlakeShakeReport) *TestFailureError {
	unstable := report.Unstable()
	if len(unstable) == 0 {
		return nil
	}
	failed := make([]types.ScenarioRef, 0, len(unstable))
	for _, s := range unstable {
		failed = append(failed, types.ScenarioRef{Project: s.Project, Suite: s.Suite, Scenario: s.Scenario})
	}
	e := NewTestFailureError(fmt.Sprintf("flake-shake found %d unstable scenario(s) out of %d", len(unstable), len(report.Scenarios)), failed...)
	e.RunID = report.RunID
	e.Total = len(report.Scenarios)
	return e
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
