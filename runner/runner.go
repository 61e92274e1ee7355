package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/logging"
	"github.com/ethereum-optimism/infra/op-pagecheck/registry"
	"github.com/ethereum-optimism/infra/op-pagecheck/runconfig"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

var (
	// ErrNoScenarios is returned when the selection is empty.
	ErrNoScenarios = errors.New("no scenarios selected")
	// ErrRunInterrupted marks a run whose context was cancelled before every
	// scenario finished.
	ErrRunInterrupted = errors.New("run interrupted")
)

// SuiteResult captures aggregated results for one scenario file on one project
type SuiteResult struct {
	ID        string
	File      string
	Scenarios map[string]*types.ExecutionResult
	Status    types.TestStatus
	Duration  time.Duration
	Stats     ResultStats

	order int
}

// ProjectResult captures aggregated results for one matrix entry
type ProjectResult struct {
	ID       string
	Device   string
	Suites   map[string]*SuiteResult
	Status   types.TestStatus
	Duration time.Duration
	Stats    ResultStats

	order int
}

// RunnerResult captures the complete run results
type RunnerResult struct {
	Projects map[string]*ProjectResult
	// Results holds every scenario result in work order: project, file,
	// then declaration order.
	Results       []*types.ExecutionResult
	Status        types.TestStatus
	Duration      time.Duration // sum of scenario durations
	WallClockTime time.Duration
	Stats         ResultStats
	RunID         string
	Workers       int
	// Interrupted is set when the run was cancelled before every scenario
	// finished. An interrupted run has status error whatever its stats say.
	Interrupted bool
}

// ResultStats tracks scenario statistics at each level
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	TimedOut  int
	Skipped   int
	Errored   int
	Flaky     int
	StartTime time.Time
	EndTime   time.Time
}

// Unsuccessful counts the scenarios that fail the run.
func (s ResultStats) Unsuccessful() int {
	return s.Failed + s.TimedOut + s.Errored
}

// TestRunner defines the interface for running scenarios
type TestRunner interface {
	RunAllTests(ctx context.Context) (*RunnerResult, error)
	RunScenario(ctx context.Context, work ScenarioWork) *types.ExecutionResult
}

// TestRunnerWithFileLogger extends the TestRunner interface with a method
// to set the file logger after creation
type TestRunnerWithFileLogger interface {
	TestRunner
	SetFileLogger(logger *logging.FileLogger)
}

// ScenarioWork is one scenario on one project.
type ScenarioWork struct {
	Index    int
	Project  types.Project
	Device   types.DeviceProfile
	Suite    *types.Suite
	Scenario types.Scenario
	// SkipReason marks work that is reported without being executed.
	SkipReason string
}

// Ref identifies the work item in results.
func (w ScenarioWork) Ref() types.ScenarioRef {
	return types.ScenarioRef{
		Project:  w.Project.Name,
		Suite:    w.Suite.Name,
		File:     w.Suite.File,
		Scenario: w.Scenario.Name,
	}
}

// runner struct implements TestRunner interface
type runner struct {
	registry   *registry.Registry
	config     *types.RunConfig
	driver     browser.Driver
	log        log.Logger
	runID      string
	workers    int
	projects   []string
	allowSkips bool
	fileLogger *logging.FileLogger
	progress   ProgressIndicator
	intervals  []time.Duration
	tracer     trace.Tracer
}

// Config holds configuration for creating a new runner
type Config struct {
	Registry   *registry.Registry
	RunConfig  *types.RunConfig
	Driver     browser.Driver
	Log        log.Logger
	Projects   []string // restricts the matrix to these project names
	Workers    int      // overrides RunConfig.Workers when positive
	AllowSkips bool     // report unsupported engines as skipped instead of errored
	FileLogger *logging.FileLogger
	Progress   ProgressIndicator
	// PollIntervals overrides the wait and assertion re-check schedule.
	PollIntervals []time.Duration
}

// NewTestRunner creates a new test runner instance
func NewTestRunner(cfg Config) (TestRunner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.RunConfig == nil {
		return nil, fmt.Errorf("run config is required")
	}
	if cfg.Driver == nil {
		return nil, fmt.Errorf("browser driver is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	for _, name := range cfg.Projects {
		if !slices.Contains(cfg.RunConfig.ProjectNames(), name) {
			return nil, types.NewConfigurationError("", "project", "unknown project %q (have %s)",
				name, strings.Join(cfg.RunConfig.ProjectNames(), ", "))
		}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runconfig.ResolveWorkers(cfg.RunConfig.Workers)
	}
	progress := cfg.Progress
	if progress == nil {
		progress = NewNoOpProgressIndicator()
	}

	cfg.Log.Debug("NewTestRunner()", "driver", cfg.Driver.Name(), "workers", workers,
		"projects", cfg.Projects, "allowSkips", cfg.AllowSkips, "retries", cfg.RunConfig.Retries)

	return &runner{
		registry:   cfg.Registry,
		config:     cfg.RunConfig,
		driver:     cfg.Driver,
		log:        cfg.Log,
		workers:    workers,
		projects:   cfg.Projects,
		allowSkips: cfg.AllowSkips,
		fileLogger: cfg.FileLogger,
		progress:   progress,
		intervals:  cfg.PollIntervals,
		tracer:     otel.Tracer("pagecheck runner"),
	}, nil
}

// RunAllTests implements the TestRunner interface
func (r *runner) RunAllTests(ctx context.Context) (*RunnerResult, error) {
	// Use fileLogger's runID if available, otherwise generate new
	if r.fileLogger != nil {
		r.runID = r.fileLogger.GetRunID()
	} else {
		r.runID = uuid.New().String()
	}
	defer func() {
		r.runID = ""
	}()

	ctx, span := r.tracer.Start(ctx, "run")
	defer span.End()

	work, err := r.collectWork()
	if err != nil {
		return nil, err
	}
	if len(work) == 0 {
		return nil, ErrNoScenarios
	}
	batches := batchWork(work, r.config.FullyParallel)

	r.log.Info("Running scenarios", "run_id", r.runID, "scenarios", len(work),
		"batches", len(batches), "workers", r.workers, "driver", r.driver.Name())

	executor := NewParallelExecutor(r, r.workers, r.progress)
	return executor.ExecuteTests(ctx, batches)
}

// collectWork builds the work items in project, file and declaration order.
func (r *runner) collectWork() ([]ScenarioWork, error) {
	entries := r.registry.Select()
	var work []ScenarioWork
	for _, project := range r.config.Projects {
		if len(r.projects) > 0 && !slices.Contains(r.projects, project.Name) {
			continue
		}
		device, err := types.ResolveDevice(project)
		if err != nil {
			return nil, types.NewConfigurationError(r.config.Source, "projects", "%v", err)
		}
		for _, entry := range entries {
			work = append(work, ScenarioWork{
				Index:      len(work),
				Project:    project,
				Device:     device,
				Suite:      entry.Suite,
				Scenario:   entry.Scenario,
				SkipReason: entry.SkipReason,
			})
		}
	}
	return work, nil
}

// batchWork groups work items that must run in order on one worker. With
// fullyParallel every item is its own batch; otherwise the scenarios of one
// file on one project share a batch.
func batchWork(work []ScenarioWork, fullyParallel bool) [][]ScenarioWork {
	var batches [][]ScenarioWork
	if fullyParallel {
		for _, w := range work {
			batches = append(batches, []ScenarioWork{w})
		}
		return batches
	}
	index := make(map[string]int)
	for _, w := range work {
		key := w.Project.Name + "\x00" + w.Suite.File
		i, ok := index[key]
		if !ok {
			i = len(batches)
			index[key] = i
			batches = append(batches, nil)
		}
		batches[i] = append(batches[i], w)
	}
	return batches
}

// SetFileLogger sets the file logger for the runner
func (r *runner) SetFileLogger(logger *logging.FileLogger) {
	r.fileLogger = logger
}

// formatDuration formats the duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// OrderedProjects returns the project results in matrix order.
func (r *RunnerResult) OrderedProjects() []*ProjectResult {
	projects := make([]*ProjectResult, 0, len(r.Projects))
	for _, p := range r.Projects {
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].order < projects[j].order })
	return projects
}

// OrderedSuites returns the suite results in file order.
func (p *ProjectResult) OrderedSuites() []*SuiteResult {
	suites := make([]*SuiteResult, 0, len(p.Suites))
	for _, s := range p.Suites {
		suites = append(suites, s)
	}
	sort.Slice(suites, func(i, j int) bool { return suites[i].order < suites[j].order })
	return suites
}

// resultsFor returns the results of one suite on one project in work order.
func (r *RunnerResult) resultsFor(project, suite string) []*types.ExecutionResult {
	var out []*types.ExecutionResult
	for _, res := range r.Results {
		if res.Project == project && res.Suite == suite {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the scenarios that did not eventually pass.
func (r *RunnerResult) Failed() []*types.ExecutionResult {
	var out []*types.ExecutionResult
	for _, res := range r.Results {
		if res.Status.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// String returns a formatted string representation of the run results
func (r *RunnerResult) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Test Run Results (%s):\n", formatDuration(r.WallClockTime)))
	b.WriteString(fmt.Sprintf("Total: %d, Passed: %d, Failed: %d, Timed out: %d, Skipped: %d, Flaky: %d\n",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.TimedOut, r.Stats.Skipped, r.Stats.Flaky))
	if r.Interrupted {
		b.WriteString("Run interrupted before every scenario finished\n")
	}

	for _, project := range r.OrderedProjects() {
		b.WriteString(fmt.Sprintf("\nProject: %s [%s] (%s)\n", project.ID, project.Device, formatDuration(project.Duration)))
		b.WriteString(fmt.Sprintf("├── Status: %s\n", project.Status))
		b.WriteString(fmt.Sprintf("├── Scenarios: %d passed, %d failed, %d skipped\n",
			project.Stats.Passed, project.Stats.Unsuccessful(), project.Stats.Skipped))

		suites := project.OrderedSuites()
		for si, suite := range suites {
			lastSuite := si == len(suites)-1
			prefix, indent := "├──", "│   "
			if lastSuite {
				prefix, indent = "└──", "    "
			}
			b.WriteString(fmt.Sprintf("%s Suite: %s (%s) [status=%s]\n", prefix, suite.ID, formatDuration(suite.Duration), suite.Status))

			results := r.resultsFor(project.ID, suite.ID)
			for ti, res := range results {
				branch := "├──"
				if ti == len(results)-1 {
					branch = "└──"
				}
				line := fmt.Sprintf("%s%s Scenario: %s (%s) [status=%s]", indent, branch, res.Scenario, formatDuration(res.Duration), res.Status)
				if res.Flaky {
					line += fmt.Sprintf(" flaky after %d retries", res.Retries())
				}
				b.WriteString(line + "\n")
				if res.FailureReason != "" && res.Status != types.TestStatusPass {
					reason := res.FailureReason
					if idx := strings.Index(reason, "\n"); idx != -1 {
						reason = reason[:idx]
					}
					b.WriteString(fmt.Sprintf("%s│       └── Reason: %s\n", indent, reason))
				}
			}
		}
	}
	return b.String()
}

// updateStats adds a scenario result to every level of the hierarchy
func (r *RunnerResult) updateStats(project *ProjectResult, suite *SuiteResult, res *types.ExecutionResult) {
	for _, stats := range []*ResultStats{&suite.Stats, &project.Stats, &r.Stats} {
		stats.Total++
		switch res.Status {
		case types.TestStatusPass:
			stats.Passed++
		case types.TestStatusFail:
			stats.Failed++
		case types.TestStatusTimeout:
			stats.TimedOut++
		case types.TestStatusSkip:
			stats.Skipped++
		case types.TestStatusError:
			stats.Errored++
		}
		if res.Flaky {
			stats.Flaky++
		}
	}
	suite.Duration += res.Duration
	project.Duration += res.Duration
	r.Duration += res.Duration
}

// determineStatusFromStats is a helper that returns a status based on common
// roll-up logic: any unsuccessful scenario fails the level, a level of only
// skipped scenarios is skipped.
func determineStatusFromStats(stats ResultStats) types.TestStatus {
	if stats.Total == 0 || stats.Skipped == stats.Total {
		return types.TestStatusSkip
	}
	if stats.Unsuccessful() > 0 {
		return types.TestStatusFail
	}
	return types.TestStatusPass
}
