package reporting

import (
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// ReportStats contains aggregated statistics for a run or one of its levels
type ReportStats struct {
	Total    int
	Passed   int
	Failed   int
	TimedOut int
	Skipped  int
	Errored  int
	Flaky    int
	PassRate float64
}

// Unsuccessful counts the scenarios that fail the run.
func (s ReportStats) Unsuccessful() int {
	return s.Failed + s.TimedOut + s.Errored
}

// ReportScenario is one scenario on one project
type ReportScenario struct {
	ID            string
	Project       string
	Suite         string
	Scenario      string
	Status        types.TestStatus
	FailureReason string
	ErrorKind     types.ErrorKind
	Duration      time.Duration
	Attempts      int
	Flaky         bool
	Steps         []types.StepResult // steps of the final attempt
	ConsoleErrors []string
	Artifacts     []string // relative to the report directory when possible
	LogPath       string
	Order         int
}

// ReportSuite groups the scenarios of one file on one project
type ReportSuite struct {
	Name      string
	File      string
	Status    types.TestStatus
	Duration  time.Duration
	Stats     ReportStats
	Scenarios []ReportScenario
}

// ReportProject groups the suites run on one matrix entry
type ReportProject struct {
	Name     string
	Device   string
	Status   types.TestStatus
	Duration time.Duration
	Stats    ReportStats
	Suites   []ReportSuite
}

// ReportData contains all the structured data needed for any report format
type ReportData struct {
	RunID        string
	Timestamp    time.Time
	Time         string
	Duration     time.Duration
	Stats        ReportStats
	PassRateText string
	HasFailures  bool

	Projects []ReportProject

	// Flat lists, in run order
	AllScenarios    []ReportScenario
	FailedScenarios []ReportScenario
	FlakyScenarios  []ReportScenario

	Config     *types.EffectiveConfigSnapshot
	ConfigJSON string
}

// ReportBuilder constructs ReportData from execution results
type ReportBuilder struct {
	logPathGenerator  func(result *types.ExecutionResult) string
	artifactPathFixer func(path string) string
}

// NewReportBuilder creates a new report builder
func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{
		logPathGenerator:  func(*types.ExecutionResult) string { return "" },
		artifactPathFixer: func(p string) string { return p },
	}
}

// WithLogPathGenerator sets a custom function for generating log file paths
func (rb *ReportBuilder) WithLogPathGenerator(generator func(result *types.ExecutionResult) string) *ReportBuilder {
	rb.logPathGenerator = generator
	return rb
}

// WithArtifactPaths sets the function that rewrites artifact paths for display
func (rb *ReportBuilder) WithArtifactPaths(fixer func(path string) string) *ReportBuilder {
	rb.artifactPathFixer = fixer
	return rb
}

// BuildFromResults creates ReportData from results given in run order.
// Projects and suites keep the order in which they first appear.
func (rb *ReportBuilder) BuildFromResults(results []*types.ExecutionResult, runID string) *ReportData {
	report := &ReportData{
		RunID:     runID,
		Timestamp: time.Now(),
	}
	report.Time = report.Timestamp.Format(time.RFC3339)

	projectIndex := make(map[string]int)
	suiteIndex := make(map[string]map[string]int)

	for i, res := range results {
		item := rb.createScenarioItem(res, i)

		pi, ok := projectIndex[res.Project]
		if !ok {
			pi = len(report.Projects)
			projectIndex[res.Project] = pi
			suiteIndex[res.Project] = make(map[string]int)
			report.Projects = append(report.Projects, ReportProject{Name: res.Project, Device: res.Device})
		}
		project := &report.Projects[pi]

		si, ok := suiteIndex[res.Project][res.Suite]
		if !ok {
			si = len(project.Suites)
			suiteIndex[res.Project][res.Suite] = si
			project.Suites = append(project.Suites, ReportSuite{Name: res.Suite, File: res.File})
		}
		suite := &project.Suites[si]
		suite.Scenarios = append(suite.Scenarios, item)

		for _, stats := range []*ReportStats{&suite.Stats, &project.Stats, &report.Stats} {
			rb.updateStats(stats, res)
		}
		suite.Duration += res.Duration
		project.Duration += res.Duration
		report.Duration += res.Duration

		report.AllScenarios = append(report.AllScenarios, item)
		if res.Status.Failed() {
			report.FailedScenarios = append(report.FailedScenarios, item)
		}
		if res.Flaky {
			report.FlakyScenarios = append(report.FlakyScenarios, item)
		}
	}

	for pi := range report.Projects {
		project := &report.Projects[pi]
		for si := range project.Suites {
			suite := &project.Suites[si]
			suite.Status = determineStatus(suite.Stats)
			suite.Stats.PassRate = passRate(suite.Stats)
		}
		project.Status = determineStatus(project.Stats)
		project.Stats.PassRate = passRate(project.Stats)
	}

	report.Stats.PassRate = passRate(report.Stats)
	report.PassRateText = fmt.Sprintf("%.1f", report.Stats.PassRate)
	report.HasFailures = report.Stats.Unsuccessful() > 0
	return report
}

func (rb *ReportBuilder) createScenarioItem(res *types.ExecutionResult, order int) ReportScenario {
	item := ReportScenario{
		ID:            res.ID(),
		Project:       res.Project,
		Suite:         res.Suite,
		Scenario:      res.Scenario,
		Status:        res.Status,
		FailureReason: res.FailureReason,
		ErrorKind:     res.ErrorKind,
		Duration:      res.Duration,
		Attempts:      len(res.Attempts),
		Flaky:         res.Flaky,
		ConsoleErrors: res.ConsoleErrors,
		LogPath:       rb.logPathGenerator(res),
		Order:         order,
	}
	if final := res.FinalAttempt(); final != nil {
		item.Steps = final.Steps
	}
	for _, a := range res.Artifacts {
		item.Artifacts = append(item.Artifacts, rb.artifactPathFixer(a))
	}
	return item
}

// updateStats updates statistics counters
func (rb *ReportBuilder) updateStats(stats *ReportStats, res *types.ExecutionResult) {
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

// determineStatus determines the overall status based on statistics
func determineStatus(stats ReportStats) types.TestStatus {
	if stats.Unsuccessful() > 0 {
		return types.TestStatusFail
	}
	if stats.Total > 0 && stats.Skipped == stats.Total {
		return types.TestStatusSkip
	}
	return types.TestStatusPass
}

func passRate(stats ReportStats) float64 {
	executed := stats.Total - stats.Skipped
	if executed <= 0 {
		return 0
	}
	return float64(stats.Passed) / float64(executed) * 100
}
