package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// Flake-shake report recommendations.
const (
	RecommendationStable   = "STABLE"
	RecommendationUnstable = "UNSTABLE"
)

// FlakeShakeResult represents aggregated results for a scenario across multiple runs
type FlakeShakeResult struct {
	ID             string        `json:"id"`
	Project        string        `json:"project"`
	Suite          string        `json:"suite"`
	Scenario       string        `json:"scenario"`
	TotalRuns      int           `json:"total_runs"`
	Passes         int           `json:"passes"`
	Failures       int           `json:"failures"`
	Flaky          int           `json:"flaky"` // passes that needed a retry
	Skipped        int           `json:"skipped"`
	PassRate       float64       `json:"pass_rate"`
	AvgDuration    time.Duration `json:"avg_duration"`
	MinDuration    time.Duration `json:"min_duration"`
	MaxDuration    time.Duration `json:"max_duration"`
	FailureLogs    []string      `json:"failure_logs,omitempty"`
	Recommendation string        `json:"recommendation"`
}

// FlakeShakeReport contains the complete flake-shake analysis
type FlakeShakeReport struct {
	Date        string             `json:"date"`
	TotalRuns   int                `json:"total_runs"`
	Iterations  int                `json:"iterations"`
	Scenarios   []FlakeShakeResult `json:"scenarios"`
	GeneratedAt time.Time          `json:"generated_at"`
	RunID       string             `json:"run_id"`
}

// Unstable returns the scenarios that did not pass on every iteration.
func (r *FlakeShakeReport) Unstable() []FlakeShakeResult {
	var out []FlakeShakeResult
	for _, s := range r.Scenarios {
		if s.Recommendation == RecommendationUnstable {
			out = append(out, s)
		}
	}
	return out
}

// FlakeShakeRunner wraps a TestRunner to provide flake-shake functionality
type FlakeShakeRunner struct {
	baseRunner TestRunner
	iterations int
	log        log.Logger
}

// NewFlakeShakeRunner creates a new flake-shake runner
func NewFlakeShakeRunner(baseRunner TestRunner, iterations int, log log.Logger) *FlakeShakeRunner {
	return &FlakeShakeRunner{
		baseRunner: baseRunner,
		iterations: iterations,
		log:        log,
	}
}

// RunFlakeShake runs every selected scenario iterations times and generates a stability report
func (f *FlakeShakeRunner) RunFlakeShake(ctx context.Context, runID string) (*FlakeShakeReport, error) {
	f.log.Info("Starting flake-shake analysis", "iterations", f.iterations)

	results := make(map[string][]*types.ExecutionResult)
	completed := 0
	for i := 1; i <= f.iterations; i++ {
		if ctx.Err() != nil {
			break
		}
		f.log.Info("Running iteration", "iteration", i, "total", f.iterations)

		runResult, err := f.baseRunner.RunAllTests(ctx)
		if err != nil {
			if types.IsConfigurationError(err) || errors.Is(err, ErrNoScenarios) {
				return nil, err
			}
			f.log.Error("Failed to run scenarios", "iteration", i, "error", err)
			continue
		}
		if runResult.Interrupted {
			break
		}
		completed++
		for _, res := range runResult.Results {
			results[res.ID()] = append(results[res.ID()], res)
		}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w after %d of %d iterations: %w", ErrRunInterrupted, completed, f.iterations, context.Cause(ctx))
	}
	if completed == 0 {
		return nil, fmt.Errorf("no flake-shake iteration completed")
	}

	report := f.generateReport(results)
	report.RunID = runID
	return report, nil
}

// generateReport creates a FlakeShakeReport from aggregated scenario results
func (f *FlakeShakeRunner) generateReport(results map[string][]*types.ExecutionResult) *FlakeShakeReport {
	report := &FlakeShakeReport{
		Date:        time.Now().Format("2006-01-02"),
		Iterations:  f.iterations,
		GeneratedAt: time.Now(),
	}

	for id, runs := range results {
		if len(runs) == 0 {
			continue
		}
		ref := runs[0].ScenarioRef
		result := FlakeShakeResult{
			ID:          id,
			Project:     ref.Project,
			Suite:       ref.Suite,
			Scenario:    ref.Scenario,
			TotalRuns:   len(runs),
			MinDuration: time.Hour,
		}

		var totalDuration time.Duration
		for _, res := range runs {
			switch {
			case res.Status == types.TestStatusPass:
				result.Passes++
				if res.Flaky {
					result.Flaky++
				}
			case res.Status == types.TestStatusSkip:
				result.Skipped++
			default:
				result.Failures++
				if len(result.FailureLogs) < 5 {
					result.FailureLogs = append(result.FailureLogs, res.FailureReason)
				}
			}

			totalDuration += res.Duration
			result.MinDuration = min(result.MinDuration, res.Duration)
			result.MaxDuration = max(result.MaxDuration, res.Duration)
		}

		result.AvgDuration = totalDuration / time.Duration(result.TotalRuns)
		result.PassRate = float64(result.Passes) / float64(result.TotalRuns) * 100

		// A pass that needed a retry is still a sign of instability.
		if result.PassRate == 100 && result.Flaky == 0 {
			result.Recommendation = RecommendationStable
		} else {
			result.Recommendation = RecommendationUnstable
		}

		report.Scenarios = append(report.Scenarios, result)
		report.TotalRuns += result.TotalRuns
	}

	sort.Slice(report.Scenarios, func(i, j int) bool {
		return report.Scenarios[i].ID < report.Scenarios[j].ID
	})
	return report
}

// SaveFlakeShakeReport saves the report in both JSON and HTML formats
func SaveFlakeShakeReport(report *FlakeShakeReport, outputDir string) ([]string, error) {
	var savedFiles []string
	var errorsList []error

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	jsonFilename := filepath.Join(outputDir, "flake-shake-report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		errorsList = append(errorsList, fmt.Errorf("failed to marshal JSON: %w", err))
	} else if err := os.WriteFile(jsonFilename, data, 0644); err != nil {
		errorsList = append(errorsList, fmt.Errorf("failed to write JSON file: %w", err))
	} else {
		savedFiles = append(savedFiles, jsonFilename)
	}

	htmlFilename := filepath.Join(outputDir, "flake-shake-report.html")
	if err := saveHTMLReport(report, htmlFilename); err != nil {
		errorsList = append(errorsList, fmt.Errorf("failed to save HTML report: %w", err))
	} else {
		savedFiles = append(savedFiles, htmlFilename)
	}

	if len(errorsList) > 0 {
		return savedFiles, fmt.Errorf("failed to save some report formats: %w", errors.Join(errorsList...))
	}
	return savedFiles, nil
}

const flakeShakeHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Flake-Shake Report - {{.Date}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .summary { background: #f5f5f5; padding: 15px; border-radius: 5px; margin: 20px 0; }
        table { border-collapse: collapse; width: 100%; }
        th, td { border: 1px solid #ddd; padding: 12px; text-align: left; }
        th { background: #4CAF50; color: white; }
        .recommendation-STABLE { color: #4CAF50; font-weight: bold; }
        .recommendation-UNSTABLE { color: #f44336; font-weight: bold; }
        summary { cursor: pointer; padding: 5px; background: #f0f0f0; }
        .failure-log { background: #ffebee; padding: 10px; margin: 5px 0; font-family: monospace; font-size: 12px; white-space: pre-wrap; }
    </style>
</head>
<body>
    <h1>Flake-Shake Report</h1>
    <div class="summary">
        <p><strong>Date:</strong> {{.Date}}</p>
        <p><strong>Iterations:</strong> {{.Iterations}}</p>
        <p><strong>Run ID:</strong> {{.RunID}}</p>
    </div>
    <table>
        <tr>
            <th>Project</th>
            <th>Suite</th>
            <th>Scenario</th>
            <th>Runs</th>
            <th>Pass Rate</th>
            <th>Passed on retry</th>
            <th>Avg Duration</th>
            <th>Recommendation</th>
            <th>Details</th>
        </tr>
        {{range .Scenarios}}
        <tr>
            <td>{{.Project}}</td>
            <td>{{.Suite}}</td>
            <td>{{.Scenario}}</td>
            <td>{{.TotalRuns}}</td>
            <td>{{printf "%.1f" .PassRate}}%</td>
            <td>{{.Flaky}}</td>
            <td>{{.AvgDuration}}</td>
            <td class="recommendation-{{.Recommendation}}">{{.Recommendation}}</td>
            <td>
                {{if gt .Failures 0}}
                <details>
                    <summary>{{.Failures}} failure(s)</summary>
                    {{range .FailureLogs}}<div class="failure-log">{{.}}</div>{{end}}
                </details>
                {{else}}
                <span style="color: #4CAF50;">✓ All passed</span>
                {{end}}
            </td>
        </tr>
        {{end}}
    </table>
</body>
</html>`

func saveHTMLReport(report *FlakeShakeReport, filename string) error {
	tmpl, err := template.New("report").Parse(flakeShakeHTML)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return tmpl.Execute(file, report)
}
