package pagecheck

import (
	"github.com/ethereum-optimism/infra/op-pagecheck/metrics"
	"github.com/ethereum-optimism/infra/op-pagecheck/runner"
)

// MetricsReporter is responsible for reporting metrics from test results.
type MetricsReporter interface {
	ReportResults(runID string, result *runner.RunnerResult)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct{}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

// ReportResults reports the run outcome to Prometheus.
func (r *DefaultMetricsReporter) ReportResults(runID string, result *runner.RunnerResult) {
	metrics.RecordRun(
		runID,
		result.Status,
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Unsuccessful(),
		result.Stats.Flaky,
		result.WallClockTime,
	)
}
