package pagecheck

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/runner"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// gaugeValue reads a gauge from the default registry by name and labels.
func gaugeValue(t *testing.T, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func TestDefaultMetricsReporter_ReportResults(t *testing.T) {
	runID := "reporter-" + strings.ReplaceAll(t.Name(), "/", "-")
	result := &runner.RunnerResult{
		RunID:         runID,
		Status:        types.TestStatusFail,
		WallClockTime: 1500 * time.Millisecond,
		Stats: runner.ResultStats{
			Total:    6,
			Passed:   3,
			Failed:   1,
			TimedOut: 1,
			Errored:  1,
			Flaky:    2,
		},
	}

	NewDefaultMetricsReporter().ReportResults(runID, result)

	v, ok := gaugeValue(t, "pagecheck_run_results", map[string]string{"run_id": runID, "result": "fail"})
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = gaugeValue(t, "pagecheck_run_scenarios", map[string]string{"run_id": runID, "outcome": "failed"})
	require.True(t, ok)
	assert.Equal(t, 3.0, v, "failed counts every unsuccessful scenario")

	v, ok = gaugeValue(t, "pagecheck_run_scenarios", map[string]string{"run_id": runID, "outcome": "flaky"})
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, ok = gaugeValue(t, "pagecheck_run_duration_seconds", map[string]string{"run_id": runID})
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
}
