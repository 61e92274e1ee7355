package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("RecordError panic'd")
		}
	}()

	RecordError("test_error")
	RecordErrorDetails("label", errors.New("boom"))
	RecordErrorDetails("label", nil)
}

func TestRecordScenario(t *testing.T) {
	ref := types.ScenarioRef{Project: "chromium", Suite: "home", Scenario: "has title"}
	before := value(t, scenariosTotal.WithLabelValues("chromium", "home", "has title", "pass"))
	flakyBefore := value(t, flakyTotal.WithLabelValues("chromium"))

	RecordScenario(ref, types.TestStatusPass, time.Second, true)
	RecordScenario(ref, types.TestStatus("bogus"), time.Second, false)

	assert.Equal(t, before+1, value(t, scenariosTotal.WithLabelValues("chromium", "home", "has title", "pass")))
	assert.Equal(t, flakyBefore+1, value(t, flakyTotal.WithLabelValues("chromium")))
}

func TestInFlight(t *testing.T) {
	start := value(t, scenariosInFlight)
	ScenarioStarted()
	ScenarioStarted()
	ScenarioFinished()
	assert.Equal(t, start+1, value(t, scenariosInFlight))
	ScenarioFinished()
}

func TestRecordRun(t *testing.T) {
	RecordRun("run-1", types.TestStatusFail, 4, 2, 1, 1, 3*time.Second)
	assert.Equal(t, 1.0, value(t, runResults.WithLabelValues("run-1", "fail")))
	assert.Equal(t, 4.0, value(t, runScenarioCounts.WithLabelValues("run-1", "total")))
	assert.Equal(t, 3.0, value(t, runDuration.WithLabelValues("run-1")))
}

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	}
	t.Fatalf("unsupported metric %v", m.Desc())
	return 0
}
