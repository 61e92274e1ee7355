package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

const (
	MetricsNamespace = "pagecheck"
)

var (
	Debug                bool = true
	validResults              = types.AllStatuses
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	scenariosTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "scenarios_total",
		Help:      "Count of finished scenarios by terminal status",
	}, []string{
		"project",
		"suite",
		"scenario",
		"result",
	})

	scenarioDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "scenario_duration_seconds",
		Help:      "Duration of scenarios summed over all attempts",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{
		"project",
		"result",
	})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "attempts_total",
		Help:      "Count of scenario attempts, including retries",
	}, []string{
		"project",
		"result",
	})

	flakyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "flaky_total",
		Help:      "Count of scenarios that passed only after a retry",
	}, []string{
		"project",
	})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "step_duration_seconds",
		Help:      "Duration of individual scenario steps",
		Buckets:   prometheus.DefBuckets,
	}, []string{
		"kind",
		"result",
	})

	scenariosInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "scenarios_in_flight",
		Help:      "Number of scenarios currently executing",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of a test run",
	}, []string{
		"run_id",
		"result",
	})

	runScenarioCounts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_scenarios",
		Help:      "Scenario counts of a test run by outcome",
	}, []string{
		"run_id",
		"outcome",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of a test run",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordScenario records the terminal result of a scenario on one project.
func RecordScenario(ref types.ScenarioRef, result types.TestStatus, duration time.Duration, flaky bool) {
	if !isValidResult(result) {
		log.Error("RecordScenario - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "scenarios_total",
			"project", ref.Project,
			"suite", ref.Suite,
			"scenario", ref.Scenario,
			"result", result)
	}
	scenariosTotal.WithLabelValues(ref.Project, ref.Suite, ref.Scenario, string(result)).Inc()
	scenarioDuration.WithLabelValues(ref.Project, string(result)).Observe(duration.Seconds())
	if flaky {
		flakyTotal.WithLabelValues(ref.Project).Inc()
	}
}

// RecordAttempt records a single execution of a scenario.
func RecordAttempt(project string, result types.TestStatus) {
	if !isValidResult(result) {
		log.Error("RecordAttempt - invalid result", "result", result)
		return
	}
	attemptsTotal.WithLabelValues(project, string(result)).Inc()
}

// RecordStep records the duration of one step.
func RecordStep(kind string, result types.TestStatus, duration time.Duration) {
	stepDuration.WithLabelValues(kind, string(result)).Observe(duration.Seconds())
}

// ScenarioStarted and ScenarioFinished track the number of executing scenarios.
func ScenarioStarted() {
	scenariosInFlight.Inc()
}

func ScenarioFinished() {
	scenariosInFlight.Dec()
}

// RecordRun records the outcome of a whole run.
func RecordRun(
	runID string,
	result types.TestStatus,
	total int,
	passed int,
	failed int,
	flaky int,
	duration time.Duration,
) {
	runResults.WithLabelValues(runID, string(result)).Set(1)
	runScenarioCounts.WithLabelValues(runID, "total").Set(float64(total))
	runScenarioCounts.WithLabelValues(runID, "passed").Set(float64(passed))
	runScenarioCounts.WithLabelValues(runID, "failed").Set(float64(failed))
	runScenarioCounts.WithLabelValues(runID, "flaky").Set(float64(flaky))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
