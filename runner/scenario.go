package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/metrics"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// attemptTrace is the document written to TraceFilename.
type attemptTrace struct {
	Scenario      types.ScenarioRef   `json:"scenario"`
	Device        types.DeviceProfile `json:"device"`
	Attempt       int                 `json:"attempt"`
	Status        types.TestStatus    `json:"status"`
	FailureReason string              `json:"failureReason,omitempty"`
	Steps         []types.StepResult  `json:"steps"`
	ConsoleErrors []string            `json:"consoleErrors,omitempty"`
	Artifacts     []string            `json:"artifacts,omitempty"`
}

// RunScenario implements the TestRunner interface. The whole scenario is
// re-run up to RunConfig.Retries times, each attempt in a fresh page.
func (r *runner) RunScenario(ctx context.Context, work ScenarioWork) *types.ExecutionResult {
	ref := work.Ref()
	if work.SkipReason != "" {
		r.log.Info("Skipping scenario", "scenario", ref.ID(), "reason", work.SkipReason)
		res := types.NewSkippedResult(ref, work.Device.Name, work.SkipReason)
		metrics.RecordScenario(ref, res.Status, 0, false)
		return res
	}
	if !r.driver.Supports(work.Device.Engine) {
		return r.unsupported(work)
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("scenario %s", ref.ID()),
		trace.WithAttributes(attribute.String("project", ref.Project), attribute.String("suite", ref.Suite)))
	defer span.End()

	metrics.ScenarioStarted()
	defer metrics.ScenarioFinished()

	r.log.Info("Running scenario", "scenario", ref.ID(), "device", work.Device.Name)
	start := time.Now()
	var (
		attempts []types.AttemptResult
		lastErr  error
	)
	for attempt := 0; attempt <= r.config.Retries; attempt++ {
		a, err := r.runAttempt(ctx, work, attempt)
		attempts = append(attempts, a)
		lastErr = err
		metrics.RecordAttempt(ref.Project, a.Status)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			r.log.Warn("Run cancelled, not retrying", "scenario", ref.ID())
			break
		}
		if attempt < r.config.Retries {
			r.log.Warn("Scenario attempt failed, retrying", "scenario", ref.ID(),
				"attempt", attempt, "status", a.Status, "error", a.FailureReason)
		}
	}

	res := types.NewExecutionResult(ref, work.Device.Name, start, attempts, lastErr)
	metrics.RecordScenario(ref, res.Status, res.Duration, res.Flaky)
	if res.Status != types.TestStatusPass {
		span.SetStatus(codes.Error, string(res.Status))
	}
	r.log.Info("Scenario finished", "scenario", ref.ID(), "status", res.Status,
		"attempts", len(attempts), "flaky", res.Flaky, "duration", res.Duration)
	return res
}

// unsupported reports work whose engine the driver cannot run.
func (r *runner) unsupported(work ScenarioWork) *types.ExecutionResult {
	ref := work.Ref()
	reason := fmt.Sprintf("engine %s is not supported by the %s driver", work.Device.Engine, r.driver.Name())
	if r.allowSkips {
		r.log.Warn("Skipping scenario", "scenario", ref.ID(), "reason", reason)
		res := types.NewSkippedResult(ref, work.Device.Name, reason)
		metrics.RecordScenario(ref, res.Status, 0, false)
		return res
	}
	r.log.Error("Cannot run scenario", "scenario", ref.ID(), "reason", reason)
	res := types.NewSkippedResult(ref, work.Device.Name, reason)
	res.Status = types.TestStatusError
	res.ErrorKind = types.KindConfiguration
	res.Error = errors.New(reason)
	metrics.RecordScenario(ref, res.Status, 0, false)
	return res
}

// runAttempt executes one attempt. Panics in drivers or steps become attempt
// failures instead of taking down the worker.
func (r *runner) runAttempt(ctx context.Context, work ScenarioWork, attempt int) (a types.AttemptResult, err error) {
	started := time.Now()
	a.Attempt = attempt
	ref := work.Ref()
	logger := r.log.New("scenario", ref.ID(), "attempt", attempt)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Panic in scenario attempt", "error", rec)
			err = fmt.Errorf("runtime error: %v", rec)
		}
		a.Duration = time.Since(started)
		a.Status = types.StatusForError(err)
		a.ErrorKind = types.ClassifyError(err)
		if err != nil {
			a.FailureReason = err.Error()
		}
	}()

	dir, err := r.attemptDir(work, attempt)
	if err != nil {
		return a, err
	}
	a.ArtifactDir = dir
	artifacts := newArtifactWriter(dir, logger)

	timeout := work.Scenario.Timeout
	if timeout <= 0 {
		timeout = r.config.Timeout
	}
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	page, err := r.driver.NewPage(attemptCtx, browser.PageOptions{
		BaseURL: r.config.Use.BaseURL,
		Device:  work.Device,
		Log:     logger,
	})
	if err != nil {
		return a, fmt.Errorf("failed to open page: %w", err)
	}

	steps := &stepRunner{
		page:      page,
		config:    r.config,
		log:       logger,
		tracer:    r.tracer,
		artifacts: artifacts,
		intervals: r.intervals,
	}
	// Steps run in a closure so a panic still leaves the page to be finalized.
	err = func() (stepErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Panic in scenario step", "error", rec)
				stepErr = fmt.Errorf("runtime error: %v", rec)
			}
		}()
		return steps.run(attemptCtx, work.Scenario.Steps, 0)
	}()
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = &types.TimeoutError{Op: fmt.Sprintf("scenario %q", work.Scenario.Name), Timeout: timeout, Err: err}
	}

	a.Steps = steps.results
	a.ConsoleErrors = page.ConsoleErrors()
	if len(a.ConsoleErrors) > 0 {
		logger.Warn("Page reported script errors", "count", len(a.ConsoleErrors))
	}
	failed := types.StatusForError(err).Failed()
	r.finalizeAttempt(ctx, page, artifacts, work, attempt, failed, err, &a)
	if closeErr := page.Close(); closeErr != nil {
		logger.Warn("Failed to close page", "error", closeErr)
	}
	a.Artifacts = artifacts.paths
	return a, err
}

// finalizeAttempt takes the final screenshot and writes the trace, outside the
// attempt deadline so that timed-out attempts keep their diagnostics.
func (r *runner) finalizeAttempt(ctx context.Context, page browser.Page, artifacts *artifactWriter, work ScenarioWork,
	attempt int, failed bool, attemptErr error, a *types.AttemptResult) {
	captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FinalCaptureTimeout)
	defer cancel()

	mode := r.config.Use.Screenshot
	if mode == types.ScreenshotOn || (mode == types.ScreenshotOnlyOnFailure && failed) {
		capture, err := page.Screenshot(captureCtx, nil, true)
		if err != nil {
			artifacts.log.Warn("Failed to take final screenshot", "error", err)
		} else if _, err := artifacts.write(FinalScreenshotName+capture.Extension, capture.Data); err != nil {
			artifacts.log.Warn("Failed to save final screenshot", "error", err)
		}
	}

	if !r.shouldTrace(attempt, failed) {
		return
	}
	doc := attemptTrace{
		Scenario:      work.Ref(),
		Device:        work.Device,
		Attempt:       attempt,
		Status:        types.StatusForError(attemptErr),
		Steps:         a.Steps,
		ConsoleErrors: a.ConsoleErrors,
		Artifacts:     artifacts.paths,
	}
	if attemptErr != nil {
		doc.FailureReason = attemptErr.Error()
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		artifacts.log.Warn("Failed to encode trace", "error", err)
		return
	}
	if _, err := artifacts.write(TraceFilename, data); err != nil {
		artifacts.log.Warn("Failed to save trace", "error", err)
	}
}

func (r *runner) shouldTrace(attempt int, failed bool) bool {
	switch r.config.Use.Trace {
	case types.TraceOn:
		return true
	case types.TraceRetainOnFailure:
		return failed
	case types.TraceOnFirstRetry:
		return attempt == 1
	}
	return false
}
