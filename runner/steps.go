package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/expect"
	"github.com/ethereum-optimism/infra/op-pagecheck/metrics"
	"github.com/ethereum-optimism/infra/op-pagecheck/poll"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// stepRunner executes the steps of one attempt against one page.
type stepRunner struct {
	page      browser.Page
	config    *types.RunConfig
	log       log.Logger
	tracer    trace.Tracer
	artifacts *artifactWriter
	intervals []time.Duration

	results  []types.StepResult
	inspects int
}

// run executes steps in order. After the first failure the remaining steps
// are recorded as skipped and the failure is returned.
func (s *stepRunner) run(ctx context.Context, steps []types.Step, depth int) error {
	for i, step := range steps {
		if err := s.runStep(ctx, i, step, depth); err != nil {
			for j := i + 1; j < len(steps); j++ {
				s.results = append(s.results, types.StepResult{
					Index:  j,
					Name:   steps[j].Describe(),
					Status: types.TestStatusSkip,
					Depth:  depth,
				})
			}
			return err
		}
	}
	return nil
}

func (s *stepRunner) runStep(ctx context.Context, index int, step types.Step, depth int) error {
	kind := step.Kind()
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("step %s", kind),
		trace.WithAttributes(attribute.Int("index", index), attribute.Int("depth", depth)))
	defer span.End()

	slot := len(s.results)
	s.results = append(s.results, types.StepResult{
		Index:     index,
		Name:      step.Describe(),
		Status:    types.TestStatusPass,
		StartedAt: time.Now(),
		Depth:     depth,
	})
	s.log.Debug("Running step", "index", index, "step", step.Describe())

	err := s.exec(ctx, step, depth)

	res := &s.results[slot]
	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		res.Status = types.StatusForError(err)
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.ClassifyError(err)))
	}
	metrics.RecordStep(kind, res.Status, res.Duration)
	if err != nil {
		return fmt.Errorf("step %d (%s): %w", index+1, step.Describe(), err)
	}
	return nil
}

func (s *stepRunner) exec(ctx context.Context, step types.Step, depth int) error {
	expectTimeout := s.config.Expect.Timeout
	switch {
	case step.Goto != "":
		return s.navigate(ctx, step.Goto)

	case step.WaitForLoadState != "":
		return expect.WaitForLoadState(ctx, s.page, step.WaitForLoadState, s.config.NavigationTimeoutOr(expectTimeout))

	case step.WaitFor != nil:
		loc, err := browser.Locate(s.page, step.WaitFor.Locator)
		if err != nil {
			return err
		}
		timeout := expectTimeout
		if step.WaitFor.Timeout > 0 {
			timeout = step.WaitFor.Timeout
		}
		return expect.WaitForElement(ctx, loc, step.WaitFor.State, timeout)

	case step.WaitForTimeout > 0:
		return poll.Sleep(ctx, step.WaitForTimeout)

	case step.SetViewport != nil:
		return s.page.SetViewport(ctx, *step.SetViewport)

	case step.Hover != "":
		return s.act(ctx, step.Hover, browser.Locator.Hover)

	case step.Click != "":
		return s.act(ctx, step.Click, browser.Locator.Click)

	case step.Scroll != nil:
		interval := step.Scroll.Interval
		if interval <= 0 {
			interval = DefaultScrollInterval
		}
		return s.page.Scroll(ctx, step.Scroll.Distance, interval)

	case step.Expect != nil:
		return expect.Assert(ctx, s.page, step.Expect, expect.Options{
			Timeout:   expectTimeout,
			BaseURL:   s.config.Use.BaseURL,
			Intervals: s.intervals,
		})

	case step.Screenshot != nil:
		return s.screenshot(ctx, step.Screenshot)

	case step.Inspect != nil:
		return s.inspect(ctx, step.Inspect)

	case step.Each != nil:
		return s.each(ctx, step.Each, depth)

	case step.Log != "":
		s.log.Info(step.Log)
		return nil
	}
	return fmt.Errorf("step has no action")
}

// navigate loads url, bounded by the navigation timeout.
func (s *stepRunner) navigate(ctx context.Context, url string) error {
	timeout := s.config.NavigationTimeoutOr(s.config.Timeout)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := s.page.Goto(ctx, url)
	if err != nil {
		return &types.NavigationError{URL: url, Err: err}
	}
	if resp != nil && resp.Status >= 400 {
		s.log.Warn("Navigation returned an error status", "url", resp.URL, "status", resp.Status)
	}
	return nil
}

// act waits for the element to become visible, then performs the action.
func (s *stepRunner) act(ctx context.Context, raw string, action func(browser.Locator, context.Context) error) error {
	loc, err := browser.Locate(s.page, raw)
	if err != nil {
		return err
	}
	timeout := s.config.ActionTimeoutOr(s.config.Expect.Timeout)
	if err := expect.WaitForElement(ctx, loc, types.StateVisible, timeout); err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return action(loc, ctx)
}

func (s *stepRunner) screenshot(ctx context.Context, step *types.ScreenshotStep) error {
	var (
		capture *browser.Capture
		err     error
	)
	if step.Locator != "" {
		loc, lerr := browser.Locate(s.page, step.Locator)
		if lerr != nil {
			return lerr
		}
		capture, err = loc.Screenshot(ctx)
	} else {
		capture, err = s.page.Screenshot(ctx, nil, step.FullPage)
	}
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	path, err := s.artifacts.write(withExtension(step.Path, capture.Extension), capture.Data)
	if err != nil {
		return err
	}
	s.log.Info("Saved screenshot", "path", path)
	return nil
}

func (s *stepRunner) inspect(ctx context.Context, step *types.InspectStep) error {
	title, _ := s.page.Title(ctx)
	url, _ := s.page.URL(ctx)
	fields := []any{"title", title, "url", url}

	if step.Locator != "" {
		loc, err := browser.Locate(s.page, step.Locator)
		if err != nil {
			return err
		}
		count, err := loc.Count(ctx)
		if err != nil {
			return err
		}
		fields = append(fields, "locator", loc.String(), "count", count)
		box, err := loc.BoundingBox(ctx)
		switch {
		case err == nil:
			fields = append(fields, "box", fmt.Sprintf("%.0fx%.0f@(%.0f,%.0f)", box.Width, box.Height, box.X, box.Y))
		case errors.Is(err, browser.ErrUnsupported):
			fields = append(fields, "box", "unavailable")
		default:
			return err
		}
	}

	if step.Content {
		content, err := s.page.Content(ctx)
		if err != nil {
			return err
		}
		s.inspects++
		path, err := s.artifacts.write(fmt.Sprintf("inspect-%d.html", s.inspects), []byte(content))
		if err != nil {
			return err
		}
		fields = append(fields, "content", path, "bytes", len(content))
	}
	s.log.Info("Inspect", fields...)
	return nil
}

// each runs the nested steps once per matched element, in document order.
func (s *stepRunner) each(ctx context.Context, step *types.EachStep, depth int) error {
	loc, err := browser.Locate(s.page, step.Locator)
	if err != nil {
		return err
	}
	count, err := loc.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		s.log.Warn("each matched no elements", "locator", step.Locator)
		return nil
	}
	as := step.As
	if as == "" {
		as = DefaultEachPlaceholder
	}
	for i := 0; i < count; i++ {
		s.log.Debug("Running each iteration", "element", loc.Nth(i).String())
		vars := map[string]string{as: strconv.Itoa(i)}
		expanded := make([]types.Step, len(step.Steps))
		for j, nested := range step.Steps {
			expanded[j] = nested.Expand(vars)
		}
		if err := s.run(ctx, expanded, depth+1); err != nil {
			return fmt.Errorf("%s=%d: %w", as, i, err)
		}
	}
	return nil
}
