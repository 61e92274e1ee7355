// Package expect implements web-first assertions: a value is read from the
// page again and again until it matches or the assertion timeout expires.
package expect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/poll"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// Options tunes one assertion.
type Options struct {
	Timeout   time.Duration
	BaseURL   string          // resolves relative toHaveURL expectations
	Intervals []time.Duration // defaults to poll.DefaultIntervals
}

// observation is one read of the asserted value.
type observation struct {
	actual string
	raw    string // unnormalized text, used for diffs
	match  bool
}

type reader func(ctx context.Context) (observation, error)

// Assert evaluates an expectation against page. It returns a
// *types.AssertionError when the expectation does not hold within the
// timeout, or the context error when ctx ends first.
func Assert(ctx context.Context, page browser.Page, e *types.ExpectStep, opts Options) error {
	matcher := e.Matcher()
	if matcher == "" {
		return errors.New("expectation must set exactly one matcher")
	}
	var loc browser.Locator
	if e.Locator != "" {
		var err error
		if loc, err = browser.Locate(page, e.Locator); err != nil {
			return err
		}
	}
	expected, read, err := build(page, loc, e, opts)
	if err != nil {
		return err
	}
	timeout := opts.Timeout
	if e.Timeout > 0 {
		timeout = e.Timeout
	}

	var (
		last    observation
		lastErr error
		seen    bool
	)
	cond := func(ctx context.Context) (bool, error) {
		obs, err := read(ctx)
		if err != nil {
			lastErr = err
			return false, err
		}
		last, lastErr, seen = obs, nil, true
		return obs.match != e.Not, nil
	}

	// Console errors only accumulate, so waiting cannot make a positive check pass.
	if e.NoConsoleErrors && !e.Not {
		ok, _ := cond(ctx)
		if ok {
			return nil
		}
		return &types.AssertionError{
			Matcher:  matcher,
			Expected: expected,
			Actual:   last.actual,
			Err:      &types.UnhandledScriptError{Messages: page.ConsoleErrors()},
		}
	}

	err = poll.Until(ctx, poll.Options{Op: e.Describe(), Timeout: timeout, Intervals: opts.Intervals}, cond)
	if err == nil {
		return nil
	}
	var timeoutErr *types.TimeoutError
	if !errors.As(err, &timeoutErr) || ctx.Err() != nil {
		return err
	}
	actual := last.actual
	if !seen {
		actual = "<unresolved>"
	}
	assertErr := &types.AssertionError{
		Matcher:  matcher,
		Locator:  e.Locator,
		Expected: expected,
		Actual:   actual,
		Negated:  e.Not,
		Timeout:  timeout,
		Err:      lastErr,
	}
	if seen && !e.Not && e.Text != nil {
		assertErr.Diff = UnifiedDiff(*e.Text, last.raw)
	}
	return assertErr
}

// build returns the rendered expectation and the reader that fetches the actual
// value. Page level matchers read page, element matchers read loc.
func build(page browser.Page, loc browser.Locator, e *types.ExpectStep, opts Options) (string, reader, error) {
	switch {
	case e.Title != nil:
		want := *e.Title
		return strconv.Quote(want), func(ctx context.Context) (observation, error) {
			title, err := page.Title(ctx)
			return observation{actual: strconv.Quote(title), match: MatchExact(title, want)}, err
		}, nil

	case e.URL != nil:
		want, err := resolveURL(opts.BaseURL, *e.URL)
		if err != nil {
			return "", nil, err
		}
		return strconv.Quote(want), func(ctx context.Context) (observation, error) {
			got, err := page.URL(ctx)
			return observation{actual: strconv.Quote(got), match: MatchExact(got, want)}, err
		}, nil

	case e.Text != nil:
		want := *e.Text
		return strconv.Quote(NormalizeWhitespace(want)), func(ctx context.Context) (observation, error) {
			text, err := loc.Text(ctx)
			return observation{actual: strconv.Quote(NormalizeWhitespace(text)), raw: text, match: MatchText(text, want)}, err
		}, nil

	case e.ContainsText != nil:
		want := *e.ContainsText
		return fmt.Sprintf("text containing %q", want), func(ctx context.Context) (observation, error) {
			text, err := loc.Text(ctx)
			return observation{actual: strconv.Quote(NormalizeWhitespace(text)), match: MatchContains(text, want)}, err
		}, nil

	case e.Count != nil:
		want := *e.Count
		return strconv.Itoa(want), func(ctx context.Context) (observation, error) {
			n, err := loc.Count(ctx)
			return observation{actual: strconv.Itoa(n), match: MatchCount(n, want)}, err
		}, nil

	case e.Visible != nil:
		want := *e.Visible
		return visibility(want), func(ctx context.Context) (observation, error) {
			v, err := loc.Visible(ctx)
			return observation{actual: visibility(v), match: v == want}, err
		}, nil

	case e.Attribute != nil:
		name, want := e.Attribute.Name, e.Attribute.Value
		return fmt.Sprintf("%s=%q", name, want), func(ctx context.Context) (observation, error) {
			v, ok, err := loc.Attribute(ctx, name)
			if !ok {
				return observation{actual: fmt.Sprintf("%s absent", name)}, err
			}
			return observation{actual: fmt.Sprintf("%s=%q", name, v), match: MatchExact(v, want)}, err
		}, nil

	case e.CSS != nil:
		c := e.CSS
		expected := ""
		if c.Value != nil {
			expected = fmt.Sprintf("%s: %q", c.Property, *c.Value)
		} else {
			expected = fmt.Sprintf("%s containing %q", c.Property, *c.Contains)
		}
		return expected, func(ctx context.Context) (observation, error) {
			v, err := loc.ComputedStyle(ctx, c.Property)
			return observation{actual: fmt.Sprintf("%s: %q", c.Property, v), match: MatchCSS(v, c)}, err
		}, nil

	case e.NoConsoleErrors:
		return "no console errors", func(ctx context.Context) (observation, error) {
			errs := page.ConsoleErrors()
			if len(errs) == 0 {
				return observation{actual: "no console errors", match: true}, nil
			}
			return observation{actual: fmt.Sprintf("%d console error(s): %s", len(errs), strings.Join(errs, "; "))}, nil
		}, nil
	}
	return "", nil, errors.New("expectation must set exactly one matcher")
}

func visibility(v bool) string {
	if v {
		return "visible"
	}
	return "hidden"
}

func resolveURL(base, want string) (string, error) {
	ref, err := url.Parse(want)
	if err != nil {
		return "", fmt.Errorf("invalid url expectation %q: %w", want, err)
	}
	if ref.IsAbs() || base == "" {
		return want, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	return b.ResolveReference(ref).String(), nil
}
