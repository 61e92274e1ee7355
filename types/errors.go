package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind names a class in the failure taxonomy.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindConfiguration   ErrorKind = "configuration"
	KindNavigation      ErrorKind = "navigation"
	KindTimeout         ErrorKind = "timeout"
	KindAssertion       ErrorKind = "assertion"
	KindUnhandledScript ErrorKind = "unhandled_script"
	KindInternal        ErrorKind = "internal"
)

// ConfigurationError is a malformed or unsatisfiable run configuration.
// It is fatal and is always raised before any scenario runs.
type ConfigurationError struct {
	Source string // file or flag the problem came from
	Field  string
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Source != "" {
		fmt.Fprintf(&b, " in %s", e.Source)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a ConfigurationError for a single field.
func NewConfigurationError(source, field string, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Source: source, Field: field, Err: fmt.Errorf(format, args...)}
}

// NavigationError is returned when a page load does not produce a response.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a wait condition did not hold before its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error // last observed error, if any
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s: timeout %s exceeded", e.Op, e.Timeout)
	if e.Err != nil && !errors.Is(e.Err, context.DeadlineExceeded) {
		msg += fmt.Sprintf(" (last error: %v)", e.Err)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// AssertionError carries the expected and actual values of a failed expectation.
type AssertionError struct {
	Matcher  string
	Locator  string
	Expected string
	Actual   string
	Negated  bool
	Diff     string
	Timeout  time.Duration
	Err      error // last resolution error, if the value could not be read
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	b.WriteString("assertion failed: ")
	if e.Locator != "" {
		fmt.Fprintf(&b, "locator(%q).", e.Locator)
	} else {
		b.WriteString("page.")
	}
	if e.Negated {
		b.WriteString("not.")
	}
	b.WriteString(e.Matcher)
	fmt.Fprintf(&b, "\n  expected: %s\n  actual:   %s", e.Expected, e.Actual)
	if e.Err != nil {
		fmt.Fprintf(&b, "\n  error:    %v", e.Err)
	}
	if e.Timeout > 0 {
		fmt.Fprintf(&b, "\n  waited:   %s", e.Timeout)
	}
	if e.Diff != "" {
		b.WriteString("\n")
		b.WriteString(e.Diff)
	}
	return b.String()
}

func (e *AssertionError) Unwrap() error {
	return e.Err
}

// UnhandledScriptError collects console errors and uncaught page exceptions.
// It is diagnostic unless a scenario asserts on it.
type UnhandledScriptError struct {
	Messages []string
}

func (e *UnhandledScriptError) Error() string {
	return fmt.Sprintf("%d unhandled script error(s): %s", len(e.Messages), strings.Join(e.Messages, "; "))
}

// ClassifyError maps an error to its taxonomy class.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		cfgErr    *ConfigurationError
		navErr    *NavigationError
		timeErr   *TimeoutError
		assertErr *AssertionError
		scriptErr *UnhandledScriptError
	)
	switch {
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &assertErr):
		return KindAssertion
	case errors.As(err, &navErr):
		return KindNavigation
	case errors.As(err, &timeErr):
		return KindTimeout
	case errors.As(err, &scriptErr):
		return KindUnhandledScript
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}

// StatusForError converts a step failure into the terminal status of an attempt.
// Waits that expired and attempts that ran past the per-test deadline map to
// timeout; everything else is a plain failure.
func StatusForError(err error) TestStatus {
	if err == nil {
		return TestStatusPass
	}
	var assertErr *AssertionError
	if errors.As(err, &assertErr) {
		return TestStatusFail
	}
	var timeErr *TimeoutError
	if errors.As(err, &timeErr) || errors.Is(err, context.DeadlineExceeded) {
		return TestStatusTimeout
	}
	return TestStatusFail
}

// IsConfigurationError checks if the error is or wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return err != nil && errors.As(err, &cfgErr)
}
