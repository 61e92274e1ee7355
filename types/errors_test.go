package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   ErrorKind
		status TestStatus
	}{
		{"nil", nil, KindNone, TestStatusPass},
		{"config", NewConfigurationError("pagecheck.yaml", "workers", "must not be negative"), KindConfiguration, TestStatusFail},
		{"navigation", &NavigationError{URL: "http://x", Err: errors.New("refused")}, KindNavigation, TestStatusFail},
		{"navigation past deadline", &NavigationError{URL: "http://x", Err: context.DeadlineExceeded}, KindNavigation, TestStatusTimeout},
		{"timeout", &TimeoutError{Op: "waitFor", Timeout: time.Second}, KindTimeout, TestStatusTimeout},
		{"wrapped timeout", fmt.Errorf("step 2: %w", &TimeoutError{Op: "waitFor"}), KindTimeout, TestStatusTimeout},
		{"assertion", &AssertionError{Matcher: "toHaveText", Err: &TimeoutError{Op: "expect"}}, KindAssertion, TestStatusFail},
		{"script", &UnhandledScriptError{Messages: []string{"boom"}}, KindUnhandledScript, TestStatusFail},
		{"deadline", context.DeadlineExceeded, KindTimeout, TestStatusTimeout},
		{"other", errors.New("boom"), KindInternal, TestStatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, ClassifyError(tt.err))
			assert.Equal(t, tt.status, StatusForError(tt.err))
		})
	}
}

func TestAssertionErrorMessage(t *testing.T) {
	err := &AssertionError{
		Matcher:  "toHaveText",
		Locator:  "a.cta-secondary",
		Expected: `"ホームに戻る"`,
		Actual:   `"戻る"`,
		Timeout:  5 * time.Second,
	}
	msg := err.Error()
	assert.Contains(t, msg, `locator("a.cta-secondary").toHaveText`)
	assert.Contains(t, msg, `expected: "ホームに戻る"`)
	assert.Contains(t, msg, `actual:   "戻る"`)
	assert.Contains(t, msg, "waited:   5s")
}

func TestTimeoutErrorHidesDeadline(t *testing.T) {
	err := &TimeoutError{Op: "waitForLoadState networkidle", Timeout: 5 * time.Second, Err: context.DeadlineExceeded}
	assert.Equal(t, "waitForLoadState networkidle: timeout 5s exceeded", err.Error())
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := NewConfigurationError("pagecheck.yaml", "projects[0].device", "unknown device %q", "Nokia")
	assert.Equal(t, `configuration error in pagecheck.yaml (projects[0].device): unknown device "Nokia"`, err.Error())
	assert.True(t, IsConfigurationError(fmt.Errorf("wrapped: %w", err)))
}
