package expect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/browser/static"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

func ptr[T any](v T) *T { return &v }

var fast = []time.Duration{5 * time.Millisecond}

func TestMatchers(t *testing.T) {
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"exact equal", MatchExact("Hello World - ハローワールド", "Hello World - ハローワールド"), true},
		{"exact is not normalized", MatchExact(" a", "a"), false},
		{"text normalizes whitespace", MatchText("\n   AI開発\n  ", "AI開発"), true},
		{"text collapses inner runs", MatchText("人工知能の力で\n\t世界を変える", "人工知能の力で 世界を変える"), true},
		{"text differs", MatchText("AI開発", "AI 開発"), false},
		{"contains", MatchContains("人工知能の力で世界を変える。私たち", "人工知能の力で世界を変える"), true},
		{"contains missing", MatchContains("abc", "abd"), false},
		{"count", MatchCount(3, 3), true},
		{"count mismatch", MatchCount(2, 3), false},
		{"css exact", MatchCSS("48px", &types.CSSExpect{Property: "font-size", Value: ptr("48px")}), true},
		{"css exact is strict", MatchCSS("48px", &types.CSSExpect{Property: "font-size", Value: ptr("3rem")}), false},
		{"css contains", MatchCSS("linear-gradient(135deg, rgb(1, 2, 3) 0%)", &types.CSSExpect{Property: "background-image", Contains: ptr("linear-gradient")}), true},
		{"css none", MatchCSS("none", &types.CSSExpect{Property: "background-image", Contains: ptr("linear-gradient")}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestUnifiedDiff(t *testing.T) {
	assert.Empty(t, UnifiedDiff("a", "b"))
	diff := UnifiedDiff("line one\nline two\n", "line one\nline 2\n")
	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-line two")
	assert.Contains(t, diff, "+line 2")
}

func TestAssertPasses(t *testing.T) {
	page := &fakePage{
		title:  func(int) string { return "Hello World - ハローワールド" },
		url:    "http://localhost:3000/dogs.html",
		texts:  map[string]func(int) (string, error){"a.cta-secondary": constText(" ホームに戻る ")},
		counts: map[string]func(int) int{".feature-card": constCount(3)},
		attrs:  map[string]map[string]string{"a.cta-secondary": {"href": "index.html"}},
		styles: map[string]map[string]string{"body": {"background-image": "linear-gradient(135deg, rgb(102, 126, 234) 0%, rgb(118, 75, 162) 100%)"}},
		visible: map[string]bool{
			".hero-section": true,
		},
	}
	tests := []types.ExpectStep{
		{Title: ptr("Hello World - ハローワールド")},
		{URL: ptr("/dogs.html")},
		{Locator: "a.cta-secondary", Text: ptr("ホームに戻る")},
		{Locator: "a.cta-secondary", ContainsText: ptr("ホーム")},
		{Locator: ".feature-card", Count: ptr(3)},
		{Locator: ".feature-card", Count: ptr(4), Not: true},
		{Locator: "a.cta-secondary", Attribute: &types.AttributeExpect{Name: "href", Value: "index.html"}},
		{Locator: "body", CSS: &types.CSSExpect{Property: "background-image", Contains: ptr("linear-gradient")}},
		{Locator: ".hero-section", Visible: ptr(true)},
		{Locator: ".modal", Visible: ptr(false)},
		{NoConsoleErrors: true},
	}
	for _, e := range tests {
		t.Run(e.Describe(), func(t *testing.T) {
			err := Assert(context.Background(), page, &e, Options{Timeout: time.Second, BaseURL: "http://localhost:3000", Intervals: fast})
			require.NoError(t, err)
		})
	}
}

func TestAssertRetriesUntilMatch(t *testing.T) {
	page := &fakePage{
		counts: map[string]func(int) int{".feature-card": func(reads int) int {
			return min(reads, 3)
		}},
	}
	err := Assert(context.Background(), page, &types.ExpectStep{Locator: ".feature-card", Count: ptr(3)},
		Options{Timeout: time.Second, Intervals: fast})
	require.NoError(t, err)
	assert.Equal(t, 3, page.reads)
}

func TestAssertFailureCarriesActualAndExpected(t *testing.T) {
	page := &fakePage{counts: map[string]func(int) int{".feature-card": constCount(2)}}
	timeout := 100 * time.Millisecond

	start := time.Now()
	err := Assert(context.Background(), page, &types.ExpectStep{Locator: ".feature-card", Count: ptr(3)},
		Options{Timeout: timeout, Intervals: fast})
	elapsed := time.Since(start)

	var assertErr *types.AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, "toHaveCount", assertErr.Matcher)
	assert.Equal(t, ".feature-card", assertErr.Locator)
	assert.Equal(t, "3", assertErr.Expected)
	assert.Equal(t, "2", assertErr.Actual)
	assert.Equal(t, timeout, assertErr.Timeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Equal(t, types.TestStatusFail, types.StatusForError(err))
	assert.Equal(t, types.KindAssertion, types.ClassifyError(err))
}

func TestAssertNegation(t *testing.T) {
	page := &fakePage{title: func(int) string { return "Dogs - 犬の素晴らしい世界" }}
	err := Assert(context.Background(), page, &types.ExpectStep{Title: ptr("Dogs - 犬の素晴らしい世界"), Not: true},
		Options{Timeout: 30 * time.Millisecond, Intervals: fast})
	var assertErr *types.AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.True(t, assertErr.Negated)
	assert.Contains(t, err.Error(), "page.not.toHaveTitle")
}

func TestAssertTextDiff(t *testing.T) {
	page := &fakePage{texts: map[string]func(int) (string, error){
		".hero-description": constText("first line\nsecond line"),
	}}
	err := Assert(context.Background(), page, &types.ExpectStep{Locator: ".hero-description", Text: ptr("first line\nother line")},
		Options{Timeout: 20 * time.Millisecond, Intervals: fast})
	var assertErr *types.AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Contains(t, assertErr.Diff, "-other line")
	assert.Contains(t, assertErr.Diff, "+second line")
}

func TestAssertUnresolvedLocator(t *testing.T) {
	page := &fakePage{}
	err := Assert(context.Background(), page, &types.ExpectStep{Locator: ".missing", Text: ptr("x")},
		Options{Timeout: 20 * time.Millisecond, Intervals: fast})
	var assertErr *types.AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, "<unresolved>", assertErr.Actual)
	assert.True(t, errors.Is(err, browser.ErrElementNotFound))
}

func TestAssertConsoleErrors(t *testing.T) {
	page := &fakePage{console: []string{"Uncaught TypeError: x is undefined"}}

	start := time.Now()
	err := Assert(context.Background(), page, &types.ExpectStep{NoConsoleErrors: true},
		Options{Timeout: time.Minute, Intervals: fast})
	assert.Less(t, time.Since(start), time.Second, "console errors are checked once")
	var scriptErr *types.UnhandledScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, page.console, scriptErr.Messages)
	assert.Equal(t, types.TestStatusFail, types.StatusForError(err))
}

func TestAssertStepTimeoutOverride(t *testing.T) {
	page := &fakePage{counts: map[string]func(int) int{"li": constCount(0)}}
	err := Assert(context.Background(), page, &types.ExpectStep{Locator: "li", Count: ptr(1), Timeout: 15 * time.Millisecond},
		Options{Timeout: time.Minute, Intervals: fast})
	var assertErr *types.AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, 15*time.Millisecond, assertErr.Timeout)
}

func TestAssertParentDeadlineIsTimeout(t *testing.T) {
	page := &fakePage{counts: map[string]func(int) int{"li": constCount(0)}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := Assert(ctx, page, &types.ExpectStep{Locator: "li", Count: ptr(1)},
		Options{Timeout: time.Minute, Intervals: fast})
	var assertErr *types.AssertionError
	assert.False(t, errors.As(err, &assertErr))
	assert.Equal(t, types.TestStatusTimeout, types.StatusForError(err))
}

func TestWaitForElement(t *testing.T) {
	page := &fakePage{
		counts:  map[string]func(int) int{".late": func(reads int) int { return reads / 3 }},
		visible: map[string]bool{".hero-section": true},
	}
	ctx := context.Background()
	require.NoError(t, WaitForElement(ctx, browser.NewLocator(page, browser.MustParseSelector(".late")), types.StateAttached, time.Second))
	require.NoError(t, WaitForElement(ctx, browser.NewLocator(page, browser.MustParseSelector(".hero-section")), "", time.Second))
	require.NoError(t, WaitForElement(ctx, browser.NewLocator(page, browser.MustParseSelector(".gone")), types.StateDetached, time.Second))
	require.NoError(t, WaitForElement(ctx, browser.NewLocator(page, browser.MustParseSelector(".gone")), types.StateHidden, time.Second))
}

func TestWaitForElementTimesOutAtDeadline(t *testing.T) {
	page := &fakePage{}
	timeout := 200 * time.Millisecond

	start := time.Now()
	err := WaitForElement(context.Background(), browser.NewLocator(page, browser.MustParseSelector(".never")), types.StateVisible, timeout)
	elapsed := time.Since(start)

	var timeoutErr *types.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, timeout, timeoutErr.Timeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+250*time.Millisecond)
	assert.Equal(t, types.TestStatusTimeout, types.StatusForError(err))
}

func TestWaitForLoadState(t *testing.T) {
	page := &fakePage{loaded: func(reads int) bool { return reads >= 2 }}
	require.NoError(t, WaitForLoadState(context.Background(), page, types.LoadStateNetworkIdle, time.Second))

	never := &fakePage{loaded: func(int) bool { return false }}
	err := WaitForLoadState(context.Background(), never, types.LoadStateLoad, 20*time.Millisecond)
	var timeoutErr *types.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, err.Error(), "waitForLoadState load")
}

// The documented page properties, checked end to end against the fixture site.
func TestFixtureSiteProperties(t *testing.T) {
	srv := httptest.NewServer(http.FileServer(http.Dir("../testdata/site")))
	defer srv.Close()
	drv := static.NewDriver(static.Config{Log: log.NewLogger(log.DiscardHandler())})
	defer drv.Close()

	ctx := context.Background()
	opts := Options{Timeout: time.Second, BaseURL: srv.URL}
	newPage := func(path string) browser.Page {
		pg, err := drv.NewPage(ctx, browser.PageOptions{BaseURL: srv.URL, Device: types.Devices["Desktop Chrome"]})
		require.NoError(t, err)
		_, err = pg.Goto(ctx, path)
		require.NoError(t, err)
		return pg
	}

	home := newPage("/")
	require.NoError(t, Assert(ctx, home, &types.ExpectStep{Title: ptr("Hello World - ハローワールド")}, opts))
	require.NoError(t, Assert(ctx, home, &types.ExpectStep{Locator: "body",
		CSS: &types.CSSExpect{Property: "background-image", Contains: ptr("linear-gradient")}}, opts))

	community := newPage("/ai-community.html")
	require.NoError(t, Assert(ctx, community, &types.ExpectStep{Locator: ".feature-card", Count: ptr(3)}, opts))
	cards, err := browser.Locate(community, ".feature-card")
	require.NoError(t, err)
	for i, title := range []string{"AI開発", "イノベーション", "グローバル"} {
		loc, err := cards.Nth(i).Locator(".feature-title")
		require.NoError(t, err)
		require.NoError(t, Assert(ctx, community, &types.ExpectStep{Locator: loc.String(), Text: ptr(title)}, opts))

		text, err := loc.Text(ctx)
		require.NoError(t, err)
		assert.Equal(t, title, NormalizeWhitespace(text))
	}

	dogs := newPage("/dogs.html")
	require.NoError(t, Assert(ctx, dogs, &types.ExpectStep{Locator: "a.cta-secondary",
		Attribute: &types.AttributeExpect{Name: "href", Value: "index.html"}}, opts))
	require.NoError(t, Assert(ctx, dogs, &types.ExpectStep{Locator: "a.cta-secondary", Text: ptr("ホームに戻る")}, opts))
}
