package expect

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// fakePage serves scripted reads. Values are looked up by selector string.
type fakePage struct {
	mu      sync.Mutex
	reads   int
	title   func(reads int) string
	url     string
	texts   map[string]func(reads int) (string, error)
	counts  map[string]func(reads int) int
	visible map[string]bool
	attrs   map[string]map[string]string
	styles  map[string]map[string]string
	loaded  func(reads int) bool
	console []string
}

var _ browser.Page = (*fakePage)(nil)

func (f *fakePage) tick() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.reads
}

func (f *fakePage) Goto(ctx context.Context, url string) (*browser.Response, error) {
	return &browser.Response{URL: url, Status: 200}, nil
}

func (f *fakePage) ReachedLoadState(ctx context.Context, state types.LoadState) (bool, error) {
	n := f.tick()
	if f.loaded == nil {
		return true, nil
	}
	return f.loaded(n), nil
}

func (f *fakePage) Title(ctx context.Context) (string, error) {
	return f.title(f.tick()), nil
}

func (f *fakePage) URL(ctx context.Context) (string, error) { return f.url, nil }

func (f *fakePage) Content(ctx context.Context) (string, error) { return "<html></html>", nil }

func (f *fakePage) SetViewport(ctx context.Context, v types.Viewport) error { return nil }

func (f *fakePage) Scroll(ctx context.Context, distance int, interval time.Duration) error {
	return nil
}

func (f *fakePage) Count(ctx context.Context, sel browser.Selector) (int, error) {
	n := f.tick()
	if c, ok := f.counts[sel.String()]; ok {
		return c(n), nil
	}
	return 0, nil
}

func (f *fakePage) Text(ctx context.Context, sel browser.Selector) (string, error) {
	n := f.tick()
	t, ok := f.texts[sel.String()]
	if !ok {
		return "", browser.CheckStrict(sel, 0)
	}
	return t(n)
}

func (f *fakePage) Attribute(ctx context.Context, sel browser.Selector, name string) (string, bool, error) {
	f.tick()
	attrs, ok := f.attrs[sel.String()]
	if !ok {
		return "", false, browser.CheckStrict(sel, 0)
	}
	v, ok := attrs[name]
	return v, ok, nil
}

func (f *fakePage) Visible(ctx context.Context, sel browser.Selector) (bool, error) {
	f.tick()
	return f.visible[sel.String()], nil
}

func (f *fakePage) ComputedStyle(ctx context.Context, sel browser.Selector, property string) (string, error) {
	f.tick()
	styles, ok := f.styles[sel.String()]
	if !ok {
		return "", browser.CheckStrict(sel, 0)
	}
	return styles[property], nil
}

func (f *fakePage) BoundingBox(ctx context.Context, sel browser.Selector) (*browser.Box, error) {
	return &browser.Box{Width: 100, Height: 50}, nil
}

func (f *fakePage) Hover(ctx context.Context, sel browser.Selector) error { return nil }
func (f *fakePage) Click(ctx context.Context, sel browser.Selector) error { return nil }

func (f *fakePage) Screenshot(ctx context.Context, sel *browser.Selector, fullPage bool) (*browser.Capture, error) {
	return &browser.Capture{Data: []byte("png"), Extension: ".png"}, nil
}

func (f *fakePage) ConsoleErrors() []string { return f.console }
func (f *fakePage) Close() error            { return nil }

func constText(s string) func(int) (string, error) {
	return func(int) (string, error) { return s, nil }
}

func constCount(n int) func(int) int {
	return func(int) int { return n }
}
