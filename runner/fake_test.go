package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// fakeDriver hands out scripted pages. newPage receives the 1-based number
// of the page being opened.
type fakeDriver struct {
	mu          sync.Mutex
	opened      int
	closed      int
	unsupported types.Engine
	newPage     func(n int) *fakePage
	// deadlines records whether each NewPage context carried a deadline.
	deadlines []bool
}

var _ browser.Driver = (*fakeDriver)(nil)

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Supports(engine types.Engine) bool {
	return engine.IsValid() && engine != d.unsupported
}

func (d *fakeDriver) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error) {
	d.mu.Lock()
	d.opened++
	n := d.opened
	_, hasDeadline := ctx.Deadline()
	d.deadlines = append(d.deadlines, hasDeadline)
	d.mu.Unlock()

	var page *fakePage
	if d.newPage != nil {
		page = d.newPage(n)
	}
	if page == nil {
		page = &fakePage{}
	}
	page.driver = d
	return page, nil
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) pagesOpened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

func (d *fakeDriver) pagesClosed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// fakePage answers reads from static tables keyed by selector string.
type fakePage struct {
	driver  *fakeDriver
	title   string
	url     string
	counts  map[string]int
	texts   map[string]string
	console []string
	onGoto  func(url string) (*browser.Response, error)

	mu    sync.Mutex
	shots int
}

var _ browser.Page = (*fakePage)(nil)

func (p *fakePage) Goto(ctx context.Context, url string) (*browser.Response, error) {
	if p.onGoto != nil {
		return p.onGoto(url)
	}
	p.url = url
	return &browser.Response{URL: url, Status: 200}, nil
}

func (p *fakePage) ReachedLoadState(ctx context.Context, state types.LoadState) (bool, error) {
	return true, nil
}

func (p *fakePage) Title(ctx context.Context) (string, error) { return p.title, nil }
func (p *fakePage) URL(ctx context.Context) (string, error)   { return p.url, nil }

func (p *fakePage) Content(ctx context.Context) (string, error) {
	return "<html><title>" + p.title + "</title></html>", nil
}

func (p *fakePage) SetViewport(ctx context.Context, v types.Viewport) error { return nil }

func (p *fakePage) Scroll(ctx context.Context, distance int, interval time.Duration) error {
	return nil
}

func (p *fakePage) Count(ctx context.Context, sel browser.Selector) (int, error) {
	return p.counts[sel.String()], nil
}

func (p *fakePage) Text(ctx context.Context, sel browser.Selector) (string, error) {
	t, ok := p.texts[sel.String()]
	if !ok {
		return "", browser.CheckStrict(sel, 0)
	}
	return t, nil
}

func (p *fakePage) Attribute(ctx context.Context, sel browser.Selector, name string) (string, bool, error) {
	return "", false, nil
}

func (p *fakePage) Visible(ctx context.Context, sel browser.Selector) (bool, error) {
	return p.counts[sel.String()] > 0 || p.texts[sel.String()] != "", nil
}

func (p *fakePage) ComputedStyle(ctx context.Context, sel browser.Selector, property string) (string, error) {
	return "", nil
}

func (p *fakePage) BoundingBox(ctx context.Context, sel browser.Selector) (*browser.Box, error) {
	return &browser.Box{Width: 320, Height: 200}, nil
}

func (p *fakePage) Hover(ctx context.Context, sel browser.Selector) error { return nil }
func (p *fakePage) Click(ctx context.Context, sel browser.Selector) error { return nil }

func (p *fakePage) Screenshot(ctx context.Context, sel *browser.Selector, fullPage bool) (*browser.Capture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shots++
	return &browser.Capture{Data: []byte(fmt.Sprintf("png-%d", p.shots)), Extension: ".png"}, nil
}

func (p *fakePage) ConsoleErrors() []string { return p.console }

func (p *fakePage) Close() error {
	if p.driver != nil {
		p.driver.mu.Lock()
		p.driver.closed++
		p.driver.mu.Unlock()
	}
	return nil
}
