package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// networkIdleQuiet is how long the network must be idle before networkidle is reached.
const networkIdleQuiet = 500 * time.Millisecond

// loadTracker follows lifecycle and network events of the current document.
type loadTracker struct {
	mu           sync.Mutex
	domContent   bool
	loaded       bool
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
}

func newLoadTracker() *loadTracker {
	return &loadTracker{inflight: make(map[network.RequestID]struct{})}
}

func (t *loadTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.domContent = false
	t.loaded = false
	clear(t.inflight)
	t.lastActivity = time.Now()
}

func (t *loadTracker) reached(state types.LoadState, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch state {
	case types.LoadStateDOMContentLoaded:
		return t.domContent || t.loaded
	case types.LoadStateNetworkIdle:
		return t.loaded && len(t.inflight) == 0 && now.Sub(t.lastActivity) >= networkIdleQuiet
	default:
		return t.loaded
	}
}

// Page is one tab in an isolated browser context.
type Page struct {
	log     log.Logger
	baseURL string
	device  types.DeviceProfile
	tabCtx  context.Context
	release func()
	tracker *loadTracker

	mu            sync.Mutex
	consoleErrors []string
	closed        bool
}

var _ browser.Page = (*Page)(nil)

func (p *Page) setup(ctx context.Context) error {
	actions := []chromedp.Action{network.Enable()}
	if p.device.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(p.device.UserAgent))
	}
	if p.device.Viewport.Width > 0 && p.device.Viewport.Height > 0 {
		actions = append(actions, p.emulate(p.device.Viewport))
	}
	if err := p.run(ctx, actions...); err != nil {
		return fmt.Errorf("failed to configure tab: %w", err)
	}
	return nil
}

func (p *Page) emulate(v types.Viewport) chromedp.Action {
	opts := []chromedp.EmulateViewportOption{}
	if p.device.DeviceScaleFactor > 0 {
		opts = append(opts, chromedp.EmulateScale(p.device.DeviceScaleFactor))
	}
	if p.device.IsMobile {
		opts = append(opts, chromedp.EmulateMobile)
	}
	if p.device.HasTouch {
		opts = append(opts, chromedp.EmulateTouch)
	}
	return chromedp.EmulateViewport(int64(v.Width), int64(v.Height), opts...)
}

// onEvent runs on the chromedp event loop and must not block or issue commands.
func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventDomContentEventFired:
		p.tracker.mu.Lock()
		p.tracker.domContent = true
		p.tracker.mu.Unlock()
	case *page.EventLoadEventFired:
		p.tracker.mu.Lock()
		p.tracker.loaded = true
		p.tracker.lastActivity = time.Now()
		p.tracker.mu.Unlock()
	case *network.EventRequestWillBeSent:
		p.tracker.mu.Lock()
		p.tracker.inflight[e.RequestID] = struct{}{}
		p.tracker.lastActivity = time.Now()
		p.tracker.mu.Unlock()
	case *network.EventLoadingFinished:
		p.tracker.finish(e.RequestID)
	case *network.EventLoadingFailed:
		p.tracker.finish(e.RequestID)
	case *runtime.EventConsoleAPICalled:
		if e.Type != runtime.APITypeError {
			return
		}
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			parts = append(parts, remoteObjectString(arg))
		}
		p.addConsoleError(strings.Join(parts, " "))
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails != nil {
			p.addConsoleError(e.ExceptionDetails.Error())
		}
	}
}

func (t *loadTracker) finish(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
	t.lastActivity = time.Now()
}

func remoteObjectString(obj *runtime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if len(obj.Value) > 0 {
		var s string
		if err := json.Unmarshal(obj.Value, &s); err == nil {
			return s
		}
		return string(obj.Value)
	}
	return obj.Description
}

func (p *Page) addConsoleError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consoleErrors = append(p.consoleErrors, msg)
}

// run executes actions on the tab, bounded by ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	return p.within(ctx, func(tabCtx context.Context) error {
		return chromedp.Run(tabCtx, actions...)
	})
}

// within calls fn with a context derived from the tab that carries ctx's
// deadline and is cancelled with ctx.
func (p *Page) within(ctx context.Context, fn func(tabCtx context.Context) error) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return browser.ErrPageClosed
	}
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := fn(runCtx)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (p *Page) element(ctx context.Context, sel browser.Selector, op elementOp, arg string) (*elementResult, error) {
	var res elementResult
	if err := p.run(ctx, chromedp.Evaluate(elementExpr(sel, op, arg), &res)); err != nil {
		return nil, err
	}
	return &res, nil
}

func (p *Page) single(ctx context.Context, sel browser.Selector, op elementOp, arg string) (*elementResult, error) {
	res, err := p.element(ctx, sel, op, arg)
	if err != nil {
		return nil, err
	}
	if err := browser.CheckStrict(sel, res.Count); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Page) Goto(ctx context.Context, target string) (*browser.Response, error) {
	u, err := p.resolve(target)
	if err != nil {
		return nil, &types.NavigationError{URL: target, Err: err}
	}
	p.tracker.reset()

	var resp *network.Response
	err = p.within(ctx, func(tabCtx context.Context) error {
		var err error
		resp, err = chromedp.RunResponse(tabCtx, chromedp.Navigate(u))
		return err
	})
	if err != nil {
		return nil, &types.NavigationError{URL: u, Err: err}
	}
	out := &browser.Response{URL: u}
	if resp != nil {
		out.URL = resp.URL
		out.Status = int(resp.Status)
		out.StatusText = resp.StatusText
	}
	p.log.Debug("navigated", "url", out.URL, "status", out.Status)
	return out, nil
}

func (p *Page) resolve(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if p.baseURL == "" {
		return "", fmt.Errorf("relative url %q without a base url", target)
	}
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", p.baseURL, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (p *Page) ReachedLoadState(ctx context.Context, state types.LoadState) (bool, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return false, browser.ErrPageClosed
	}
	return p.tracker.reached(state, time.Now()), nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &html))
	return html, err
}

func (p *Page) SetViewport(ctx context.Context, v types.Viewport) error {
	return p.run(ctx, p.emulate(v))
}

func (p *Page) Scroll(ctx context.Context, distance int, interval time.Duration) error {
	ms := max(interval.Milliseconds(), 1)
	var total float64
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf(scrollJS, distance, distance, ms), &total,
		func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
			return ep.WithAwaitPromise(true)
		}))
}

func (p *Page) Count(ctx context.Context, sel browser.Selector) (int, error) {
	res, err := p.element(ctx, sel, opCount, "")
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (p *Page) Text(ctx context.Context, sel browser.Selector) (string, error) {
	res, err := p.single(ctx, sel, opText, "")
	if err != nil {
		return "", err
	}
	return res.Str, nil
}

func (p *Page) Attribute(ctx context.Context, sel browser.Selector, name string) (string, bool, error) {
	res, err := p.single(ctx, sel, opAttr, name)
	if err != nil {
		return "", false, err
	}
	return res.Str, res.Found, nil
}

func (p *Page) Visible(ctx context.Context, sel browser.Selector) (bool, error) {
	res, err := p.element(ctx, sel, opVisible, "")
	if err != nil {
		return false, err
	}
	if res.Count == 0 {
		return false, nil
	}
	if err := browser.CheckStrict(sel, res.Count); err != nil {
		return false, err
	}
	return res.Bool, nil
}

func (p *Page) ComputedStyle(ctx context.Context, sel browser.Selector, property string) (string, error) {
	res, err := p.single(ctx, sel, opStyle, property)
	if err != nil {
		return "", err
	}
	return res.Str, nil
}

func (p *Page) BoundingBox(ctx context.Context, sel browser.Selector) (*browser.Box, error) {
	res, err := p.single(ctx, sel, opBox, "")
	if err != nil {
		return nil, err
	}
	return res.Box, nil
}

func (p *Page) pointer(ctx context.Context, sel browser.Selector) (float64, float64, error) {
	res, err := p.single(ctx, sel, opPoint, "")
	if err != nil {
		return 0, 0, err
	}
	if res.Box == nil {
		return 0, 0, fmt.Errorf("%s has no layout box", sel)
	}
	return res.Box.X, res.Box.Y, nil
}

func (p *Page) Hover(ctx context.Context, sel browser.Selector) error {
	x, y, err := p.pointer(ctx, sel)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

func (p *Page) Click(ctx context.Context, sel browser.Selector) error {
	x, y, err := p.pointer(ctx, sel)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.MouseClickXY(x, y))
}

// Screenshot captures PNG pixels of the viewport, the full page, or one element.
func (p *Page) Screenshot(ctx context.Context, sel *browser.Selector, fullPage bool) (*browser.Capture, error) {
	var buf []byte
	switch {
	case sel != nil:
		res, err := p.single(ctx, *sel, opDocBox, "")
		if err != nil {
			return nil, err
		}
		if res.Box == nil || res.Box.Width <= 0 || res.Box.Height <= 0 {
			return nil, fmt.Errorf("element %s is not visible", sel)
		}
		box := res.Box
		err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithCaptureBeyondViewport(true).
				WithClip(&page.Viewport{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height, Scale: 1}).
				Do(ctx)
			return err
		}))
		if err != nil {
			return nil, err
		}
	case fullPage:
		if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
			return nil, err
		}
	default:
		if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return nil, err
		}
	}
	return &browser.Capture{Data: buf, Extension: ".png"}, nil
}

func (p *Page) ConsoleErrors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.consoleErrors...)
}

func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	if err := chromedp.Cancel(p.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Debug("failed to close tab gracefully", "err", err)
	}
	p.release()
	return nil
}
