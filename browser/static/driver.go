// Package static implements a browser driver that fetches pages over HTTP and
// evaluates locators, text, attributes and computed styles against the parsed
// document. It runs no scripts and has no layout engine: bounding boxes are
// unsupported, screenshots are HTML snapshots and every load state is reached
// as soon as the document has been parsed.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

const DriverName = "static"

// maxDocumentBytes bounds a single fetched document or stylesheet.
const maxDocumentBytes = 16 << 20

// Config configures the static driver.
type Config struct {
	Log       log.Logger
	Transport http.RoundTripper // defaults to a private clone of http.DefaultTransport
}

// Driver hands out pages that each own a cookie jar and document state.
type Driver struct {
	log       log.Logger
	transport http.RoundTripper
}

var _ browser.Driver = (*Driver)(nil)

// NewDriver creates a static driver.
func NewDriver(cfg Config) *Driver {
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &Driver{log: logger.New("driver", DriverName), transport: transport}
}

func (d *Driver) Name() string { return DriverName }

// Supports reports true for every engine; the static driver renders nothing
// engine specific.
func (d *Driver) Supports(engine types.Engine) bool { return engine.IsValid() }

func (d *Driver) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	logger := opts.Log
	if logger == nil {
		logger = d.log
	}
	return &Page{
		log:      logger,
		client:   &http.Client{Transport: d.transport, Jar: jar},
		baseURL:  opts.BaseURL,
		device:   opts.Device,
		viewport: opts.Device.Viewport,
	}, nil
}

func (d *Driver) Close() error {
	if t, ok := d.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// Page is a single static document session.
type Page struct {
	log     log.Logger
	client  *http.Client
	baseURL string
	device  types.DeviceProfile

	mu       sync.Mutex
	doc      *goquery.Document
	styles   *stylesheet
	url      string
	viewport types.Viewport
	closed   bool
}

var _ browser.Page = (*Page)(nil)

func (p *Page) Goto(ctx context.Context, target string) (*browser.Response, error) {
	p.mu.Lock()
	current := p.url
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, browser.ErrPageClosed
	}

	u, err := resolveURL(p.baseURL, current, target)
	if err != nil {
		return nil, &types.NavigationError{URL: target, Err: err}
	}
	body, resp, err := p.fetch(ctx, u)
	if err != nil {
		return nil, &types.NavigationError{URL: u, Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &types.NavigationError{URL: u, Err: fmt.Errorf("failed to parse document: %w", err)}
	}
	finalURL := resp.Request.URL.String()
	styles := p.loadStyles(ctx, doc, resp.Request.URL)

	p.mu.Lock()
	p.doc = doc
	p.styles = styles
	p.url = finalURL
	p.mu.Unlock()

	p.log.Debug("navigated", "url", finalURL, "status", resp.StatusCode)
	return &browser.Response{URL: finalURL, Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}, nil
}

func (p *Page) fetch(ctx context.Context, u string) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	if p.device.UserAgent != "" {
		req.Header.Set("User-Agent", p.device.UserAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp, nil
}

// loadStyles collects <style> blocks and linked stylesheets in document order.
func (p *Page) loadStyles(ctx context.Context, doc *goquery.Document, base *url.URL) *stylesheet {
	styles := newStylesheet()
	doc.Find("style, link[rel~=stylesheet]").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "style" {
			styles.add(s.Text(), originAuthor)
			return
		}
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := base.Parse(href)
		if err != nil {
			p.log.Warn("invalid stylesheet href", "href", href, "err", err)
			return
		}
		body, resp, err := p.fetch(ctx, ref.String())
		if err != nil {
			p.log.Warn("failed to load stylesheet", "href", ref.String(), "err", err)
			return
		}
		if resp.StatusCode >= 400 {
			p.log.Warn("stylesheet request failed", "href", ref.String(), "status", resp.StatusCode)
			return
		}
		styles.add(string(body), originAuthor)
	})
	return styles
}

func resolveURL(baseURL, current, target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base := baseURL
	if base == "" {
		base = current
	}
	if base == "" {
		return "", fmt.Errorf("relative url %q without a base url", target)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	return b.ResolveReference(ref).String(), nil
}

func (p *Page) document() (*goquery.Document, *stylesheet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, browser.ErrPageClosed
	}
	if p.doc == nil {
		return nil, nil, errors.New("no document loaded")
	}
	return p.doc, p.styles, nil
}

// ReachedLoadState is true for every state once a document has been parsed.
func (p *Page) ReachedLoadState(ctx context.Context, state types.LoadState) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, browser.ErrPageClosed
	}
	return p.doc != nil, nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	doc, _, err := p.document()
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " "), nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	doc, _, err := p.document()
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(doc.Selection)
}

func (p *Page) SetViewport(ctx context.Context, v types.Viewport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = v
	return nil
}

// Scroll has no observable effect on a static document.
func (p *Page) Scroll(ctx context.Context, distance int, interval time.Duration) error {
	_, _, err := p.document()
	return err
}

// resolve evaluates a selector chain against the current document.
func (p *Page) resolve(sel browser.Selector) (*goquery.Selection, *stylesheet, error) {
	doc, styles, err := p.document()
	if err != nil {
		return nil, nil, err
	}
	cur := doc.Selection
	for i, part := range sel.Parts {
		if part.Nth != nil {
			idx := browser.PickNth(*part.Nth, cur.Length())
			if idx < 0 {
				cur = cur.Slice(0, 0)
				continue
			}
			cur = cur.Eq(idx)
			continue
		}
		if i == 0 {
			cur = doc.Find(part.CSS)
		} else {
			cur = cur.Find(part.CSS)
		}
	}
	return cur, styles, nil
}

func (p *Page) single(sel browser.Selector) (*goquery.Selection, *stylesheet, error) {
	s, styles, err := p.resolve(sel)
	if err != nil {
		return nil, nil, err
	}
	if err := browser.CheckStrict(sel, s.Length()); err != nil {
		return nil, nil, err
	}
	return s, styles, nil
}

func (p *Page) Count(ctx context.Context, sel browser.Selector) (int, error) {
	s, _, err := p.resolve(sel)
	if err != nil {
		return 0, err
	}
	return s.Length(), nil
}

// Text returns the element's textContent.
func (p *Page) Text(ctx context.Context, sel browser.Selector) (string, error) {
	s, _, err := p.single(sel)
	if err != nil {
		return "", err
	}
	return s.Text(), nil
}

func (p *Page) Attribute(ctx context.Context, sel browser.Selector, name string) (string, bool, error) {
	s, _, err := p.single(sel)
	if err != nil {
		return "", false, err
	}
	v, ok := s.Attr(name)
	return v, ok, nil
}

// Visible reports whether a single element is rendered: attached under <body>
// with no ancestor hidden by display or visibility. No match is not visible.
func (p *Page) Visible(ctx context.Context, sel browser.Selector) (bool, error) {
	s, styles, err := p.resolve(sel)
	if err != nil {
		return false, err
	}
	switch n := s.Length(); {
	case n == 0:
		return false, nil
	case n > 1:
		return false, browser.CheckStrict(sel, n)
	}
	return isVisible(s.Get(0), styles), nil
}

func isVisible(n *html.Node, styles *stylesheet) bool {
	inBody := false
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if cur.Data == "body" {
			inBody = true
		}
		if styles.computed(cur, "display") == "none" {
			return false
		}
	}
	if !inBody {
		return false
	}
	switch styles.computed(n, "visibility") {
	case "hidden", "collapse":
		return false
	}
	return true
}

func (p *Page) ComputedStyle(ctx context.Context, sel browser.Selector, property string) (string, error) {
	s, styles, err := p.single(sel)
	if err != nil {
		return "", err
	}
	return styles.computed(s.Get(0), property), nil
}

func (p *Page) BoundingBox(ctx context.Context, sel browser.Selector) (*browser.Box, error) {
	if _, _, err := p.single(sel); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("bounding box: %w", browser.ErrUnsupported)
}

func (p *Page) Hover(ctx context.Context, sel browser.Selector) error {
	_, _, err := p.single(sel)
	return err
}

// Click follows links; clicks on any other element only check that it resolves.
func (p *Page) Click(ctx context.Context, sel browser.Selector) error {
	s, _, err := p.single(sel)
	if err != nil {
		return err
	}
	href, ok := s.Closest("a[href]").Attr("href")
	if !ok || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return nil
	}
	p.mu.Lock()
	current := p.url
	p.mu.Unlock()
	target, err := resolveURL(current, current, href)
	if err != nil {
		return err
	}
	_, err = p.Goto(ctx, target)
	return err
}

// Screenshot returns an HTML snapshot of the page or of one element.
func (p *Page) Screenshot(ctx context.Context, sel *browser.Selector, fullPage bool) (*browser.Capture, error) {
	var (
		out string
		err error
	)
	if sel == nil {
		out, err = p.Content(ctx)
	} else {
		var s *goquery.Selection
		s, _, err = p.single(*sel)
		if err == nil {
			out, err = goquery.OuterHtml(s)
		}
	}
	if err != nil {
		return nil, err
	}
	return &browser.Capture{Data: []byte(out), Extension: ".html"}, nil
}

// ConsoleErrors is always empty: the static driver executes no scripts.
func (p *Page) ConsoleErrors() []string { return nil }

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.doc = nil
	return nil
}
