// Package browser defines the page automation surface the runner drives.
// Concrete drivers live in browser/cdp (a real Chromium over the DevTools
// protocol) and browser/static (an HTTP and HTML-only rendition used for
// fast checks and tests).
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

var (
	// ErrElementNotFound is returned when a single-element operation matches nothing.
	ErrElementNotFound = errors.New("element not found")
	// ErrUnsupported is returned by drivers for operations they cannot perform.
	ErrUnsupported = errors.New("operation not supported by driver")
	// ErrPageClosed is returned for operations on a closed page.
	ErrPageClosed = errors.New("page closed")
)

// StrictModeError is returned when a single-element operation matches more than one element.
type StrictModeError struct {
	Selector string
	Count    int
}

func (e *StrictModeError) Error() string {
	return fmt.Sprintf("strict mode violation: %q resolved to %d elements", e.Selector, e.Count)
}

// Response is the main-document response of a navigation.
type Response struct {
	URL        string
	Status     int
	StatusText string
}

// Box is an element bounding box in CSS pixels, relative to the viewport.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Capture is the output of a screenshot: the encoded bytes and the file
// extension that matches the encoding.
type Capture struct {
	Data      []byte
	Extension string // ".png" for pixels, ".html" for structural snapshots
}

// PageOptions configures a new isolated page.
type PageOptions struct {
	BaseURL string
	Device  types.DeviceProfile
	Log     log.Logger
}

// Driver opens isolated pages. Each page has its own cookies, storage and cache.
type Driver interface {
	Name() string
	Supports(engine types.Engine) bool
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// Page is one isolated browsing context. Element operations take a selector
// and resolve it again on every call; no element handle outlives a call.
type Page interface {
	Goto(ctx context.Context, url string) (*Response, error)
	ReachedLoadState(ctx context.Context, state types.LoadState) (bool, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	SetViewport(ctx context.Context, v types.Viewport) error
	Scroll(ctx context.Context, distance int, interval time.Duration) error

	Count(ctx context.Context, sel Selector) (int, error)
	Text(ctx context.Context, sel Selector) (string, error)
	Attribute(ctx context.Context, sel Selector, name string) (string, bool, error)
	Visible(ctx context.Context, sel Selector) (bool, error)
	ComputedStyle(ctx context.Context, sel Selector, property string) (string, error)
	BoundingBox(ctx context.Context, sel Selector) (*Box, error)
	Hover(ctx context.Context, sel Selector) error
	Click(ctx context.Context, sel Selector) error
	Screenshot(ctx context.Context, sel *Selector, fullPage bool) (*Capture, error)

	ConsoleErrors() []string
	Close() error
}

// Locator is a lazily evaluated element query bound to a page. It holds no
// element references, so it stays valid across re-renders and navigations.
type Locator struct {
	page Page
	sel  Selector
}

// NewLocator binds a selector to a page.
func NewLocator(page Page, sel Selector) Locator {
	return Locator{page: page, sel: sel}
}

// Locate parses raw and binds it to page.
func Locate(page Page, raw string) (Locator, error) {
	sel, err := ParseSelector(raw)
	if err != nil {
		return Locator{}, err
	}
	return NewLocator(page, sel), nil
}

func (l Locator) String() string { return l.sel.String() }

// Nth narrows the locator to the element at index n.
func (l Locator) Nth(n int) Locator {
	return Locator{page: l.page, sel: l.sel.Nth(n)}
}

// Locator chains a descendant query.
func (l Locator) Locator(raw string) (Locator, error) {
	child, err := ParseSelector(raw)
	if err != nil {
		return Locator{}, err
	}
	return Locator{page: l.page, sel: l.sel.Child(child)}, nil
}

func (l Locator) Count(ctx context.Context) (int, error) {
	return l.page.Count(ctx, l.sel)
}

func (l Locator) Text(ctx context.Context) (string, error) {
	return l.page.Text(ctx, l.sel)
}

func (l Locator) Attribute(ctx context.Context, name string) (string, bool, error) {
	return l.page.Attribute(ctx, l.sel, name)
}

func (l Locator) Visible(ctx context.Context) (bool, error) {
	return l.page.Visible(ctx, l.sel)
}

func (l Locator) ComputedStyle(ctx context.Context, property string) (string, error) {
	return l.page.ComputedStyle(ctx, l.sel, property)
}

func (l Locator) BoundingBox(ctx context.Context) (*Box, error) {
	return l.page.BoundingBox(ctx, l.sel)
}

func (l Locator) Hover(ctx context.Context) error {
	return l.page.Hover(ctx, l.sel)
}

func (l Locator) Click(ctx context.Context) error {
	return l.page.Click(ctx, l.sel)
}

func (l Locator) Screenshot(ctx context.Context) (*Capture, error) {
	sel := l.sel
	return l.page.Screenshot(ctx, &sel, false)
}

// CheckStrict turns a match count into the error a single-element operation reports.
func CheckStrict(sel Selector, count int) error {
	switch {
	case count == 0:
		return fmt.Errorf("%w: %s", ErrElementNotFound, sel)
	case count > 1:
		return &StrictModeError{Selector: sel.String(), Count: count}
	}
	return nil
}
