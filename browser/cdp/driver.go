// Package cdp drives a real Chromium over the DevTools protocol using chromedp.
// Every page is a tab in its own incognito browser context, so cookies,
// storage and cache are never shared between scenarios.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

const DriverName = "cdp"

// DefaultMaxPages bounds concurrently open tabs when Config.MaxPages is unset.
const DefaultMaxPages = 8

// ChromePathEnvVar overrides browser discovery.
const ChromePathEnvVar = "OP_PAGECHECK_CHROME_PATH"

var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
	"chrome",
}

// FindChrome returns the path of a Chromium-based browser, or an error if none is installed.
func FindChrome() (string, error) {
	if p := os.Getenv(ChromePathEnvVar); p != "" {
		return p, nil
	}
	for _, name := range chromeCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", errors.New("no chromium-based browser found in PATH")
}

// Config configures the CDP driver.
type Config struct {
	Log       log.Logger
	ExecPath  string // empty lets chromedp discover the browser
	Headless  bool
	MaxPages  int
	NoSandbox bool
}

// Driver owns one browser process shared by all pages.
type Driver struct {
	log log.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	pages         *semaphore.Weighted

	closeOnce sync.Once
}

var _ browser.Driver = (*Driver)(nil)

// NewDriver launches the browser. The browser lives until Close, independent of ctx;
// ctx only bounds the startup.
func NewDriver(ctx context.Context, cfg Config) (*Driver, error) {
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	logger = logger.New("driver", DriverName)

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless), chromedp.Flag("hide-scrollbars", true))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Warn(fmt.Sprintf(format, args...))
		}),
	)

	// The first Run on a context starts the browser and must use that context directly.
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	logger.Info("browser started", "headless", cfg.Headless, "maxPages", maxPages)
	return &Driver{
		log:           logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		pages:         semaphore.NewWeighted(int64(maxPages)),
	}, nil
}

func (d *Driver) Name() string { return DriverName }

// Supports reports whether the driver can emulate engine. Only Chromium speaks CDP.
func (d *Driver) Supports(engine types.Engine) bool {
	return engine == types.EngineChromium
}

// NewPage opens a tab in a fresh browser context. It blocks while MaxPages tabs are open.
func (d *Driver) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error) {
	if !d.Supports(opts.Device.Engine) {
		return nil, fmt.Errorf("engine %s: %w", opts.Device.Engine, browser.ErrUnsupported)
	}
	if err := d.pages.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	logger := opts.Log
	if logger == nil {
		logger = d.log
	}

	tabCtx, tabCancel := chromedp.NewContext(d.browserCtx, chromedp.WithNewBrowserContext())
	p := &Page{
		log:     logger,
		baseURL: opts.BaseURL,
		device:  opts.Device,
		tabCtx:  tabCtx,
		release: func() {
			tabCancel()
			d.pages.Release(1)
		},
		tracker: newLoadTracker(),
	}

	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)
	if err := p.setup(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Close shuts down the browser and every page still open.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		if err := chromedp.Cancel(d.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Warn("failed to close browser gracefully", "err", err)
		}
		d.browserCancel()
		d.allocCancel()
	})
	return nil
}
