package cdp

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func newTestDriver(t *testing.T) (*Driver, *httptest.Server) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	chrome, err := FindChrome()
	if err != nil {
		t.Skipf("skipping browser test: %v", err)
	}
	srv := httptest.NewServer(http.FileServer(http.Dir("../../testdata/site")))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	drv, err := NewDriver(ctx, Config{
		Log:       log.NewLogger(log.DiscardHandler()),
		ExecPath:  chrome,
		Headless:  true,
		MaxPages:  2,
		NoSandbox: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })
	return drv, srv
}

func newTestPage(t *testing.T, drv *Driver, baseURL string, device string) browser.Page {
	t.Helper()
	pg, err := drv.NewPage(context.Background(), browser.PageOptions{
		BaseURL: baseURL,
		Device:  types.Devices[device],
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	return pg
}

func TestUnsupportedEngine(t *testing.T) {
	drv := &Driver{}
	assert.True(t, drv.Supports(types.EngineChromium))
	assert.False(t, drv.Supports(types.EngineFirefox))
	assert.False(t, drv.Supports(types.EngineWebKit))

	_, err := drv.NewPage(context.Background(), browser.PageOptions{Device: types.Devices["Desktop Firefox"]})
	assert.ErrorIs(t, err, browser.ErrUnsupported)
}

func TestLoadTracker(t *testing.T) {
	tr := newLoadTracker()
	now := time.Now()
	assert.False(t, tr.reached(types.LoadStateLoad, now))

	tr.domContent = true
	assert.True(t, tr.reached(types.LoadStateDOMContentLoaded, now))
	assert.False(t, tr.reached(types.LoadStateLoad, now))

	tr.loaded = true
	tr.inflight["1"] = struct{}{}
	tr.lastActivity = now
	assert.True(t, tr.reached(types.LoadStateLoad, now))
	assert.False(t, tr.reached(types.LoadStateNetworkIdle, now.Add(time.Second)))

	tr.finish("1")
	assert.False(t, tr.reached(types.LoadStateNetworkIdle, time.Now()))
	assert.True(t, tr.reached(types.LoadStateNetworkIdle, time.Now().Add(networkIdleQuiet)))

	tr.reset()
	assert.False(t, tr.reached(types.LoadStateDOMContentLoaded, time.Now()))
}

func TestPageQueries(t *testing.T) {
	drv, srv := newTestDriver(t)
	pg := newTestPage(t, drv, srv.URL, "Desktop Chrome")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := pg.Goto(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	title, err := pg.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello World - ハローワールド", title)

	bg, err := pg.ComputedStyle(ctx, browser.MustParseSelector("body"), "background-image")
	require.NoError(t, err)
	assert.Contains(t, bg, "linear-gradient")

	_, err = pg.Goto(ctx, "/ai-community.html")
	require.NoError(t, err)
	n, err := pg.Count(ctx, browser.MustParseSelector(".feature-card"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	text, err := pg.Text(ctx, browser.MustParseSelector(".feature-card >> nth=1 >> .feature-title"))
	require.NoError(t, err)
	assert.Equal(t, "イノベーション", text)

	visible, err := pg.Visible(ctx, browser.MustParseSelector(".modal-text"))
	require.NoError(t, err)
	assert.False(t, visible)

	box, err := pg.BoundingBox(ctx, browser.MustParseSelector(".hero-section"))
	require.NoError(t, err)
	assert.Greater(t, box.Width, 0.0)

	require.NoError(t, pg.Hover(ctx, browser.MustParseSelector(".cta-primary")))

	sel := browser.MustParseSelector(".feature-card >> nth=0")
	shot, err := pg.Screenshot(ctx, &sel, false)
	require.NoError(t, err)
	assert.Equal(t, ".png", shot.Extension)
	assert.True(t, bytes.HasPrefix(shot.Data, pngMagic))

	full, err := pg.Screenshot(ctx, nil, true)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(full.Data, pngMagic))

	require.NoError(t, pg.Scroll(ctx, 100, 10*time.Millisecond))
	assert.Empty(t, pg.ConsoleErrors())
}

func TestMobileViewport(t *testing.T) {
	drv, srv := newTestDriver(t)
	pg := newTestPage(t, drv, srv.URL, "Pixel 5")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := pg.Goto(ctx, "/dogs.html")
	require.NoError(t, err)
	href, ok, err := pg.Attribute(ctx, browser.MustParseSelector("a.cta-secondary"), "href")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "index.html", href)

	require.NoError(t, pg.SetViewport(ctx, types.Viewport{Width: 768, Height: 1024}))
	visible, err := pg.Visible(ctx, browser.MustParseSelector(".hero-section"))
	require.NoError(t, err)
	assert.True(t, visible)
}

func TestNavigationFailure(t *testing.T) {
	drv, _ := newTestDriver(t)
	pg := newTestPage(t, drv, "http://127.0.0.1:1", "Desktop Chrome")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := pg.Goto(ctx, "/")
	var navErr *types.NavigationError
	require.ErrorAs(t, err, &navErr)
}
