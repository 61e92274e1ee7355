package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

const siteRoot = "../testdata/site"

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort(Host, "0"))
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestInProcess(t *testing.T) {
	ctx := context.Background()
	srv, err := Acquire(ctx, Config{
		Log:       testlog.Logger(t, log.LevelInfo),
		WebServer: types.WebServerConfig{Root: siteRoot},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeInProcess, srv.Mode())
	assert.NotZero(t, srv.Port())

	status, body, _ := get(t, srv.URL()+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Hello World - ハローワールド")

	req, err := http.NewRequest(http.MethodGet, srv.URL()+"/dogs.html", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	status, _, _ = get(t, srv.URL()+"/missing.html")
	assert.Equal(t, http.StatusNotFound, status)

	require.NoError(t, srv.Release(ctx))
	require.NoError(t, srv.Release(ctx), "release is idempotent")
	_, err = http.Get(srv.URL() + "/")
	assert.Error(t, err)
}

func TestInProcessMissingRoot(t *testing.T) {
	_, err := Acquire(context.Background(), Config{
		Log:       testlog.Logger(t, log.LevelInfo),
		WebServer: types.WebServerConfig{Root: "./does-not-exist"},
	})
	assert.Error(t, err)
}

func TestPortInUse(t *testing.T) {
	ctx := context.Background()
	logger := testlog.Logger(t, log.LevelInfo)
	first, err := Acquire(ctx, Config{Log: logger, WebServer: types.WebServerConfig{Root: siteRoot}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Release(ctx) })

	_, err = Acquire(ctx, Config{Log: logger, WebServer: types.WebServerConfig{Root: siteRoot, Port: first.Port()}})
	require.ErrorIs(t, err, ErrPortInUse)

	reused, err := Acquire(ctx, Config{Log: logger, WebServer: types.WebServerConfig{
		Root:                siteRoot,
		Port:                first.Port(),
		ReuseExistingServer: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, ModeReused, reused.Mode())
	require.NoError(t, reused.Release(ctx))

	// Releasing the reused handle leaves the original server up.
	status, _, _ := get(t, first.URL()+"/")
	assert.Equal(t, http.StatusOK, status)
}

func TestCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	if testing.Short() {
		t.Skip("starts a subprocess")
	}
	ctx := context.Background()
	logger := testlog.Logger(t, log.LevelInfo)

	t.Run("exits early", func(t *testing.T) {
		start := time.Now()
		_, err := Acquire(ctx, Config{Log: logger, WebServer: types.WebServerConfig{
			Command: "exit 3",
			Port:    freePort(t),
			Timeout: 10 * time.Second,
		}})
		require.ErrorContains(t, err, "exited before accepting connections")
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("never listens", func(t *testing.T) {
		_, err := Acquire(ctx, Config{Log: logger, WebServer: types.WebServerConfig{
			Command: "sleep 30",
			Port:    freePort(t),
			Timeout: 300 * time.Millisecond,
		}})
		var timeoutErr *types.TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
	})

	t.Run("port taken", func(t *testing.T) {
		// The port is held by the test.
		ln, err := net.Listen("tcp", net.JoinHostPort(Host, "0"))
		require.NoError(t, err)
		defer ln.Close()
		port := ln.Addr().(*net.TCPAddr).Port

		srv, err := Acquire(ctx, Config{Log: logger, WebServer: types.WebServerConfig{
			Command:             "sleep 30",
			Port:                port,
			ReuseExistingServer: false,
			Timeout:             5 * time.Second,
		}})
		// The port is already taken, so the command is never started.
		require.ErrorIs(t, err, ErrPortInUse)
		assert.Nil(t, srv)
		assert.Contains(t, err.Error(), strconv.Itoa(port))
	})
}
