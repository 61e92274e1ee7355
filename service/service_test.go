package service

import (
	"io"
	"net/http"
	"testing"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/metrics"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

func get(t *testing.T, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServiceServesHealthzAndMetrics(t *testing.T) {
	svc := New(Config{
		Log:         testlog.Logger(t, log.LevelInfo),
		HealthzAddr: "127.0.0.1:0",
		MetricsAddr: "127.0.0.1:0",
	})
	require.NoError(t, svc.Start(t.Context()))
	defer svc.Shutdown()

	metrics.RecordScenario(types.ScenarioRef{Project: "chromium", Suite: "home", Scenario: "title"}, types.TestStatusPass, 0, false)

	resp := get(t, "http://"+svc.Healthz.Addr().String()+"/healthz", http.Header{"Origin": []string{"http://example.com"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))

	resp = get(t, "http://"+svc.Metrics.Addr().String()+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pagecheck_scenarios_total")
}

func TestServiceDisabledListeners(t *testing.T) {
	svc := New(Config{Log: testlog.Logger(t, log.LevelInfo)})
	require.NoError(t, svc.Start(t.Context()))
	assert.Nil(t, svc.Healthz.Addr())
	assert.Nil(t, svc.Metrics.Addr())
	svc.Shutdown()
}

func TestServiceBindError(t *testing.T) {
	first := New(Config{Log: testlog.Logger(t, log.LevelInfo), HealthzAddr: "127.0.0.1:0"})
	require.NoError(t, first.Start(t.Context()))
	defer first.Shutdown()

	second := New(Config{Log: testlog.Logger(t, log.LevelInfo), HealthzAddr: first.Healthz.Addr().String()})
	err := second.Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "healthz")
}
