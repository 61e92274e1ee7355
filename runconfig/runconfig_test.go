package runconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

const fullYAML = `
testDir: ./scenarios
timeout: 30s
expect:
  timeout: 5s
fullyParallel: true
retries: 0
use:
  baseURL: http://localhost:3000
  screenshot: on
  trace: retain-on-failure
  video: off
projects:
  - name: chromium
    device: Desktop Chrome
  - name: firefox
    device: Desktop Firefox
  - name: webkit
    device: Desktop Safari
  - name: Mobile Chrome
    device: Pixel 5
  - name: Mobile Safari
    device: iPhone 12
webServer:
  root: ./site
  port: 3000
  reuseExistingServer: true
`

const fullTOML = `
testDir = "scenarios"
timeout = "10s"
retries = 1
workers = 4

[expect]
timeout = "2s"

[use]
baseURL = "http://127.0.0.1:8080"
screenshot = "only-on-failure"

[[projects]]
name = "chromium"
device = "Desktop Chrome"

[[projects]]
name = "wide"
device = "Desktop Chrome"
viewport = { width = 1920, height = 1080 }

[ci]
retries = 3
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "site"), 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func quietOpts() LoadOptions {
	return LoadOptions{Log: log.NewLogger(log.DiscardHandler()), Version: "v0.1.0"}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "pagecheck.yaml", fullYAML)
	cfg, err := Load(path, quietOpts())
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(dir, "scenarios"), cfg.TestDir)
	assert.Equal(t, filepath.Join(dir, DefaultOutputDir), cfg.OutputDir)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Expect.Timeout)
	assert.True(t, cfg.FullyParallel)
	assert.Equal(t, types.TraceRetainOnFailure, cfg.Use.Trace)
	assert.Equal(t, []string{"chromium", "firefox", "webkit", "Mobile Chrome", "Mobile Safari"}, cfg.ProjectNames())
	require.NotNil(t, cfg.WebServer)
	assert.Equal(t, filepath.Join(dir, "site"), cfg.WebServer.Root)
	assert.Equal(t, DefaultWebServerTimeout, cfg.WebServer.Timeout)
	assert.False(t, cfg.CIApplied)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "pagecheck.toml", fullTOML)
	cfg, err := Load(path, quietOpts())
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Expect.Timeout)
	assert.Equal(t, 1, cfg.Retries)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, types.ScreenshotOnlyOnFailure, cfg.Use.Screenshot)
	assert.Equal(t, types.TraceOn, cfg.Use.Trace)
	require.Len(t, cfg.Projects, 2)
	require.NotNil(t, cfg.Projects[1].Viewport)
	assert.Equal(t, 1920, cfg.Projects[1].Viewport.Width)
	assert.Nil(t, cfg.WebServer)
}

func TestCIOverrides(t *testing.T) {
	t.Run("built-in defaults", func(t *testing.T) {
		path := writeConfig(t, "pagecheck.yaml", fullYAML)
		opts := quietOpts()
		opts.CI = true
		cfg, err := Load(path, opts)
		require.NoError(t, err)
		assert.True(t, cfg.CIApplied)
		assert.Equal(t, 2, cfg.Retries)
		assert.Equal(t, 1, cfg.Workers)
		assert.True(t, cfg.ForbidOnly)
		assert.False(t, cfg.WebServer.ReuseExistingServer)
	})
	t.Run("ci block wins", func(t *testing.T) {
		path := writeConfig(t, "pagecheck.toml", fullTOML)
		opts := quietOpts()
		opts.CI = true
		cfg, err := Load(path, opts)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Retries)
		assert.Equal(t, 1, cfg.Workers)
	})
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultTestDir, cfg.TestDir)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultExpectTimeout, cfg.Expect.Timeout)
	assert.Equal(t, DefaultBaseURL, cfg.Use.BaseURL)
	assert.Equal(t, types.ScreenshotOn, cfg.Use.Screenshot)
	assert.Equal(t, []string{DefaultProjectName}, cfg.ProjectNames())
	require.NoError(t, Validate(cfg, ""))
}

func TestZeroTimeoutDisablesScenarioTimeout(t *testing.T) {
	path := writeConfig(t, "pagecheck.yaml", "timeout: 0\n")
	cfg, err := Load(path, quietOpts())
	require.NoError(t, err)
	assert.Zero(t, cfg.Timeout)
	assert.Equal(t, DefaultExpectTimeout, cfg.Expect.Timeout)

	path = writeConfig(t, "pagecheck.toml", "timeout = \"0s\"\n")
	cfg, err = Load(path, quietOpts())
	require.NoError(t, err)
	assert.Zero(t, cfg.Timeout)

	path = writeConfig(t, "pagecheck.yaml", "retries: 1\n")
	cfg, err = Load(path, quietOpts())
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, cfg.Timeout, "an absent timeout keeps the default")
}

func TestVideoIsDisabled(t *testing.T) {
	path := writeConfig(t, "pagecheck.yaml", "use:\n  video: on\n")
	cfg, err := Load(path, quietOpts())
	require.NoError(t, err)
	assert.Equal(t, types.VideoOff, cfg.Use.Video)
}

func TestInvalidConfigs(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		body  string
		field string
	}{
		{name: "unknown key", file: "c.yaml", body: "timeoutt: 5s\n"},
		{name: "unknown toml key", file: "c.toml", body: "timeoutt = \"5s\"\n"},
		{name: "bad format", file: "c.json", body: "{}"},
		{name: "negative retries", file: "c.yaml", body: "retries: -1\n", field: "retries"},
		{name: "negative workers", file: "c.yaml", body: "workers: -2\n", field: "workers"},
		{name: "relative base url", file: "c.yaml", body: "use:\n  baseURL: /foo\n", field: "use.baseURL"},
		{name: "bad screenshot mode", file: "c.yaml", body: "use:\n  screenshot: sometimes\n", field: "use.screenshot"},
		{name: "bad trace mode", file: "c.yaml", body: "use:\n  trace: always\n", field: "use.trace"},
		{name: "unknown device", file: "c.yaml", body: "projects:\n  - name: x\n    device: Nokia 3310\n", field: "projects[0]"},
		{name: "duplicate project", file: "c.yaml", body: "projects:\n  - name: x\n  - name: x\n", field: "projects[1]"},
		{name: "project artifact directory collision", file: "c.yaml", body: "projects:\n  - name: Mobile Safari\n  - name: mobile-safari\n", field: "projects[1]"},
		{name: "missing project name", file: "c.yaml", body: "projects:\n  - device: Pixel 5\n", field: "projects[0]"},
		{name: "command without port", file: "c.yaml", body: "webServer:\n  command: npx http-server .\n", field: "webServer.port"},
		{name: "missing root", file: "c.yaml", body: "webServer:\n  root: ./nope\n  port: 3000\n", field: "webServer.root"},
		{name: "min version too new", file: "c.yaml", body: "minVersion: 9.0.0\n", field: "minVersion"},
		{name: "invalid min version", file: "c.yaml", body: "minVersion: latest\n", field: "minVersion"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := Load(path, quietOpts())
			require.Error(t, err)
			var cfgErr *types.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, path, cfgErr.Source)
			if tt.field != "" {
				assert.Equal(t, tt.field, cfgErr.Field)
			}
			assert.True(t, types.IsConfigurationError(err))
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), quietOpts())
	assert.True(t, types.IsConfigurationError(err))
}

func TestMinVersionSatisfied(t *testing.T) {
	path := writeConfig(t, "c.yaml", "minVersion: 0.1.0\n")
	_, err := Load(path, quietOpts())
	require.NoError(t, err)

	// Development builds without a semantic version are not gated.
	opts := quietOpts()
	opts.Version = "untagged"
	path = writeConfig(t, "c.yaml", "minVersion: 9.0.0\n")
	_, err = Load(path, opts)
	require.NoError(t, err)
}

func TestResolveWorkers(t *testing.T) {
	assert.Equal(t, 3, ResolveWorkers(3))
	auto := ResolveWorkers(0)
	assert.GreaterOrEqual(t, auto, 1)
	assert.LessOrEqual(t, auto, MaxWorkers)
}

func TestIsCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, IsCI())
	t.Setenv("CI", "false")
	assert.False(t, IsCI())
	t.Setenv("CI", "")
	assert.False(t, IsCI())
}
