// Package runconfig loads, defaults and validates the run configuration.
package runconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

const (
	DefaultTestDir          = "scenarios"
	DefaultOutputDir        = "test-results"
	DefaultReportDir        = "pagecheck-report"
	DefaultTimeout          = 30 * time.Second
	DefaultExpectTimeout    = 5 * time.Second
	DefaultBaseURL          = "http://localhost:3000"
	DefaultWebServerTimeout = 60 * time.Second
	DefaultProjectName      = "chromium"
	DefaultDevice           = "Desktop Chrome"

	// MaxWorkers caps the auto-detected worker count.
	MaxWorkers = 32
)

// CI defaults applied when running under CI and the config has no ci block
// (or leaves a field of it unset).
var (
	ciRetries    = 2
	ciWorkers    = 1
	ciForbidOnly = true
	ciReuse      = false
)

// LoadOptions controls how a configuration file is turned into a RunConfig.
type LoadOptions struct {
	Log     log.Logger
	CI      bool   // merge the ci overrides
	Version string // running version, checked against minVersion
}

// Default returns the configuration used when no file is given.
func Default() *types.RunConfig {
	cfg := seed()
	applyDefaults(cfg)
	return cfg
}

// seed is the value documents are decoded onto. Fields whose zero value is
// meaningful get their defaults here rather than in applyDefaults: an
// explicit "timeout: 0" disables the per-scenario timeout.
func seed() *types.RunConfig {
	return &types.RunConfig{Timeout: DefaultTimeout}
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) configuration file, applies
// defaults and CI overrides, resolves paths relative to the file and
// validates the result. Every failure is a *types.ConfigurationError.
func Load(path string, opts LoadOptions) (*types.RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigurationError{Source: path, Err: err}
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, &types.ConfigurationError{Source: path, Err: err}
	}
	cfg.Source = path
	applyDefaults(cfg)
	baseDir := filepath.Dir(path)
	cfg.TestDir = resolvePath(baseDir, cfg.TestDir)
	cfg.OutputDir = resolvePath(baseDir, cfg.OutputDir)
	cfg.ReportDir = resolvePath(baseDir, cfg.ReportDir)
	if cfg.WebServer != nil {
		cfg.WebServer.Root = resolvePath(baseDir, cfg.WebServer.Root)
	}
	if err := Finalize(cfg, opts); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a configuration document. Unknown keys are rejected.
func Parse(data []byte, ext string) (*types.RunConfig, error) {
	cfg := seed()
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid yaml: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("invalid toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}
	return cfg, nil
}

// Finalize applies defaults and CI overrides and validates cfg in place.
func Finalize(cfg *types.RunConfig, opts LoadOptions) error {
	logger := opts.Log
	if logger == nil {
		logger = log.Root()
	}
	applyDefaults(cfg)
	if opts.CI {
		ApplyCI(cfg)
	}
	if cfg.Use.Video != types.VideoOff {
		logger.Warn("video capture is not supported, ignoring", "video", cfg.Use.Video)
		cfg.Use.Video = types.VideoOff
	}
	return Validate(cfg, opts.Version)
}

func applyDefaults(cfg *types.RunConfig) {
	if cfg.TestDir == "" {
		cfg.TestDir = DefaultTestDir
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = DefaultReportDir
	}
	if cfg.Expect.Timeout == 0 {
		cfg.Expect.Timeout = DefaultExpectTimeout
	}
	if cfg.Use.BaseURL == "" {
		cfg.Use.BaseURL = DefaultBaseURL
	}
	if cfg.Use.Screenshot == "" {
		cfg.Use.Screenshot = types.ScreenshotOn
	}
	if cfg.Use.Trace == "" {
		cfg.Use.Trace = types.TraceOn
	}
	if cfg.Use.Video == "" {
		cfg.Use.Video = types.VideoOff
	}
	if len(cfg.Projects) == 0 {
		cfg.Projects = []types.Project{{Name: DefaultProjectName, Device: DefaultDevice}}
	}
	if ws := cfg.WebServer; ws != nil {
		if ws.Timeout == 0 {
			ws.Timeout = DefaultWebServerTimeout
		}
		if ws.Command == "" && ws.Root == "" {
			ws.Root = "."
		}
	}
}

// ApplyCI merges the ci overrides into cfg.
func ApplyCI(cfg *types.RunConfig) {
	ci := cfg.CI
	if ci == nil {
		ci = &types.CIOverrides{}
	}
	cfg.Retries = derefOr(ci.Retries, ciRetries)
	cfg.Workers = derefOr(ci.Workers, ciWorkers)
	cfg.ForbidOnly = derefOr(ci.ForbidOnly, ciForbidOnly)
	if cfg.WebServer != nil {
		cfg.WebServer.ReuseExistingServer = derefOr(ci.ReuseExistingServer, ciReuse)
	}
	cfg.CIApplied = true
}

func derefOr[T any](p *T, def T) T {
	if p != nil {
		return *p
	}
	return def
}

// Validate checks a defaulted configuration.
func Validate(cfg *types.RunConfig, version string) error {
	src := cfg.Source
	fail := func(field, format string, args ...any) error {
		return types.NewConfigurationError(src, field, format, args...)
	}

	if cfg.Timeout < 0 {
		return fail("timeout", "must not be negative, got %s", cfg.Timeout)
	}
	if cfg.Expect.Timeout < 0 {
		return fail("expect.timeout", "must be positive, got %s", cfg.Expect.Timeout)
	}
	if cfg.Use.ActionTimeout < 0 {
		return fail("use.actionTimeout", "must not be negative, got %s", cfg.Use.ActionTimeout)
	}
	if cfg.Use.NavigationTimeout < 0 {
		return fail("use.navigationTimeout", "must not be negative, got %s", cfg.Use.NavigationTimeout)
	}
	if cfg.Retries < 0 {
		return fail("retries", "must not be negative, got %d", cfg.Retries)
	}
	if cfg.Workers < 0 {
		return fail("workers", "must not be negative, got %d", cfg.Workers)
	}

	u, err := url.Parse(cfg.Use.BaseURL)
	if err != nil {
		return fail("use.baseURL", "%v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fail("use.baseURL", "must be an absolute http(s) url, got %q", cfg.Use.BaseURL)
	}

	switch cfg.Use.Screenshot {
	case types.ScreenshotOff, types.ScreenshotOn, types.ScreenshotOnlyOnFailure:
	default:
		return fail("use.screenshot", "unknown mode %q", cfg.Use.Screenshot)
	}
	switch cfg.Use.Trace {
	case types.TraceOff, types.TraceOn, types.TraceRetainOnFailure, types.TraceOnFirstRetry:
	default:
		return fail("use.trace", "unknown mode %q", cfg.Use.Trace)
	}

	seen := make(map[string]bool, len(cfg.Projects))
	slugs := make(map[string]string, len(cfg.Projects))
	for i, p := range cfg.Projects {
		field := fmt.Sprintf("projects[%d]", i)
		if strings.TrimSpace(p.Name) == "" {
			return fail(field, "name is required")
		}
		if seen[p.Name] {
			return fail(field, "duplicate project name %q", p.Name)
		}
		seen[p.Name] = true
		slug := types.Slug(p.Name)
		if prev, ok := slugs[slug]; ok {
			return fail(field, "project names %q and %q share the artifact directory %q", prev, p.Name, slug)
		}
		slugs[slug] = p.Name
		if _, err := types.ResolveDevice(p); err != nil {
			return fail(field, "%v", err)
		}
	}

	if ws := cfg.WebServer; ws != nil {
		if ws.Port < 0 || ws.Port > 65535 {
			return fail("webServer.port", "out of range: %d", ws.Port)
		}
		if ws.Command != "" && ws.Port == 0 {
			return fail("webServer.port", "required when a command is set")
		}
		if ws.Command == "" {
			info, err := os.Stat(ws.Root)
			if err != nil {
				return fail("webServer.root", "%v", err)
			}
			if !info.IsDir() {
				return fail("webServer.root", "%s is not a directory", ws.Root)
			}
		}
		if ws.Timeout < 0 {
			return fail("webServer.timeout", "must not be negative, got %s", ws.Timeout)
		}
	}

	if cfg.MinVersion != "" {
		minVersion := canonicalVersion(cfg.MinVersion)
		if !semver.IsValid(minVersion) {
			return fail("minVersion", "invalid semantic version %q", cfg.MinVersion)
		}
		if cur := canonicalVersion(version); semver.IsValid(cur) && semver.Compare(cur, minVersion) < 0 {
			return fail("minVersion", "requires op-pagecheck %s or newer, running %s", cfg.MinVersion, version)
		}
	}
	return nil
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// IsCI reports whether the process runs under CI, following the common CI
// environment variable convention.
func IsCI() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CI"))) {
	case "", "0", "false", "no":
		return false
	}
	return true
}

// ResolveWorkers turns a configured worker count into the effective one:
// 0 means one per CPU, capped at MaxWorkers.
func ResolveWorkers(n int) int {
	if n > 0 {
		return n
	}
	return max(1, min(runtime.NumCPU(), MaxWorkers))
}
