package pagecheck

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-pagecheck/flags"
	"github.com/ethereum-optimism/infra/op-pagecheck/runconfig"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// Config holds the application configuration
type Config struct {
	ConfigFile           string           // Run configuration file, may not exist when ConfigOptional
	ConfigOptional       bool             // Fall back to built-in defaults when ConfigFile is missing
	TestDir              string           // Overrides the testDir of the run configuration
	Projects             []string         // Restricts the matrix to these projects
	Grep                 string           // Scenario title filter
	Tags                 []string         // Scenario tag filter
	Driver               flags.DriverType // Browser driver
	ChromePath           string           // Browser executable for the cdp driver
	Headed               bool             // Show the browser window
	Workers              int              // Overrides workers when positive
	Retries              int              // Overrides retries when not negative
	Serial               bool             // Run scenarios one at a time
	CI                   bool             // Merge the ci overrides
	AllowSkips           bool             // Skip instead of error on unsupported engines
	RunInterval          time.Duration    // Interval between runs
	RunOnce              bool             // Exit after one run
	Watch                bool             // Re-run on scenario or config changes
	WatchDebounce        time.Duration    // Quiet period before a watch run
	FlakeShake           bool             // Enable flake-shake mode
	FlakeShakeIterations int              // Number of runs per scenario in flake-shake mode
	ShowProgress         bool             // Log periodic progress during runs
	ProgressInterval     time.Duration    // Interval between progress updates
	HealthzAddr          string           // Listen address of /healthz, empty disables it
	MetricsAddr          string           // Listen address of /metrics, empty disables it
	Log                  log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckExclusive(ctx); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	configFile := ctx.String(flags.ConfigFile.Name)
	if configFile == "" {
		return nil, errors.New("config file path is required")
	}
	absConfig, err := filepath.Abs(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for config file '%s': %w", configFile, err)
	}

	testDir := ctx.String(flags.TestDir.Name)
	if testDir != "" {
		testDir, err = filepath.Abs(testDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", ctx.String(flags.TestDir.Name), err)
		}
	}

	driver := flags.DriverType(ctx.String(flags.Driver.Name))
	if !driver.IsValid() {
		return nil, fmt.Errorf("invalid driver: %s. Must be one of: %s, %s", driver, flags.DriverCDP, flags.DriverStatic)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	watch := ctx.Bool(flags.Watch.Name)

	var metricsAddr string
	if metricsCfg := opmetrics.ReadCLIConfig(ctx); metricsCfg.Enabled {
		if err := metricsCfg.Check(); err != nil {
			return nil, fmt.Errorf("invalid metrics config: %w", err)
		}
		metricsAddr = net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort))
	}

	return &Config{
		ConfigFile:           absConfig,
		ConfigOptional:       !ctx.IsSet(flags.ConfigFile.Name),
		TestDir:              testDir,
		Projects:             ctx.StringSlice(flags.Project.Name),
		Grep:                 ctx.String(flags.Grep.Name),
		Tags:                 ctx.StringSlice(flags.Tag.Name),
		Driver:               driver,
		ChromePath:           ctx.String(flags.ChromePath.Name),
		Headed:               ctx.Bool(flags.Headed.Name),
		Workers:              ctx.Int(flags.Workers.Name),
		Retries:              ctx.Int(flags.Retries.Name),
		Serial:               ctx.Bool(flags.Serial.Name),
		CI:                   ctx.Bool(flags.CI.Name) || runconfig.IsCI(),
		AllowSkips:           ctx.Bool(flags.AllowSkips.Name),
		RunInterval:          runInterval,
		RunOnce:              runInterval == 0 && !watch,
		Watch:                watch,
		WatchDebounce:        ctx.Duration(flags.WatchDebounce.Name),
		FlakeShake:           ctx.Bool(flags.FlakeShake.Name),
		FlakeShakeIterations: ctx.Int(flags.FlakeShakeIterations.Name),
		ShowProgress:         ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval:     ctx.Duration(flags.ProgressInterval.Name),
		HealthzAddr:          ctx.String(flags.HealthzAddr.Name),
		MetricsAddr:          metricsAddr,
		Log:                  log,
	}, nil
}

// LoadRunConfig reads the run configuration and applies the command line
// overrides on top of it. Failures are *types.ConfigurationError.
func (c *Config) LoadRunConfig(version string) (*types.RunConfig, error) {
	opts := runconfig.LoadOptions{Log: c.Log, CI: c.CI, Version: version}

	var rc *types.RunConfig
	if _, err := os.Stat(c.ConfigFile); errors.Is(err, os.ErrNotExist) && c.ConfigOptional {
		c.Log.Info("No config file found, using defaults", "path", c.ConfigFile)
		rc = runconfig.Default()
		if err := runconfig.Finalize(rc, opts); err != nil {
			return nil, err
		}
	} else {
		rc, err = runconfig.Load(c.ConfigFile, opts)
		if err != nil {
			return nil, err
		}
	}

	if c.TestDir != "" {
		rc.TestDir = c.TestDir
	}
	if c.Retries >= 0 {
		rc.Retries = c.Retries
	}
	switch {
	case c.Serial:
		rc.Workers = 1
	case c.Workers > 0:
		rc.Workers = c.Workers
	}
	return rc, nil
}

// Snapshot records the effective configuration of a run for the report.
func (c *Config) Snapshot(rc *types.RunConfig, runID, version string) *types.EffectiveConfigSnapshot {
	projects := rc.ProjectNames()
	if len(c.Projects) > 0 {
		projects = c.Projects
	}
	snap := &types.EffectiveConfigSnapshot{
		Runner: types.RunnerConfigSnapshot{
			Timeout:          rc.Timeout,
			ExpectTimeout:    rc.Expect.Timeout,
			ActionTimeout:    rc.Use.ActionTimeout,
			Retries:          rc.Retries,
			Workers:          runconfig.ResolveWorkers(rc.Workers),
			FullyParallel:    rc.FullyParallel,
			ForbidOnly:       rc.ForbidOnly,
			AllowSkips:       c.AllowSkips,
			CI:               rc.CIApplied,
			ShowProgress:     c.ShowProgress,
			ProgressInterval: c.ProgressInterval,
		},
		Browser: types.BrowserConfigSnapshot{
			Driver:     string(c.Driver),
			Headless:   !c.Headed,
			Projects:   projects,
			Screenshot: rc.Use.Screenshot,
			Trace:      rc.Use.Trace,
			BaseURL:    rc.Use.BaseURL,
		},
		Execution: types.ExecutionConfigSnapshot{
			RunInterval:          c.RunInterval,
			RunOnce:              c.RunOnce,
			Watch:                c.Watch,
			Grep:                 c.Grep,
			Tags:                 c.Tags,
			FlakeShake:           c.FlakeShake,
			FlakeShakeIterations: c.FlakeShakeIterations,
		},
		Paths: types.PathsConfigSnapshot{
			ConfigFile: rc.Source,
			TestDir:    rc.TestDir,
			OutputDir:  rc.OutputDir,
			ReportDir:  rc.ReportDir,
		},
		RunID:   runID,
		Version: version,
	}
	if ws := rc.WebServer; ws != nil {
		snap.Server = types.ServerConfigSnapshot{
			Command:             ws.Command,
			Port:                ws.Port,
			Root:                ws.Root,
			ReuseExistingServer: ws.ReuseExistingServer,
		}
	}
	return snap
}
