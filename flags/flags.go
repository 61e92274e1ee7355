package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_PAGECHECK"

// DriverType selects the browser automation backend.
type DriverType string

const (
	DriverCDP    DriverType = "cdp"
	DriverStatic DriverType = "static"
)

func (d DriverType) IsValid() bool {
	return d == DriverCDP || d == DriverStatic
}

var (
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "pagecheck.yaml",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to the run configuration file (.yaml, .yml or .toml)",
	}
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTDIR"),
		Usage:   "Directory containing scenario files. Overrides testDir from the config file",
	}
	Project = &cli.StringSliceFlag{
		Name:    "project",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROJECT"),
		Usage:   "Only run the named project. Repeatable",
	}
	Grep = &cli.StringFlag{
		Name:    "grep",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GREP"),
		Usage:   "Only run scenarios whose \"suite > scenario\" title matches this regular expression",
	}
	Tag = &cli.StringSliceFlag{
		Name:    "tag",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TAG"),
		Usage:   "Only run scenarios tagged with this tag, on the scenario or its suite. Repeatable, any listed tag matches",
	}
	Driver = &cli.StringFlag{
		Name:    "driver",
		Value:   string(DriverCDP),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DRIVER"),
		Usage:   fmt.Sprintf("Browser driver to use. Options: %s (Chrome DevTools), %s (in-process HTML/CSS evaluation)", DriverCDP, DriverStatic),
		Action: func(_ *cli.Context, v string) error {
			if !DriverType(v).IsValid() {
				return fmt.Errorf("invalid driver %q, must be one of: %s, %s", v, DriverCDP, DriverStatic)
			}
			return nil
		},
	}
	ChromePath = &cli.StringFlag{
		Name:    "chrome-path",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CHROME_PATH"),
		Usage:   "Path to the Chrome or Chromium executable used by the cdp driver",
	}
	Headed = &cli.BoolFlag{
		Name:    "headed",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEADED"),
		Usage:   "Show the browser window instead of running headless",
	}
	Workers = &cli.IntFlag{
		Name:    "workers",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKERS"),
		Usage:   "Number of concurrent scenario workers. 0 uses the config file value",
	}
	Retries = &cli.IntFlag{
		Name:    "retries",
		Value:   -1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RETRIES"),
		Usage:   "Retries per failing scenario. Negative uses the config file value",
	}
	Serial = &cli.BoolFlag{
		Name:    "serial",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERIAL"),
		Usage:   "Run scenarios one at a time",
	}
	CI = &cli.BoolFlag{
		Name:    "ci",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CI"),
		Usage:   "Apply the ci overrides of the config file. Also enabled by the CI environment variable",
	}
	AllowSkips = &cli.BoolFlag{
		Name:    "allow-skips",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ALLOW_SKIPS"),
		Usage:   "Report projects whose engine the driver cannot run as skipped instead of errored",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Watch = &cli.BoolFlag{
		Name:    "watch",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WATCH"),
		Usage:   "Re-run whenever a scenario file or the config file changes",
	}
	WatchDebounce = &cli.DurationFlag{
		Name:    "watch-debounce",
		Value:   500 * time.Millisecond,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WATCH_DEBOUNCE"),
		Usage:   "Quiet period after a file change before a watch run starts",
	}
	FlakeShake = &cli.BoolFlag{
		Name:    "flake-shake",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FLAKE_SHAKE"),
		Usage:   "Run every scenario repeatedly and report the ones whose outcome changes",
	}
	FlakeShakeIterations = &cli.IntFlag{
		Name:    "flake-shake-iterations",
		Value:   10,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FLAKE_SHAKE_ITERATIONS"),
		Usage:   "Number of runs per scenario in flake-shake mode",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress while scenarios run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the /healthz endpoint. Empty disables it",
	}
)

var optionalFlags = []cli.Flag{
	ConfigFile,
	TestDir,
	Project,
	Grep,
	Tag,
	Driver,
	ChromePath,
	Headed,
	Workers,
	Retries,
	Serial,
	CI,
	AllowSkips,
	RunInterval,
	Watch,
	WatchDebounce,
	FlakeShake,
	FlakeShakeIterations,
	ShowProgress,
	ProgressInterval,
	HealthzAddr,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = optionalFlags
}

// CheckExclusive rejects flag combinations that select more than one run mode.
func CheckExclusive(ctx *cli.Context) error {
	modes := 0
	for _, set := range []bool{
		ctx.Duration(RunInterval.Name) > 0,
		ctx.Bool(Watch.Name),
		ctx.Bool(FlakeShake.Name),
	} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return fmt.Errorf("--%s, --%s and --%s are mutually exclusive", RunInterval.Name, Watch.Name, FlakeShake.Name)
	}
	if ctx.Bool(FlakeShake.Name) && ctx.Int(FlakeShakeIterations.Name) < 1 {
		return fmt.Errorf("--%s must be at least 1", FlakeShakeIterations.Name)
	}
	return nil
}
