package pagecheck

import (
	"context"
	"fmt"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/browser/cdp"
	"github.com/ethereum-optimism/infra/op-pagecheck/browser/static"
	"github.com/ethereum-optimism/infra/op-pagecheck/flags"
	"github.com/ethereum-optimism/infra/op-pagecheck/runconfig"
)

// newDriver starts the browser driver selected by the configuration.
func newDriver(ctx context.Context, cfg *Config, workers int) (browser.Driver, error) {
	logger := cfg.Log.New("driver", string(cfg.Driver))
	switch cfg.Driver {
	case flags.DriverStatic:
		return static.NewDriver(static.Config{Log: logger}), nil
	case flags.DriverCDP, "":
		drv, err := cdp.NewDriver(ctx, cdp.Config{
			Log:       logger,
			ExecPath:  cfg.ChromePath,
			Headless:  !cfg.Headed,
			MaxPages:  runconfig.ResolveWorkers(workers),
			NoSandbox: cfg.CI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
		return drv, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}
