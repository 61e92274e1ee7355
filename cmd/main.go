package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	pagecheck "github.com/ethereum-optimism/infra/op-pagecheck"
	"github.com/ethereum-optimism/infra/op-pagecheck/exitcodes"
	"github.com/ethereum-optimism/infra/op-pagecheck/flags"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-pagecheck"
	app.Usage = "Browser scenario runner for static web pages"
	app.Description = "op-pagecheck runs declarative browser scenarios against a web server across a matrix of browsers and devices"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = exitErrHandler
	return app
}

// exitErrHandler maps errors to exit codes: test failures exit with 1,
// configuration and runtime errors with 2.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	cli.HandleExitCoder(exitCoder(err))
}

// exitCoder keeps the full error message and takes the exit code from the
// innermost error that carries one. RuntimeError and TestFailureError both do.
func exitCoder(err error) cli.ExitCoder {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return cli.Exit(err.Error(), exitErr.ExitCode())
	}
	return cli.Exit(err.Error(), exitcodes.RuntimeErr)
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := pagecheck.NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, pagecheck.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	svc, err := pagecheck.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, pagecheck.NewRuntimeError(fmt.Errorf("failed to create pagecheck: %w", err))
	}

	return svc, nil
}
