package pagecheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/exitcodes"
	"github.com/ethereum-optimism/infra/op-pagecheck/logging"
	"github.com/ethereum-optimism/infra/op-pagecheck/registry"
	"github.com/ethereum-optimism/infra/op-pagecheck/runner"
	"github.com/ethereum-optimism/infra/op-pagecheck/server"
	"github.com/ethereum-optimism/infra/op-pagecheck/service"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// pageCheck implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &pageCheck{}

// pageCheck runs scenario files against a web server across the project matrix.
type pageCheck struct {
	ctx       context.Context
	config    *Config
	version   string
	runConfig *types.RunConfig
	registry  *registry.Registry
	scheduler TestScheduler
	formatter ResultFormatter
	reporter  MetricsReporter

	// acquired in Start
	server  *server.Server
	driver  browser.Driver
	service *service.Service

	mu          sync.Mutex
	result      *runner.RunnerResult
	flakeReport *runner.FlakeShakeReport
	runs        int

	running     atomic.Bool
	releaseOnce sync.Once
	releaseErr  error

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*pageCheck, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		config.Log = log.New()
		config.Log.Info("No logger provided, using default")
	}

	config.Log.Debug("Creating pagecheck with config",
		"configFile", config.ConfigFile,
		"driver", config.Driver,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"watch", config.Watch,
		"allowSkips", config.AllowSkips)

	rc, err := config.LoadRunConfig(version)
	if err != nil {
		return nil, fmt.Errorf("failed to load run configuration: %w", err)
	}

	reg, err := newRegistry(config, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	return &pageCheck{
		ctx:              ctx,
		config:           config,
		version:          version,
		runConfig:        rc,
		registry:         reg,
		formatter:        NewConsoleResultFormatter(config.Log),
		reporter:         NewDefaultMetricsReporter(),
		shutdownCallback: shutdownCallback,
	}, nil
}

func newRegistry(config *Config, rc *types.RunConfig) (*registry.Registry, error) {
	return registry.NewRegistry(registry.Config{
		Log:        config.Log,
		TestDir:    rc.TestDir,
		Grep:       config.Grep,
		Tags:       config.Tags,
		ForbidOnly: rc.ForbidOnly,
	})
}

// Start acquires the web server and browser, then runs the scenarios once,
// periodically or on file changes depending on the configuration.
// Start implements the cliapp.Lifecycle interface.
func (p *pageCheck) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			p.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	p.ctx = ctx
	p.running.Store(true)

	if err := p.acquire(ctx); err != nil {
		p.config.Log.Error("Failed to start", "error", err)
		p.abort(ctx)
		return NewRuntimeError(err)
	}

	p.scheduler = p.newScheduler()
	p.scheduler.RegisterCallback(p.runTests)
	if err := p.scheduler.Start(ctx); err != nil {
		p.config.Log.Error("Runtime error running scenarios", "error", err)
		p.abort(ctx)
		if !IsRuntimeError(err) {
			err = NewRuntimeError(err)
		}
		return err
	}

	if !p.config.RunOnce {
		p.config.Log.Debug("op-pagecheck started successfully")
		return nil
	}

	p.config.Log.Info("Scenarios completed, exiting (run-once mode)")
	if failure := p.outcome(); failure != nil {
		p.config.Log.Warn("Run-once test run completed with failures, returning exit code 1",
			"run_id", failure.RunID, "failed", len(failure.Failed), "total", failure.Total)
		p.abort(ctx)
		return failure
	}

	go func() {
		p.shutdownCallback(nil)
	}()
	return nil
}

// acquire starts the service endpoints, the web server and the browser driver.
func (p *pageCheck) acquire(ctx context.Context) error {
	if p.config.HealthzAddr != "" || p.config.MetricsAddr != "" {
		p.service = service.New(service.Config{
			Log:         p.config.Log,
			HealthzAddr: p.config.HealthzAddr,
			MetricsAddr: p.config.MetricsAddr,
		})
		if err := p.service.Start(ctx); err != nil {
			p.service = nil
			return err
		}
	}

	if ws := p.runConfig.WebServer; ws != nil {
		srv, err := server.Acquire(ctx, server.Config{Log: p.config.Log, WebServer: *ws})
		if err != nil {
			return fmt.Errorf("failed to acquire web server: %w", err)
		}
		p.server = srv
		if ws.Port == 0 {
			p.runConfig.Use.BaseURL = srv.URL()
		}
		p.config.Log.Info("Web server ready", "mode", srv.Mode(), "url", srv.URL())
	}

	drv, err := newDriver(ctx, p.config, p.runConfig.Workers)
	if err != nil {
		return err
	}
	p.driver = drv
	return nil
}

func (p *pageCheck) newScheduler() TestScheduler {
	if p.config.Watch {
		paths := []string{p.runConfig.TestDir}
		if p.runConfig.Source != "" {
			paths = append(paths, p.runConfig.Source)
		}
		return NewWatchScheduler(paths, p.config.WatchDebounce, p.config.Log)
	}
	return NewDefaultTestScheduler(p.config.RunInterval, p.config.RunOnce, p.config.Log)
}

// outcome returns the failure of the last run, or nil when it passed.
func (p *pageCheck) outcome() *TestFailureError {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.flakeReport != nil {
		return newFlakeShakeFailure(p.flakeReport)
	}
	return newRunFailure(p.result)
}

// runTests runs all selected scenarios once and writes every report.
func (p *pageCheck) runTests() error {
	ctx := p.ctx
	if err := p.refresh(); err != nil {
		return NewRuntimeError(err)
	}

	runID := uuid.New().String()
	var progress runner.ProgressIndicator
	if p.config.ShowProgress {
		progress = runner.NewConsoleProgressIndicator(p.config.Log, p.config.ProgressInterval)
	} else {
		progress = runner.NewNoOpProgressIndicator()
	}
	defer progress.Stop()

	if p.config.FlakeShake {
		return p.runFlakeShake(ctx, runID, progress)
	}

	fileLogger, err := logging.NewFileLogger(p.runConfig.ReportDir, runID)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create file logger: %w", err))
	}
	fileLogger.SetConfigSnapshot(runID, p.config.Snapshot(p.runConfig, runID, p.version))

	testRunner, err := p.newRunner(fileLogger, progress)
	if err != nil {
		return NewRuntimeError(err)
	}

	result, err := NewDefaultTestExecutor(testRunner, p.config.Log).RunTests(ctx)
	if err != nil {
		// This is a runtime error (not a test failure)
		return NewRuntimeError(err)
	}
	p.mu.Lock()
	p.result = result
	p.mu.Unlock()

	if err := fileLogger.CompleteWithTiming(runID, result.WallClockTime); err != nil {
		p.config.Log.Error("Failed to complete run reports", "error", err)
	}

	table, err := p.formatter.FormatResults(result)
	if err != nil {
		p.config.Log.Error("Failed to format results", "error", err)
	} else if err := fileLogger.LogSummary(table, runID); err != nil {
		p.config.Log.Error("Failed to write results table", "error", err)
	}

	p.reporter.ReportResults(runID, result)
	p.config.Log.Info("Reports written", "run_id", runID, "dir", fileLogger.GetLogDir(), "status", result.Status)
	if result.Interrupted {
		return NewRuntimeError(fmt.Errorf("%w: %w", runner.ErrRunInterrupted, context.Cause(ctx)))
	}
	return nil
}

// refresh reloads the scenarios before a run. In watch mode the run
// configuration is read again as well; the server and browser are kept.
func (p *pageCheck) refresh() error {
	p.mu.Lock()
	first := p.runs == 0
	p.runs++
	p.mu.Unlock()
	if first {
		return nil
	}
	if !p.config.Watch {
		return p.registry.Reload()
	}

	rc, err := p.config.LoadRunConfig(p.version)
	if err != nil {
		return fmt.Errorf("failed to reload run configuration: %w", err)
	}
	if p.server != nil {
		rc.WebServer = p.runConfig.WebServer
		rc.Use.BaseURL = p.runConfig.Use.BaseURL
	}
	reg, err := newRegistry(p.config, rc)
	if err != nil {
		return fmt.Errorf("failed to reload scenarios: %w", err)
	}
	p.runConfig = rc
	p.registry = reg
	return nil
}

func (p *pageCheck) newRunner(fileLogger *logging.FileLogger, progress runner.ProgressIndicator) (runner.TestRunner, error) {
	testRunner, err := runner.NewTestRunner(runner.Config{
		Registry:   p.registry,
		RunConfig:  p.runConfig,
		Driver:     p.driver,
		Log:        p.config.Log,
		Projects:   p.config.Projects,
		AllowSkips: p.config.AllowSkips,
		FileLogger: fileLogger,
		Progress:   progress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}
	return testRunner, nil
}

func (p *pageCheck) runFlakeShake(ctx context.Context, runID string, progress runner.ProgressIndicator) error {
	base, err := p.newRunner(nil, progress)
	if err != nil {
		return NewRuntimeError(err)
	}
	report, err := runner.NewFlakeShakeRunner(base, p.config.FlakeShakeIterations, p.config.Log).RunFlakeShake(ctx, runID)
	if err != nil {
		return NewRuntimeError(err)
	}
	p.mu.Lock()
	p.flakeReport = report
	p.mu.Unlock()

	dir := filepath.Join(p.runConfig.ReportDir, "flake-shake-"+runID)
	files, err := runner.SaveFlakeShakeReport(report, dir)
	if err != nil {
		p.config.Log.Error("Failed to save flake-shake report", "error", err)
	}
	p.config.Log.Info("Flake-shake completed",
		"run_id", runID,
		"scenarios", len(report.Scenarios),
		"unstable", len(report.Unstable()),
		"files", files)
	return nil
}

// Stop stops the scheduler and releases the browser and web server.
// Stop implements the cliapp.Lifecycle interface.
func (p *pageCheck) Stop(ctx context.Context) error {
	p.config.Log.Info("Stopping op-pagecheck")

	if !p.running.Load() {
		p.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	p.running.Store(false)

	var errs []error
	if p.scheduler != nil {
		errs = append(errs, p.scheduler.Stop(), p.scheduler.WaitForShutdown(ctx))
	}
	errs = append(errs, p.release(ctx))

	p.config.Log.Info("op-pagecheck stopped successfully")
	return errors.Join(errs...)
}

// abort tears down after a failed start.
func (p *pageCheck) abort(ctx context.Context) {
	p.running.Store(false)
	if p.scheduler != nil {
		_ = p.scheduler.Stop()
	}
	if err := p.release(ctx); err != nil {
		p.config.Log.Warn("Failed to release resources", "error", err)
	}
}

func (p *pageCheck) release(ctx context.Context) error {
	p.releaseOnce.Do(func() {
		var errs []error
		if p.driver != nil {
			if err := p.driver.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
			}
		}
		if p.server != nil {
			if err := p.server.Release(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to release web server: %w", err))
			}
		}
		if p.service != nil {
			p.service.Shutdown()
		}
		p.releaseErr = errors.Join(errs...)
	})
	return p.releaseErr
}

// Stopped returns true if the op-pagecheck service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (p *pageCheck) Stopped() bool {
	return !p.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (p *pageCheck) WaitForShutdown(ctx context.Context) error {
	if p.scheduler == nil {
		return nil
	}
	return p.scheduler.WaitForShutdown(ctx)
}

// Result returns the outcome of the most recent run.
func (p *pageCheck) Result() *runner.RunnerResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}
