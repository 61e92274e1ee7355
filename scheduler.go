package pagecheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
)

// TestScheduler is responsible for scheduling test runs.
type TestScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(func() error)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// DefaultTestScheduler runs the callback once, or periodically at a fixed interval.
type DefaultTestScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	callback func() error

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewDefaultTestScheduler creates a new DefaultTestScheduler.
func NewDefaultTestScheduler(interval time.Duration, runOnce bool, logger log.Logger) *DefaultTestScheduler {
	return &DefaultTestScheduler{
		interval: interval,
		runOnce:  runOnce,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// RegisterCallback registers the callback to be called when tests should run.
func (s *DefaultTestScheduler) RegisterCallback(callback func() error) {
	s.callback = callback
}

// Start runs the callback immediately and, unless in run-once mode, keeps
// running it every interval until stopped.
func (s *DefaultTestScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}

	s.done = make(chan struct{})
	s.running.Store(true)

	if s.runOnce {
		s.logger.Info("Starting scheduler in run-once mode")
		return s.callback()
	}

	s.logger.Info("Starting scheduler in continuous mode", "interval", s.interval)

	if err := s.callback(); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Debug("Starting periodic test runner goroutine", "interval", s.interval)

		for {
			select {
			case <-time.After(s.interval):
				if !s.running.Load() {
					s.logger.Debug("Service stopped, exiting periodic test runner")
					return
				}

				s.logger.Info("Running periodic tests")
				if err := s.callback(); err != nil {
					s.logger.Error("Error running periodic tests", "error", err)
				}
				s.logger.Info("Test run interval", "interval", s.interval)

			case <-s.done:
				s.logger.Debug("Done signal received, stopping periodic test runner")
				return

			case <-ctx.Done():
				s.logger.Debug("Context canceled, stopping periodic test runner")
				s.running.Store(false)
				return
			}
		}
	}()

	return nil
}

// Stop stops the scheduler.
func (s *DefaultTestScheduler) Stop() error {
	if !s.running.Load() {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}
	s.running.Store(false)

	s.logger.Debug("Sending done signal to goroutines")
	close(s.done)
	return nil
}

// Stopped returns true if the scheduler is stopped.
func (s *DefaultTestScheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
func (s *DefaultTestScheduler) WaitForShutdown(ctx context.Context) error {
	return waitGroupWithContext(ctx, &s.wg, s.logger)
}

// WatchScheduler runs the callback once on start and again whenever a watched
// scenario or config file changes. Bursts of events within the debounce
// window trigger a single run.
type WatchScheduler struct {
	paths    []string
	debounce time.Duration
	logger   log.Logger
	callback func() error

	watcher *fsnotify.Watcher
	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatchScheduler watches the given files and directories. Directories are
// watched recursively.
func NewWatchScheduler(paths []string, debounce time.Duration, logger log.Logger) *WatchScheduler {
	return &WatchScheduler{
		paths:    paths,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// RegisterCallback registers the callback to be called when tests should run.
func (s *WatchScheduler) RegisterCallback(callback func() error) {
	s.callback = callback
}

// Start begins watching and runs the callback once immediately.
func (s *WatchScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	for _, p := range s.paths {
		if err := addWatchPath(watcher, p); err != nil {
			_ = watcher.Close()
			return err
		}
	}
	s.watcher = watcher
	s.done = make(chan struct{})
	s.running.Store(true)

	s.logger.Info("Starting scheduler in watch mode", "paths", s.paths, "debounce", s.debounce)
	if err := s.callback(); err != nil {
		s.shutdown()
		return err
	}

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

func (s *WatchScheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	defer func() { _ = s.watcher.Close() }()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !isRelevantChange(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addWatchPath(s.watcher, ev.Name); err != nil {
						s.logger.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			s.logger.Debug("File change detected", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("File watcher error", "error", err)

		case <-fire:
			fire = nil
			if !s.running.Load() {
				return
			}
			s.logger.Info("Changes detected, re-running scenarios")
			if err := s.callback(); err != nil {
				s.logger.Error("Error running tests after change", "error", err)
			}

		case <-s.done:
			return

		case <-ctx.Done():
			s.running.Store(false)
			return
		}
	}
}

func (s *WatchScheduler) shutdown() {
	s.running.Store(false)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

// Stop stops watching.
func (s *WatchScheduler) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	close(s.done)
	return nil
}

// Stopped returns true if the scheduler is stopped.
func (s *WatchScheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until the watch loop has terminated.
func (s *WatchScheduler) WaitForShutdown(ctx context.Context) error {
	return waitGroupWithContext(ctx, &s.wg, s.logger)
}

func addWatchPath(watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("cannot watch %s: %w", root, err)
	}
	if !info.IsDir() {
		// Watch the parent so editors that replace the file are still seen.
		return watcher.Add(filepath.Dir(root))
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("cannot watch %s: %w", path, err)
		}
		return nil
	})
}

func isRelevantChange(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			return true
		}
	}
	switch strings.ToLower(filepath.Ext(ev.Name)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

func waitGroupWithContext(ctx context.Context, wg *sync.WaitGroup, logger log.Logger) error {
	logger.Debug("Waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		logger.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
