package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// ProgressIndicator interface for UI updates
type ProgressIndicator interface {
	StartProject(projectName string, totalTests int)
	StartSuite(suiteName string, totalTests int)
	StartTest(testName string)
	UpdateTest(testName string, status types.TestStatus)
	CompleteSuite(suiteName string)
	CompleteProject(projectName string)
	Stop()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartProject(projectName string, totalTests int)     {}
func (n *noOpProgressIndicator) StartSuite(suiteName string, totalTests int)         {}
func (n *noOpProgressIndicator) StartTest(testName string)                           {}
func (n *noOpProgressIndicator) UpdateTest(testName string, status types.TestStatus) {}
func (n *noOpProgressIndicator) CompleteSuite(suiteName string)                      {}
func (n *noOpProgressIndicator) CompleteProject(projectName string)                  {}
func (n *noOpProgressIndicator) Stop()                                               {}

// consoleProgressIndicator logs periodic progress while scenarios run
type consoleProgressIndicator struct {
	logger   log.Logger
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex

	projects       []string
	completedTests int
	totalTests     int
	failedTests    int
	startTime      time.Time

	// Track currently running scenarios
	runningTests map[string]time.Time
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second
	}

	indicator := &consoleProgressIndicator{
		logger:       logger,
		ticker:       time.NewTicker(updateInterval),
		stopCh:       make(chan struct{}),
		runningTests: make(map[string]time.Time),
		startTime:    time.Now(),
	}

	go indicator.progressReporter()

	return indicator
}

// StartProject adds a project's scenarios to the expected total. Projects run
// concurrently, so totals accumulate instead of resetting.
func (c *consoleProgressIndicator) StartProject(projectName string, totalTests int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.projects = append(c.projects, projectName)
	c.totalTests += totalTests
	c.logger.Info("Starting project", "project", projectName, "scenarios", totalTests)
}

func (c *consoleProgressIndicator) StartSuite(suiteName string, totalTests int) {
	c.logger.Debug("Queued suite", "suite", suiteName, "scenarios", totalTests)
}

func (c *consoleProgressIndicator) StartTest(testName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningTests[testName] = time.Now()
	c.logger.Debug("Scenario started", "scenario", testName, "running", len(c.runningTests))
}

func (c *consoleProgressIndicator) UpdateTest(testName string, status types.TestStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningTests, testName)
	c.completedTests++
	if status.Failed() {
		c.failedTests++
	}
	c.logger.Debug("Scenario completed", "scenario", testName, "status", status,
		"completed", c.completedTests, "total", c.totalTests)
}

func (c *consoleProgressIndicator) CompleteSuite(suiteName string) {
	c.logger.Debug("Completed suite", "suite", suiteName)
}

func (c *consoleProgressIndicator) CompleteProject(projectName string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.logger.Info("Completed project", "project", projectName,
		"duration", time.Since(c.startTime).Truncate(time.Second))
}

func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var percentComplete float64
	if c.totalTests > 0 {
		percentComplete = float64(c.completedTests) * 100.0 / float64(c.totalTests)
	}

	c.logger.Info("Progress update",
		"projects", strings.Join(c.projects, ","),
		"completed", c.completedTests,
		"total", c.totalTests,
		"failed", c.failedTests,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"numRunning", len(c.runningTests),
		"longestRunning", formatRunningTests(c.runningTests, 3),
	)
}

// Stop stops the progress indicator. It is safe to call more than once.
func (c *consoleProgressIndicator) Stop() {
	c.stopOnce.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatRunningTests lists the longest running scenarios first
func formatRunningTests(runningTests map[string]time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	type runningTest struct {
		name     string
		duration time.Duration
	}

	var running []runningTest
	now := time.Now()
	for name, startTime := range runningTests {
		running = append(running, runningTest{name: name, duration: now.Sub(startTime)})
	}
	sort.Slice(running, func(i, j int) bool {
		if running[i].duration == running[j].duration {
			return running[i].name < running[j].name
		}
		return running[i].duration > running[j].duration
	})

	var parts []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", test.name, test.duration.Truncate(time.Second)))
	}
	if len(running) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(running)-maxShow))
	}
	return strings.Join(parts, ", ")
}
