package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-pagecheck/reporting"
	"github.com/ethereum-optimism/infra/op-pagecheck/templates"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
	"github.com/ethereum-optimism/infra/op-pagecheck/ui"
)

const (
	HTMLResultsFilename = "results.html"
	RunDirectoryPrefix  = "testrun-" // Standardized prefix for run directories
	TableFilename       = "table.log"

	boxWidth = 72
)

// ResultSink is an interface for different ways of consuming scenario results
type ResultSink interface {
	// Consume processes a single scenario result
	Consume(result *types.ExecutionResult, runID string) error
	// Complete is called when all results have been consumed
	Complete(runID string) error
}

// FileLogger handles writing run output to files
type FileLogger struct {
	baseDir      string                // Base directory for logs
	logDir       string                // Root log directory
	failedDir    string                // Directory for failed scenarios
	summaryFile  string                // Path to the summary file
	allLogsFile  string                // Path to the combined log file
	mu           sync.Mutex            // Protects concurrent file operations
	sinks        []ResultSink          // Collection of result consumers
	asyncWriters map[string]*AsyncFile // Map of async file writers
	runID        string                // Current run ID
	htmlSink     *reporting.ReportingHTMLSink
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(filepath string) (*AsyncFile, error) {
	file, err := os.Create(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filepath, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates the run directory under baseDir and registers the
// default sinks: all.log, per-scenario logs, results.json, results.html and summary.log.
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, "failed")

	dirs := []string{
		baseDir,
		logDir,
		failedDir,
		filepath.Join(logDir, "passed"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger := &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		failedDir:    failedDir,
		summaryFile:  filepath.Join(logDir, "summary.log"),
		allLogsFile:  filepath.Join(logDir, "all.log"),
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
	}

	logger.sinks = append(logger.sinks,
		&AllLogsFileSink{logger: logger},
		&PerScenarioFileSink{logger: logger, processed: make(map[string]bool)},
		NewResultsJSONSink(logger),
	)

	htmlSink, err := reporting.NewReportingHTMLSink(baseDir, runID, templates.ResultsHTML, ScenarioLogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTML sink: %w", err)
	}
	logger.htmlSink = htmlSink
	logger.sinks = append(logger.sinks, htmlSink)

	logger.sinks = append(logger.sinks, reporting.NewReportingTextSummarySink(baseDir, runID, false))

	return logger, nil
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}

	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

func (l *FileLogger) closeAllWriters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.asyncWriters {
		_ = writer.Close()
	}
	l.asyncWriters = make(map[string]*AsyncFile)
}

// GetDirectoryForRunID returns the path for a specific runID
// The runID must be provided, otherwise an error is returned
func (l *FileLogger) GetDirectoryForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	if runID == l.runID {
		return l.logDir, nil
	}
	return filepath.Join(l.baseDir, RunDirectoryPrefix+runID), nil
}

// SetConfigSnapshot attaches the effective configuration to the HTML report of runID
func (l *FileLogger) SetConfigSnapshot(runID string, snap *types.EffectiveConfigSnapshot) {
	if l.htmlSink != nil {
		l.htmlSink.SetConfigSnapshot(runID, snap)
	}
}

// LogScenarioResult processes a scenario result through all registered sinks
func (l *FileLogger) LogScenarioResult(result *types.ExecutionResult, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	for _, sink := range l.sinks {
		if err := sink.Consume(result, runID); err != nil {
			return fmt.Errorf("error in sink: %w", err)
		}
	}
	return nil
}

// LogSummary writes the console results table to table.log in the run directory
func (l *FileLogger) LogSummary(summary string, runID string) error {
	dir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return err
	}
	writer, err := l.getAsyncWriter(filepath.Join(dir, TableFilename))
	if err != nil {
		return err
	}
	return writer.Write([]byte(stripansi.Strip(summary)))
}

// Complete finalizes all sinks and closes all file writers
func (l *FileLogger) Complete(runID string) error {
	return l.CompleteWithTiming(runID, 0)
}

// CompleteWithTiming finalizes all sinks, reporting wallClockTime as the run duration
func (l *FileLogger) CompleteWithTiming(runID string, wallClockTime time.Duration) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	defer l.closeAllWriters()

	for _, sink := range l.sinks {
		var err error
		if timed, ok := sink.(interface {
			CompleteWithTiming(string, time.Duration) error
		}); ok && wallClockTime > 0 {
			err = timed.CompleteWithTiming(runID, wallClockTime)
		} else {
			err = sink.Complete(runID)
		}
		if err != nil {
			return fmt.Errorf("error completing sink: %w", err)
		}
	}
	return nil
}

// GetRunID returns the current runID
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// GetBaseDir returns the base directory for this run
func (l *FileLogger) GetBaseDir() string {
	return l.baseDir
}

// GetLogDir returns the testrun-<runID> directory
func (l *FileLogger) GetLogDir() string {
	return l.logDir
}

// GetFailedDir returns the directory containing logs for failed scenarios
func (l *FileLogger) GetFailedDir() string {
	return l.failedDir
}

// GetSummaryFile returns the path to the summary file
func (l *FileLogger) GetSummaryFile() string {
	return l.summaryFile
}

// GetAllLogsFile returns the path to the all logs file
func (l *FileLogger) GetAllLogsFile() string {
	return l.allLogsFile
}

// GetAllLogsFileForRunID returns the path to the all.log file for the given runID
func (l *FileLogger) GetAllLogsFileForRunID(runID string) (string, error) {
	baseDir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "all.log"), nil
}

// GetSinkByType returns a sink of the specified type if it exists
// The type is determined by the name of the sink's struct
func (l *FileLogger) GetSinkByType(sinkType string) (ResultSink, bool) {
	for _, sink := range l.sinks {
		typeName := fmt.Sprintf("%T", sink)
		if idx := strings.LastIndex(typeName, "."); idx >= 0 {
			typeName = typeName[idx+1:]
		}
		if typeName == sinkType {
			return sink, true
		}
	}
	return nil, false
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
		"...", "",
	)
	return replacer.Replace(s)
}

// ScenarioLogFilename returns the per-scenario log file name, without directory
func ScenarioLogFilename(result *types.ExecutionResult) string {
	return safeFilename(fmt.Sprintf("%s_%s_%s", result.Project, result.Suite, result.Scenario)) + ".log"
}

// ScenarioLogPath returns the per-scenario log path relative to the run directory
func ScenarioLogPath(result *types.ExecutionResult) string {
	return filepath.ToSlash(filepath.Join(statusDir(result), ScenarioLogFilename(result)))
}

func statusDir(result *types.ExecutionResult) string {
	if result.Status.Failed() {
		return "failed"
	}
	return "passed"
}

// AllLogsFileSink writes all scenario results to a single "all.log" file
type AllLogsFileSink struct {
	logger *FileLogger
}

// Consume appends a result block to all.log
func (s *AllLogsFileSink) Consume(result *types.ExecutionResult, runID string) error {
	allLogsFile, err := s.logger.GetAllLogsFileForRunID(runID)
	if err != nil {
		return err
	}
	writer, err := s.logger.getAsyncWriter(allLogsFile)
	if err != nil {
		return err
	}

	var content strings.Builder
	content.WriteString("\n")
	content.WriteString(ui.BuildBoxHeader("SCENARIO: "+result.Scenario, boxWidth))
	content.WriteString(ui.BuildBoxLine("Status:   "+string(result.Status), boxWidth))
	content.WriteString(ui.BuildBoxLine("Project:  "+result.Project+" ("+result.Device+")", boxWidth))
	content.WriteString(ui.BuildBoxLine("Suite:    "+result.Suite+" ("+result.File+")", boxWidth))
	content.WriteString(ui.BuildBoxLine("Duration: "+result.Duration.String(), boxWidth))
	content.WriteString(ui.BuildBoxLine(fmt.Sprintf("Attempts: %d", len(result.Attempts)), boxWidth))
	content.WriteString(ui.BuildBoxLine("Time:     "+time.Now().Format(time.RFC3339), boxWidth))
	content.WriteString(ui.BuildBoxFooter(boxWidth))
	content.WriteString("\n")

	if result.FailureReason != "" {
		content.WriteString("REASON:\n")
		content.WriteString("~~~~~~~\n")
		fmt.Fprintf(&content, "%s\n\n", stripansi.Strip(result.FailureReason))
	}
	if len(result.ConsoleErrors) > 0 {
		content.WriteString("CONSOLE ERRORS:\n")
		content.WriteString("~~~~~~~~~~~~~~~\n")
		for _, msg := range result.ConsoleErrors {
			fmt.Fprintf(&content, "%s\n", indentText(stripansi.Strip(msg), "  "))
		}
		content.WriteString("\n")
	}

	return writer.Write([]byte(content.String()))
}

// Complete is a no-op for AllLogsFileSink
func (s *AllLogsFileSink) Complete(runID string) error {
	return nil
}

// indentText adds indentation to each line of text for better readability
func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// PerScenarioFileSink writes one log per scenario into the passed or failed directory
type PerScenarioFileSink struct {
	logger    *FileLogger
	processed map[string]bool
	mu        sync.Mutex
}

// Consume writes the full attempt history of a scenario to its own file
func (s *PerScenarioFileSink) Consume(result *types.ExecutionResult, runID string) error {
	baseDir, err := s.logger.GetDirectoryForRunID(runID)
	if err != nil {
		return err
	}
	path := filepath.Join(baseDir, filepath.FromSlash(ScenarioLogPath(result)))

	s.mu.Lock()
	if s.processed[path] {
		s.mu.Unlock()
		return nil
	}
	s.processed[path] = true
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(formatScenarioLog(result)), 0644); err != nil {
		return fmt.Errorf("failed to write scenario log %s: %w", path, err)
	}
	return nil
}

// Complete is a no-op for PerScenarioFileSink
func (s *PerScenarioFileSink) Complete(runID string) error {
	return nil
}

func formatScenarioLog(result *types.ExecutionResult) string {
	var b strings.Builder
	b.WriteString(ui.BuildBoxHeader("SCENARIO: "+result.ID(), boxWidth))
	b.WriteString(ui.BuildBoxLine("Status:   "+string(result.Status), boxWidth))
	b.WriteString(ui.BuildBoxLine("Device:   "+result.Device, boxWidth))
	b.WriteString(ui.BuildBoxLine("File:     "+result.File, boxWidth))
	b.WriteString(ui.BuildBoxLine("Duration: "+result.Duration.String(), boxWidth))
	if result.Flaky {
		b.WriteString(ui.BuildBoxLine("Flaky:    passed after retry", boxWidth))
	}
	b.WriteString(ui.BuildBoxFooter(boxWidth))

	for _, attempt := range result.Attempts {
		fmt.Fprintf(&b, "\nATTEMPT %d: %s (%s)\n", attempt.Attempt+1, attempt.Status, attempt.Duration)
		for i, step := range attempt.Steps {
			prefix := strings.Repeat(ui.TreeIndent, step.Depth)
			branch := ui.TreeBranch
			if i == len(attempt.Steps)-1 {
				branch = ui.TreeLastBranch
			}
			fmt.Fprintf(&b, "%s%s[%s] %s (%s)\n", prefix, branch, step.Status, step.Name, step.Duration)
			if step.Error != "" {
				fmt.Fprintf(&b, "%s\n", indentText(stripansi.Strip(step.Error), prefix+ui.TreeIndent+"  "))
			}
		}
		if attempt.FailureReason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", stripansi.Strip(attempt.FailureReason))
		}
		for _, msg := range attempt.ConsoleErrors {
			fmt.Fprintf(&b, "Console: %s\n", stripansi.Strip(msg))
		}
		for _, artifact := range attempt.Artifacts {
			fmt.Fprintf(&b, "Artifact: %s\n", artifact)
		}
	}
	return b.String()
}
