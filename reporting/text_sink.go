package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// ReportingTextSummarySink writes summary.log into the run directory
type ReportingTextSummarySink struct {
	formatter   *TextFormatter
	baseDir     string
	loggerRunID string
	testResults map[string][]*types.ExecutionResult
}

// NewReportingTextSummarySink creates a new text summary sink
func NewReportingTextSummarySink(baseDir, loggerRunID string, includeSteps bool) *ReportingTextSummarySink {
	return &ReportingTextSummarySink{
		formatter:   NewTextFormatter(includeSteps),
		baseDir:     baseDir,
		loggerRunID: loggerRunID,
		testResults: make(map[string][]*types.ExecutionResult),
	}
}

// Consume collects results for later text summary generation
func (s *ReportingTextSummarySink) Consume(result *types.ExecutionResult, runID string) error {
	s.testResults[runID] = append(s.testResults[runID], result)
	return nil
}

// Complete generates the text summary file
func (s *ReportingTextSummarySink) Complete(runID string) error {
	data := NewReportBuilder().BuildFromResults(s.testResults[runID], runID)

	outputDir := filepath.Join(s.baseDir, "testrun-"+runID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	content, err := s.formatter.Format(data)
	if err != nil {
		return fmt.Errorf("failed to format text summary: %w", err)
	}

	summaryFile := filepath.Join(outputDir, "summary.log")
	if err := os.WriteFile(summaryFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

// TableReporter renders the console results table
type TableReporter struct {
	formatter *TableFormatter
}

// NewTableReporter creates a new table reporter
func NewTableReporter(title string, showScenarios bool) *TableReporter {
	return &TableReporter{formatter: NewTableFormatter(title, showScenarios)}
}

// GenerateTable builds the table for results given in run order
func (tr *TableReporter) GenerateTable(results []*types.ExecutionResult, runID string) (string, error) {
	data := NewReportBuilder().BuildFromResults(results, runID)
	return tr.formatter.Format(data)
}

// PrintTable generates and prints the table to stdout
func (tr *TableReporter) PrintTable(results []*types.ExecutionResult, runID string) error {
	content, err := tr.GenerateTable(results, runID)
	if err != nil {
		return err
	}
	_, err = fmt.Print(content)
	return err
}
