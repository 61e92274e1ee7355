package pagecheck

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-pagecheck/reporting"
	"github.com/ethereum-optimism/infra/op-pagecheck/runner"
	"github.com/ethereum-optimism/infra/op-pagecheck/templates"
)

// ResultFormatter is responsible for formatting and displaying test results.
type ResultFormatter interface {
	// FormatResults displays the results and returns the rendered table.
	FormatResults(result *runner.RunnerResult) (string, error)
}

// ConsoleResultFormatter prints the results table and run summary.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

// NewConsoleResultFormatter creates a ConsoleResultFormatter writing to stdout.
func NewConsoleResultFormatter(logger log.Logger) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
		out:    os.Stdout,
	}
}

// WithOutput redirects the formatter.
func (f *ConsoleResultFormatter) WithOutput(w io.Writer) *ConsoleResultFormatter {
	f.out = w
	return f
}

// FormatResults formats and displays the test results.
func (f *ConsoleResultFormatter) FormatResults(result *runner.RunnerResult) (string, error) {
	f.logger.Info("Printing results...")

	title := fmt.Sprintf("Page Check Results (%s)", templates.FormatDuration(result.WallClockTime))
	table, err := reporting.NewTableReporter(title, true).GenerateTable(result.Results, result.RunID)
	if err != nil {
		return "", fmt.Errorf("failed to generate results table: %w", err)
	}

	if _, err := fmt.Fprintln(f.out, table); err != nil {
		return "", err
	}
	if _, err := fmt.Fprintln(f.out, result.String()); err != nil {
		return "", err
	}
	return table, nil
}
