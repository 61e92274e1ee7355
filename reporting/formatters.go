package reporting

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-pagecheck/templates"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
	"github.com/ethereum-optimism/infra/op-pagecheck/ui"
)

// StatusDisplay represents display information for a scenario status
type StatusDisplay struct {
	Text  string // Human-readable status text
	Class string // CSS class or style identifier
}

// getStatusDisplay returns human-readable status text and CSS class
func getStatusDisplay(status types.TestStatus) StatusDisplay {
	switch status {
	case types.TestStatusPass:
		return StatusDisplay{Text: "PASS", Class: "pass"}
	case types.TestStatusFail:
		return StatusDisplay{Text: "FAIL", Class: "fail"}
	case types.TestStatusTimeout:
		return StatusDisplay{Text: "TIMEOUT", Class: "timeout"}
	case types.TestStatusSkip:
		return StatusDisplay{Text: "SKIP", Class: "skip"}
	case types.TestStatusError:
		return StatusDisplay{Text: "ERROR", Class: "error"}
	default:
		return StatusDisplay{Text: "UNKNOWN", Class: "unknown"}
	}
}

func formatDuration(d time.Duration) string {
	return templates.FormatDuration(d)
}

// ReportFormatter defines the interface for different report output formats
type ReportFormatter interface {
	Format(data *ReportData) (string, error)
}

// TableFormatter formats reports as ASCII tables
type TableFormatter struct {
	title         string
	showScenarios bool
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(title string, showScenarios bool) *TableFormatter {
	return &TableFormatter{title: title, showScenarios: showScenarios}
}

// Format formats the report data as an ASCII table
func (tf *TableFormatter) Format(data *ReportData) (string, error) {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(tf.title)
	t.AppendHeader(table.Row{"Type", "ID", "Duration", "Scenarios", "Passed", "Failed", "Skipped", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Scenarios", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})

	for _, project := range data.Projects {
		t.AppendRow(table.Row{
			"Project",
			fmt.Sprintf("%s [%s]", project.Name, project.Device),
			formatDuration(project.Duration),
			project.Stats.Total,
			project.Stats.Passed,
			project.Stats.Unsuccessful(),
			project.Stats.Skipped,
			getStatusDisplay(project.Status).Text,
		})
		for _, suite := range project.Suites {
			t.AppendRow(table.Row{
				"Suite",
				ui.TreeBranch + suite.Name,
				formatDuration(suite.Duration),
				suite.Stats.Total,
				suite.Stats.Passed,
				suite.Stats.Unsuccessful(),
				suite.Stats.Skipped,
				getStatusDisplay(suite.Status).Text,
			})
			if !tf.showScenarios {
				continue
			}
			for i, sc := range suite.Scenarios {
				prefix := ui.TreeContinue + ui.TreeBranch
				if i == len(suite.Scenarios)-1 {
					prefix = ui.TreeContinue + ui.TreeLastBranch
				}
				status := getStatusDisplay(sc.Status).Text
				if sc.Flaky {
					status += " (flaky)"
				}
				t.AppendRow(table.Row{"Scenario", prefix + sc.Scenario, formatDuration(sc.Duration), "-", "-", "-", "-", status})
			}
		}
		t.AppendSeparator()
	}

	switch {
	case data.HasFailures:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case data.Stats.Skipped > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(data.Duration),
		data.Stats.Total,
		data.Stats.Passed,
		data.Stats.Unsuccessful(),
		data.Stats.Skipped,
		getStatusDisplay(determineStatus(data.Stats)).Text,
	})

	t.Render()
	return buf.String(), nil
}

// TextFormatter renders the plain-text run summary
type TextFormatter struct {
	includeSteps bool
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(includeSteps bool) *TextFormatter {
	return &TextFormatter{includeSteps: includeSteps}
}

// Format formats the report data as a text tree
func (tf *TextFormatter) Format(data *ReportData) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "RUN SUMMARY %s\n", data.RunID)
	fmt.Fprintf(&b, "Time:      %s\n", data.Time)
	fmt.Fprintf(&b, "Duration:  %s\n", formatDuration(data.Duration))
	fmt.Fprintf(&b, "Scenarios: %d total, %d passed, %d failed, %d timed out, %d skipped, %d flaky\n",
		data.Stats.Total, data.Stats.Passed, data.Stats.Failed, data.Stats.TimedOut, data.Stats.Skipped, data.Stats.Flaky)
	fmt.Fprintf(&b, "Pass rate: %s%%\n", data.PassRateText)

	for _, project := range data.Projects {
		fmt.Fprintf(&b, "\n%s [%s] %s\n", project.Name, project.Device, getStatusDisplay(project.Status).Text)
		for si, suite := range project.Suites {
			lastSuite := si == len(project.Suites)-1
			fmt.Fprintf(&b, "%s%s (%s) %s\n", ui.BuildTreePrefix(1, lastSuite, nil), suite.Name, suite.File, getStatusDisplay(suite.Status).Text)
			for ti, sc := range suite.Scenarios {
				lastScenario := ti == len(suite.Scenarios)-1
				line := fmt.Sprintf("%s%s %s (%s)", ui.BuildTreePrefix(2, lastScenario, []bool{lastSuite}), getStatusDisplay(sc.Status).Text, sc.Scenario, formatDuration(sc.Duration))
				if sc.Flaky {
					line += fmt.Sprintf(" flaky after %d attempts", sc.Attempts)
				}
				b.WriteString(line + "\n")
				parents := []bool{lastSuite, lastScenario}
				if sc.FailureReason != "" && sc.Status != types.TestStatusPass {
					for _, reasonLine := range strings.Split(sc.FailureReason, "\n") {
						fmt.Fprintf(&b, "%s%s\n", continuation(parents), reasonLine)
					}
				}
				if tf.includeSteps {
					for _, step := range sc.Steps {
						fmt.Fprintf(&b, "%s%s%s %s\n", continuation(parents), strings.Repeat("  ", step.Depth), getStatusDisplay(step.Status).Text, step.Name)
					}
				}
			}
		}
	}
	return b.String(), nil
}

// continuation returns the indentation under a tree node for the given ancestry.
func continuation(parentIsLast []bool) string {
	var b strings.Builder
	for _, last := range parentIsLast {
		if last {
			b.WriteString(ui.TreeIndent)
		} else {
			b.WriteString(ui.TreeContinue)
		}
	}
	return b.String()
}
