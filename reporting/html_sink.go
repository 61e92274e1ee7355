package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/infra/op-pagecheck/templates"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// HTMLFormatter renders ReportData with an html/template page
type HTMLFormatter struct {
	template *template.Template
}

// NewHTMLFormatter parses the page template
func NewHTMLFormatter(templateContent string) (*HTMLFormatter, error) {
	tmpl, err := template.New("results").Funcs(templates.GetTemplateFunc()).Parse(templateContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML template: %w", err)
	}
	return &HTMLFormatter{template: tmpl}, nil
}

// Format executes the template against the report data
func (hf *HTMLFormatter) Format(data *ReportData) (string, error) {
	var buf bytes.Buffer
	if err := hf.template.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute HTML template: %w", err)
	}
	return buf.String(), nil
}

// ReportingHTMLSink collects results and writes results.html on completion
type ReportingHTMLSink struct {
	formatter       *HTMLFormatter
	baseDir         string
	loggerRunID     string
	testResults     map[string][]*types.ExecutionResult
	logPathFor      func(result *types.ExecutionResult) string
	configSnapshots map[string]*types.EffectiveConfigSnapshot // map of runID to effective config snapshot
}

// NewReportingHTMLSink creates a new HTML sink. logPathFor returns the per-scenario
// log path relative to the run directory.
func NewReportingHTMLSink(baseDir, loggerRunID, templateContent string, logPathFor func(*types.ExecutionResult) string) (*ReportingHTMLSink, error) {
	formatter, err := NewHTMLFormatter(templateContent)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTML formatter: %w", err)
	}
	if logPathFor == nil {
		logPathFor = func(*types.ExecutionResult) string { return "" }
	}

	return &ReportingHTMLSink{
		formatter:       formatter,
		baseDir:         baseDir,
		loggerRunID:     loggerRunID,
		testResults:     make(map[string][]*types.ExecutionResult),
		logPathFor:      logPathFor,
		configSnapshots: make(map[string]*types.EffectiveConfigSnapshot),
	}, nil
}

// SetConfigSnapshot associates an effective config snapshot with a runID
func (s *ReportingHTMLSink) SetConfigSnapshot(runID string, snap *types.EffectiveConfigSnapshot) {
	if runID == "" || snap == nil {
		return
	}
	s.configSnapshots[runID] = snap
}

// Consume collects results for later HTML generation
func (s *ReportingHTMLSink) Consume(result *types.ExecutionResult, runID string) error {
	s.testResults[runID] = append(s.testResults[runID], result)
	return nil
}

// Complete generates the HTML report
func (s *ReportingHTMLSink) Complete(runID string) error {
	return s.CompleteWithTiming(runID, 0)
}

// CompleteWithTiming generates the HTML report, overriding the summed scenario
// durations with the wall clock time when it is known.
func (s *ReportingHTMLSink) CompleteWithTiming(runID string, wallClockTime time.Duration) error {
	outputDir := filepath.Join(s.baseDir, "testrun-"+runID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	builder := NewReportBuilder().
		WithLogPathGenerator(s.logPathFor).
		WithArtifactPaths(func(path string) string {
			return relativeTo(outputDir, path)
		})
	data := builder.BuildFromResults(s.testResults[runID], runID)

	if wallClockTime > 0 {
		data.Duration = wallClockTime
	}
	if snap, ok := s.configSnapshots[runID]; ok {
		data.Config = snap
		encoded, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode config snapshot: %w", err)
		}
		data.ConfigJSON = string(encoded)
	}

	htmlOutput, err := s.formatter.Format(data)
	if err != nil {
		return fmt.Errorf("failed to format HTML: %w", err)
	}

	htmlFile := filepath.Join(outputDir, "results.html")
	if err := os.WriteFile(htmlFile, []byte(htmlOutput), 0644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// relativeTo rewrites an absolute artifact path so it resolves from the report page.
func relativeTo(dir, path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
