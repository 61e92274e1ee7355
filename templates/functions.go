package templates

import (
	_ "embed"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// ResultsHTML is the page rendered by the HTML report sink.
//
//go:embed results.tmpl.html
var ResultsHTML string

// GetTemplateFunc returns the centralized template functions used across the application
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatDuration": FormatDuration,
		"getStatusClass": func(status types.TestStatus) string {
			return getStatusString(status)
		},
		"getStatusText": func(status types.TestStatus) string {
			return strings.ToUpper(getStatusString(status))
		},
		"getIndentClass": func(depth int) string {
			return fmt.Sprintf("indent-%d", depth)
		},
		"isImage": func(path string) bool {
			switch strings.ToLower(filepath.Ext(path)) {
			case ".png", ".jpg", ".jpeg":
				return true
			}
			return false
		},
		"base": filepath.Base,
		"firstLine": func(s string) string {
			if idx := strings.Index(s, "\n"); idx != -1 {
				return s[:idx]
			}
			return s
		},
	}
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// getStatusString returns a consistent lowercase status string
func getStatusString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "pass"
	case types.TestStatusFail:
		return "fail"
	case types.TestStatusTimeout:
		return "timeout"
	case types.TestStatusSkip:
		return "skip"
	case types.TestStatusError:
		return "error"
	default:
		return "unknown"
	}
}
