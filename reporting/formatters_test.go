package reporting

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

func sampleReport() *ReportData {
	results := []*types.ExecutionResult{
		result("chromium", "home", "title", types.TestStatusPass, 1),
		result("chromium", "home", "cards", types.TestStatusFail, 1),
		result("chromium", "debug", "screenshot", types.TestStatusPass, 2),
	}
	return NewReportBuilder().BuildFromResults(results, "run-42")
}

func TestGetStatusDisplay(t *testing.T) {
	assert.Equal(t, "PASS", getStatusDisplay(types.TestStatusPass).Text)
	assert.Equal(t, "timeout", getStatusDisplay(types.TestStatusTimeout).Class)
	assert.Equal(t, "UNKNOWN", getStatusDisplay(types.TestStatus("weird")).Text)
}

func TestTableFormatter(t *testing.T) {
	out, err := NewTableFormatter("Page Check Results", true).Format(sampleReport())
	require.NoError(t, err)

	assert.Contains(t, out, "Page Check Results")
	assert.Contains(t, out, "chromium [Desktop Chrome]")
	assert.Contains(t, out, "cards")
	assert.Contains(t, out, "PASS (flaky)")
	assert.Contains(t, out, "TOTAL")
}

func TestTableFormatterHidesScenarios(t *testing.T) {
	out, err := NewTableFormatter("Results", false).Format(sampleReport())
	require.NoError(t, err)
	assert.Contains(t, out, "debug")
	assert.NotContains(t, out, "screenshot")
}

func TestTextFormatter(t *testing.T) {
	out, err := NewTextFormatter(true).Format(sampleReport())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "RUN SUMMARY run-42\n"))
	assert.Contains(t, out, "3 total, 2 passed, 1 failed, 0 timed out, 0 skipped, 1 flaky")
	assert.Contains(t, out, "├── home (home.yaml) FAIL")
	assert.Contains(t, out, "└── debug (debug.yaml) PASS")
	assert.Contains(t, out, "│   ├── PASS title")
	assert.Contains(t, out, "│   └── FAIL cards")
	assert.Contains(t, out, "│       expected title")
	assert.Contains(t, out, "    └── PASS screenshot")
	assert.Contains(t, out, "flaky after 2 attempts")
	assert.Contains(t, out, "PASS goto /")
}

func TestTextFormatterWithoutSteps(t *testing.T) {
	out, err := NewTextFormatter(false).Format(sampleReport())
	require.NoError(t, err)
	assert.NotContains(t, out, "goto /")
}
