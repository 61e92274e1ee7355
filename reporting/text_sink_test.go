package reporting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

func TestReportingTextSummarySink(t *testing.T) {
	tempDir := t.TempDir()
	runID := "summary-run"
	sink := NewReportingTextSummarySink(tempDir, runID, false)

	require.NoError(t, sink.Consume(result("chromium", "home", "title", types.TestStatusPass, 1), runID))
	require.NoError(t, sink.Consume(result("chromium", "home", "cards", types.TestStatusFail, 1), runID))
	require.NoError(t, sink.Complete(runID))

	content, err := os.ReadFile(filepath.Join(tempDir, "testrun-"+runID, "summary.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "RUN SUMMARY summary-run")
	assert.Contains(t, string(content), "2 total, 1 passed, 1 failed")
	assert.Contains(t, string(content), "expected title")
}

func TestReportingTextSummarySinkSeparatesRuns(t *testing.T) {
	tempDir := t.TempDir()
	sink := NewReportingTextSummarySink(tempDir, "a", false)

	require.NoError(t, sink.Consume(result("chromium", "home", "title", types.TestStatusPass, 1), "a"))
	require.NoError(t, sink.Consume(result("chromium", "home", "cards", types.TestStatusFail, 1), "b"))
	require.NoError(t, sink.Complete("a"))

	content, err := os.ReadFile(filepath.Join(tempDir, "testrun-a", "summary.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "cards")
}

func TestTableReporter(t *testing.T) {
	out, err := NewTableReporter("Page Check Results", true).GenerateTable([]*types.ExecutionResult{
		result("chromium", "home", "title", types.TestStatusPass, 1),
	}, "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "title")
}
