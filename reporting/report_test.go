package reporting

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

func result(project, suite, scenario string, status types.TestStatus, attempts int) *types.ExecutionResult {
	ref := types.ScenarioRef{Project: project, Suite: suite, File: suite + ".yaml", Scenario: scenario}
	var as []types.AttemptResult
	for i := 0; i < attempts; i++ {
		st := types.TestStatusFail
		if i == attempts-1 {
			st = status
		}
		as = append(as, types.AttemptResult{
			Attempt:  i,
			Status:   st,
			Duration: 100 * time.Millisecond,
			Steps:    []types.StepResult{{Index: 0, Name: "goto /", Status: st}},
		})
	}
	if status == types.TestStatusFail {
		as[len(as)-1].FailureReason = "expected title"
		as[len(as)-1].ErrorKind = types.KindAssertion
	}
	return types.NewExecutionResult(ref, "Desktop Chrome", time.Now(), as, errors.New("unused"))
}

func TestBuildFromResultsGroupsInRunOrder(t *testing.T) {
	results := []*types.ExecutionResult{
		result("chromium", "home", "title", types.TestStatusPass, 1),
		result("chromium", "home", "cards", types.TestStatusFail, 2),
		result("chromium", "debug", "screenshot", types.TestStatusPass, 2),
		result("firefox", "home", "title", types.TestStatusTimeout, 1),
		types.NewSkippedResult(types.ScenarioRef{Project: "webkit", Suite: "home", Scenario: "title"}, "Desktop Safari", "engine not supported"),
	}

	data := NewReportBuilder().BuildFromResults(results, "run-1")

	require.Len(t, data.Projects, 3)
	assert.Equal(t, "chromium", data.Projects[0].Name)
	assert.Equal(t, "firefox", data.Projects[1].Name)
	assert.Equal(t, "webkit", data.Projects[2].Name)

	chromium := data.Projects[0]
	require.Len(t, chromium.Suites, 2)
	assert.Equal(t, "home", chromium.Suites[0].Name)
	assert.Equal(t, []string{"title", "cards"}, []string{chromium.Suites[0].Scenarios[0].Scenario, chromium.Suites[0].Scenarios[1].Scenario})
	assert.Equal(t, types.TestStatusFail, chromium.Suites[0].Status)
	assert.Equal(t, types.TestStatusPass, chromium.Suites[1].Status)
	assert.Equal(t, types.TestStatusFail, chromium.Status)

	assert.Equal(t, types.TestStatusSkip, data.Projects[2].Status)

	assert.Equal(t, 5, data.Stats.Total)
	assert.Equal(t, 2, data.Stats.Passed)
	assert.Equal(t, 1, data.Stats.Failed)
	assert.Equal(t, 1, data.Stats.TimedOut)
	assert.Equal(t, 1, data.Stats.Skipped)
	assert.Equal(t, 1, data.Stats.Flaky)
	assert.True(t, data.HasFailures)
	assert.Equal(t, "50.0", data.PassRateText)

	require.Len(t, data.FailedScenarios, 2)
	require.Len(t, data.FlakyScenarios, 1)
	assert.Equal(t, "screenshot", data.FlakyScenarios[0].Scenario)
	assert.Equal(t, 2, data.FlakyScenarios[0].Attempts)
}

func TestBuildFromResultsUsesFinalAttemptSteps(t *testing.T) {
	res := result("chromium", "home", "cards", types.TestStatusPass, 3)
	res.Attempts[2].Steps = append(res.Attempts[2].Steps, types.StepResult{Index: 1, Name: "expect .feature-card", Status: types.TestStatusPass})

	data := NewReportBuilder().BuildFromResults([]*types.ExecutionResult{res}, "run-1")
	require.Len(t, data.AllScenarios, 1)
	assert.Len(t, data.AllScenarios[0].Steps, 2)
	assert.True(t, data.AllScenarios[0].Flaky)
}

func TestBuildFromResultsAppliesPathFunctions(t *testing.T) {
	res := result("chromium", "home", "title", types.TestStatusPass, 1)
	res.Artifacts = []string{"/out/chromium/home/title/final.png"}

	data := NewReportBuilder().
		WithLogPathGenerator(func(r *types.ExecutionResult) string { return "passed/" + r.Scenario + ".log" }).
		WithArtifactPaths(func(p string) string { return "rel" + p }).
		BuildFromResults([]*types.ExecutionResult{res}, "run-1")

	sc := data.Projects[0].Suites[0].Scenarios[0]
	assert.Equal(t, "passed/title.log", sc.LogPath)
	assert.Equal(t, []string{"rel/out/chromium/home/title/final.png"}, sc.Artifacts)
}

func TestBuildFromEmptyResults(t *testing.T) {
	data := NewReportBuilder().BuildFromResults(nil, "run-1")
	assert.Empty(t, data.Projects)
	assert.False(t, data.HasFailures)
	assert.Equal(t, "0.0", data.PassRateText)
}
