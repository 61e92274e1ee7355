package runner

import (
	"time"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// ResultHierarchyManager handles the creation and management of result hierarchies
type ResultHierarchyManager struct {
	projectOrder map[string]int
}

// NewResultHierarchyManager creates a new result hierarchy manager. Projects
// are ordered by their position in projectNames.
func NewResultHierarchyManager(projectNames []string) *ResultHierarchyManager {
	order := make(map[string]int, len(projectNames))
	for i, name := range projectNames {
		order[name] = i
	}
	return &ResultHierarchyManager{projectOrder: order}
}

// AddScenarioToResults adds a scenario result to its project and suite
func (rhm *ResultHierarchyManager) AddScenarioToResults(result *RunnerResult, work ScenarioWork, res *types.ExecutionResult) {
	project := rhm.ensureProjectExists(result, work)
	suite := rhm.ensureSuiteExists(project, work)
	suite.Scenarios[work.Scenario.Name] = res
	result.Results = append(result.Results, res)
	result.updateStats(project, suite, res)
}

// ensureProjectExists creates a project if it doesn't exist and returns it
func (rhm *ResultHierarchyManager) ensureProjectExists(result *RunnerResult, work ScenarioWork) *ProjectResult {
	project, exists := result.Projects[work.Project.Name]
	if !exists {
		order, ok := rhm.projectOrder[work.Project.Name]
		if !ok {
			order = len(rhm.projectOrder) + len(result.Projects)
		}
		project = &ProjectResult{
			ID:     work.Project.Name,
			Device: work.Device.Name,
			Suites: make(map[string]*SuiteResult),
			Stats:  ResultStats{StartTime: time.Now()},
			order:  order,
		}
		result.Projects[work.Project.Name] = project
	}
	return project
}

// ensureSuiteExists creates a suite if it doesn't exist and returns it
func (rhm *ResultHierarchyManager) ensureSuiteExists(project *ProjectResult, work ScenarioWork) *SuiteResult {
	suite, exists := project.Suites[work.Suite.Name]
	if !exists {
		suite = &SuiteResult{
			ID:        work.Suite.Name,
			File:      work.Suite.File,
			Scenarios: make(map[string]*types.ExecutionResult),
			Stats:     ResultStats{StartTime: time.Now()},
			order:     work.Index,
		}
		project.Suites[work.Suite.Name] = suite
	} else if work.Index < suite.order {
		suite.order = work.Index
	}
	return suite
}

// FinalizeResults sorts results into work order and applies final status
// determination and timing to all levels
func (rhm *ResultHierarchyManager) FinalizeResults(result *RunnerResult, order map[*types.ExecutionResult]int, startTime time.Time) {
	endTime := time.Now()

	sortResults(result.Results, order)
	for _, project := range result.Projects {
		for _, suite := range project.Suites {
			suite.Status = determineStatusFromStats(suite.Stats)
			suite.Stats.EndTime = endTime
		}
		project.Status = determineStatusFromStats(project.Stats)
		project.Stats.EndTime = endTime
	}

	result.WallClockTime = time.Since(startTime)
	result.Status = determineStatusFromStats(result.Stats)
	result.Stats.EndTime = endTime
}

// CreateEmptyResult creates a properly initialized empty result
func (rhm *ResultHierarchyManager) CreateEmptyResult(runID string, startTime time.Time) *RunnerResult {
	return &RunnerResult{
		Projects: make(map[string]*ProjectResult),
		Stats:    ResultStats{StartTime: startTime},
		RunID:    runID,
		Status:   types.TestStatusSkip,
	}
}

func sortResults(results []*types.ExecutionResult, order map[*types.ExecutionResult]int) {
	if order == nil {
		return
	}
	// Insertion order is completion order; restore work order.
	sorted := make([]*types.ExecutionResult, len(results))
	copy(sorted, results)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && order[sorted[j]] < order[sorted[j-1]]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	copy(results, sorted)
}
