package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// workResult contains the result of executing one ScenarioWork
type workResult struct {
	Work   ScenarioWork
	Result *types.ExecutionResult
}

// ParallelExecutor manages parallel scenario execution across multiple workers
type ParallelExecutor struct {
	runner      *runner
	concurrency int
	log         log.Logger
	resultMgr   *ResultHierarchyManager
	ui          ProgressIndicator
}

// NewParallelExecutor creates a new parallel executor with validation
func NewParallelExecutor(runner *runner, concurrency int, ui ProgressIndicator) *ParallelExecutor {
	if runner == nil {
		panic("runner cannot be nil")
	}
	if concurrency < 0 {
		panic("concurrency cannot be negative")
	}
	if concurrency == 0 {
		concurrency = 1
	}

	if concurrency > MaxReasonableConcurrency {
		runner.log.Warn("Very high concurrency requested", "concurrency", concurrency,
			"recommendation", "Each worker drives its own browser page; consider fewer workers")
	}

	return &ParallelExecutor{
		runner:      runner,
		concurrency: concurrency,
		log:         runner.log.New("component", "parallel-executor"),
		resultMgr:   NewResultHierarchyManager(runner.config.ProjectNames()),
		ui:          ui,
	}
}

// ExecuteTests runs the work batches on the worker pool and returns organized
// results. Scenarios inside a batch run in order on a single worker.
func (pe *ParallelExecutor) ExecuteTests(ctx context.Context, batches [][]ScenarioWork) (*RunnerResult, error) {
	start := time.Now()
	result := pe.resultMgr.CreateEmptyResult(pe.runner.runID, start)
	result.Workers = pe.concurrency

	total := 0
	for _, batch := range batches {
		total += len(batch)
	}
	if total == 0 {
		pe.log.Debug("No work items to execute")
		return result, nil
	}

	if pe.ui != nil {
		pe.initializeProgressTracking(batches)
	}

	pe.log.Info("Starting parallel scenario execution", "totalScenarios", total, "batches", len(batches), "concurrency", pe.concurrency)

	bufferSize := min(pe.concurrency*2, 100)
	workChan := make(chan []ScenarioWork, bufferSize)
	resultChan := make(chan workResult, bufferSize)

	var wg sync.WaitGroup
	for i := 0; i < pe.concurrency; i++ {
		wg.Add(1)
		go pe.worker(ctx, i, &wg, workChan, resultChan)
	}

	go func() {
		defer close(workChan)
		for _, batch := range batches {
			select {
			case workChan <- batch:
			case <-ctx.Done():
				pe.log.Debug("Context cancelled while sending work items")
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	order := make(map[*types.ExecutionResult]int, total)
	done := make(map[int]bool, total)
	for wr := range resultChan {
		pe.record(result, wr, order)
		done[wr.Work.Index] = true
	}

	// Anything not reported was never started because the run was cancelled.
	for _, batch := range batches {
		for _, work := range batch {
			if done[work.Index] {
				continue
			}
			res := types.NewSkippedResult(work.Ref(), work.Device.Name, ErrRunInterrupted.Error())
			res.Interrupted = true
			pe.record(result, workResult{Work: work, Result: res}, order)
		}
	}

	pe.resultMgr.FinalizeResults(result, order, start)
	if ctx.Err() != nil {
		result.Interrupted = true
		result.Status = types.TestStatusError
	}
	if pe.ui != nil {
		pe.completeProgressTracking(result)
	}

	pe.log.Info("Parallel scenario execution completed",
		"duration", time.Since(start),
		"status", result.Status,
		"totalScenarios", total,
		"passed", result.Stats.Passed,
		"failed", result.Stats.Unsuccessful(),
		"flaky", result.Stats.Flaky,
		"interrupted", result.Interrupted)

	return result, nil
}

// record adds a finished scenario to the hierarchy and persists it. It runs
// only on the collecting goroutine.
func (pe *ParallelExecutor) record(result *RunnerResult, wr workResult, order map[*types.ExecutionResult]int) {
	order[wr.Result] = wr.Work.Index
	pe.resultMgr.AddScenarioToResults(result, wr.Work, wr.Result)
	if pe.runner.fileLogger != nil {
		if err := pe.runner.fileLogger.LogScenarioResult(wr.Result, pe.runner.runID); err != nil {
			pe.log.Error("Failed to log scenario result", "scenario", wr.Result.ID(), "error", err)
		}
	}
}

// worker is a goroutine that processes work batches
func (pe *ParallelExecutor) worker(ctx context.Context, id int, wg *sync.WaitGroup, workChan <-chan []ScenarioWork, resultChan chan<- workResult) {
	defer wg.Done()

	workerID := fmt.Sprintf("worker-%d", id)
	pe.log.Debug("Worker starting", "workerID", workerID)
	defer pe.log.Debug("Worker exiting", "workerID", workerID)

	for {
		select {
		case batch, ok := <-workChan:
			if !ok {
				return
			}
			for _, work := range batch {
				if ctx.Err() != nil {
					return
				}
				name := work.Ref().ID()
				pe.log.Debug("Worker processing scenario", "workerID", workerID, "scenario", name)
				if pe.ui != nil {
					pe.ui.StartTest(name)
				}

				res := pe.runner.RunScenario(ctx, work)

				if pe.ui != nil {
					pe.ui.UpdateTest(name, res.Status)
				}
				// The collector drains until every worker exits, so this
				// send cannot block forever.
				resultChan <- workResult{Work: work, Result: res}
			}
		case <-ctx.Done():
			pe.log.Debug("Worker received context cancellation", "workerID", workerID)
			return
		}
	}
}

// initializeProgressTracking announces each project and suite with its scenario count
func (pe *ParallelExecutor) initializeProgressTracking(batches [][]ScenarioWork) {
	type key struct{ project, suite string }
	var projects []string
	projectCounts := make(map[string]int)
	var suites []key
	suiteCounts := make(map[key]int)
	for _, batch := range batches {
		for _, w := range batch {
			if _, ok := projectCounts[w.Project.Name]; !ok {
				projects = append(projects, w.Project.Name)
			}
			projectCounts[w.Project.Name]++
			k := key{w.Project.Name, w.Suite.Name}
			if _, ok := suiteCounts[k]; !ok {
				suites = append(suites, k)
			}
			suiteCounts[k]++
		}
	}
	for _, p := range projects {
		pe.ui.StartProject(p, projectCounts[p])
		for _, s := range suites {
			if s.project == p {
				pe.ui.StartSuite(s.suite, suiteCounts[s])
			}
		}
	}
}

func (pe *ParallelExecutor) completeProgressTracking(result *RunnerResult) {
	for _, project := range result.OrderedProjects() {
		for _, suite := range project.OrderedSuites() {
			pe.ui.CompleteSuite(suite.ID)
		}
		pe.ui.CompleteProject(project.ID)
	}
}
