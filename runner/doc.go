// Package runner executes scenarios against the project matrix.
//
// The main components are:
//   - runner: builds work items (scenario x project) from the registry and
//     runs each one with retries in a fresh browser page per attempt
//   - stepRunner: executes the steps of one attempt in order and records a
//     StepResult for each of them
//   - ParallelExecutor: distributes work batches over a fixed worker pool and
//     collects results on a single goroutine
//   - ResultHierarchyManager: arranges results into projects and suites and
//     rolls up statistics
//   - FlakeShakeRunner: repeats whole runs to find non-deterministic scenarios
package runner
