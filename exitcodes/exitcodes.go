// Package exitcodes defines the standard exit codes used by op-pagecheck.
package exitcodes

// Exit code constants used by op-pagecheck.
//
// * Success (0): every scenario passed on every project (within retries)
// * TestFailure (1): one or more scenarios failed or timed out
// * RuntimeErr (2): configuration errors, server acquisition failures, panics
const (
	Success     = 0 // All scenarios pass
	TestFailure = 1 // Scenario failures
	RuntimeErr  = 2 // Runtime or configuration errors
)
