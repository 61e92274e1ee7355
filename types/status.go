package types

// TestStatus represents the possible states of a scenario execution
type TestStatus string

const (
	TestStatusPass    TestStatus = "pass"
	TestStatusFail    TestStatus = "fail"
	TestStatusTimeout TestStatus = "timeout"
	TestStatusSkip    TestStatus = "skip"
	TestStatusError   TestStatus = "error"
)

// AllStatuses lists every status a result can carry.
var AllStatuses = []TestStatus{
	TestStatusPass,
	TestStatusFail,
	TestStatusTimeout,
	TestStatusSkip,
	TestStatusError,
}

// Failed reports whether the status counts against the run.
func (s TestStatus) Failed() bool {
	return s == TestStatusFail || s == TestStatusTimeout || s == TestStatusError
}

// IsValid reports whether s is one of the known statuses.
func (s TestStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}
