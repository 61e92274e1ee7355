package runner

import "time"

const (
	// DefaultScrollInterval paces scroll steps that leave the interval unset.
	DefaultScrollInterval = 100 * time.Millisecond

	// FinalCaptureTimeout bounds the screenshot taken after an attempt. It
	// runs outside the attempt deadline so timed-out attempts still get one.
	FinalCaptureTimeout = 10 * time.Second

	// TraceFilename is the step trace written into each attempt directory.
	TraceFilename = "trace.json"

	// FinalScreenshotName is the base name of the post-attempt capture.
	FinalScreenshotName = "final"

	// DefaultEachPlaceholder is substituted in each steps without an as name.
	DefaultEachPlaceholder = "i"

	// MaxReasonableConcurrency matches the auto-detected worker cap.
	MaxReasonableConcurrency = 32
)
