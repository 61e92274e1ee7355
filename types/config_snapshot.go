package types

import "time"

// EffectiveConfigSnapshot represents the effective runtime configuration grouped by domain.
type EffectiveConfigSnapshot struct {
	Runner    RunnerConfigSnapshot    `json:"runner"`
	Browser   BrowserConfigSnapshot   `json:"browser"`
	Server    ServerConfigSnapshot    `json:"server"`
	Execution ExecutionConfigSnapshot `json:"execution"`
	Paths     PathsConfigSnapshot     `json:"paths"`

	RunID   string `json:"runId,omitempty"`
	Version string `json:"version"`
}

type RunnerConfigSnapshot struct {
	Timeout          time.Duration `json:"timeout"`
	ExpectTimeout    time.Duration `json:"expectTimeout"`
	ActionTimeout    time.Duration `json:"actionTimeout"`
	Retries          int           `json:"retries"`
	Workers          int           `json:"workers"`
	FullyParallel    bool          `json:"fullyParallel"`
	ForbidOnly       bool          `json:"forbidOnly"`
	AllowSkips       bool          `json:"allowSkips"`
	CI               bool          `json:"ci"`
	ShowProgress     bool          `json:"showProgress"`
	ProgressInterval time.Duration `json:"progressInterval"`
}

type BrowserConfigSnapshot struct {
	Driver     string         `json:"driver"`
	Headless   bool           `json:"headless"`
	Projects   []string       `json:"projects"`
	Screenshot ScreenshotMode `json:"screenshot"`
	Trace      TraceMode      `json:"trace"`
	BaseURL    string         `json:"baseURL"`
}

type ServerConfigSnapshot struct {
	Command             string `json:"command,omitempty"`
	Port                int    `json:"port"`
	Root                string `json:"root,omitempty"`
	ReuseExistingServer bool   `json:"reuseExistingServer"`
}

type ExecutionConfigSnapshot struct {
	RunInterval          time.Duration `json:"runInterval"`
	RunOnce              bool          `json:"runOnce"`
	Watch                bool          `json:"watch"`
	Grep                 string        `json:"grep,omitempty"`
	Tags                 []string      `json:"tags,omitempty"`
	FlakeShake           bool          `json:"flakeShake"`
	FlakeShakeIterations int           `json:"flakeShakeIterations,omitempty"`
}

type PathsConfigSnapshot struct {
	ConfigFile string `json:"configFile"`
	TestDir    string `json:"testDir"`
	OutputDir  string `json:"outputDir"`
	ReportDir  string `json:"reportDir"`
}
