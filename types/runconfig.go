package types

import (
	"time"
)

// ScreenshotMode controls the final full-page capture taken after each attempt.
type ScreenshotMode string

const (
	ScreenshotOff           ScreenshotMode = "off"
	ScreenshotOn            ScreenshotMode = "on"
	ScreenshotOnlyOnFailure ScreenshotMode = "only-on-failure"
)

// TraceMode controls when a step trace is written for an attempt.
type TraceMode string

const (
	TraceOff             TraceMode = "off"
	TraceOn              TraceMode = "on"
	TraceRetainOnFailure TraceMode = "retain-on-failure"
	TraceOnFirstRetry    TraceMode = "on-first-retry"
)

// VideoMode is accepted for compatibility; only "off" is honoured.
type VideoMode string

const (
	VideoOff VideoMode = "off"
)

// RunConfig is the loaded run configuration. It is built once by the
// runconfig package and only read afterwards.
type RunConfig struct {
	TestDir       string           `yaml:"testDir" toml:"testDir" json:"testDir"`
	OutputDir     string           `yaml:"outputDir" toml:"outputDir" json:"outputDir"`
	ReportDir     string           `yaml:"reportDir" toml:"reportDir" json:"reportDir"`
	Timeout       time.Duration    `yaml:"timeout" toml:"timeout" json:"timeout"` // per scenario attempt
	Expect        ExpectConfig     `yaml:"expect" toml:"expect" json:"expect"`
	FullyParallel bool             `yaml:"fullyParallel" toml:"fullyParallel" json:"fullyParallel"`
	ForbidOnly    bool             `yaml:"forbidOnly" toml:"forbidOnly" json:"forbidOnly"`
	Retries       int              `yaml:"retries" toml:"retries" json:"retries"`
	Workers       int              `yaml:"workers" toml:"workers" json:"workers"` // 0 = auto
	MinVersion    string           `yaml:"minVersion" toml:"minVersion" json:"minVersion,omitempty"`
	Use           UseConfig        `yaml:"use" toml:"use" json:"use"`
	Projects      []Project        `yaml:"projects" toml:"projects" json:"projects"`
	WebServer     *WebServerConfig `yaml:"webServer" toml:"webServer" json:"webServer,omitempty"`
	CI            *CIOverrides     `yaml:"ci" toml:"ci" json:"-"`

	// Source is the file the configuration was read from.
	Source string `yaml:"-" toml:"-" json:"source"`
	// CIApplied records whether the ci overrides were merged in.
	CIApplied bool `yaml:"-" toml:"-" json:"ciApplied"`
}

// ExpectConfig configures web-first assertions.
type ExpectConfig struct {
	Timeout time.Duration `yaml:"timeout" toml:"timeout" json:"timeout"` // per assertion / wait
}

// UseConfig holds options shared by every project unless overridden.
type UseConfig struct {
	BaseURL           string         `yaml:"baseURL" toml:"baseURL" json:"baseURL"`
	ActionTimeout     time.Duration  `yaml:"actionTimeout" toml:"actionTimeout" json:"actionTimeout"`
	NavigationTimeout time.Duration  `yaml:"navigationTimeout" toml:"navigationTimeout" json:"navigationTimeout"`
	Screenshot        ScreenshotMode `yaml:"screenshot" toml:"screenshot" json:"screenshot"`
	Trace             TraceMode      `yaml:"trace" toml:"trace" json:"trace"`
	Video             VideoMode      `yaml:"video" toml:"video" json:"video"`
}

// Project is one entry of the browser/device matrix.
type Project struct {
	Name     string    `yaml:"name" toml:"name" json:"name"`
	Device   string    `yaml:"device" toml:"device" json:"device"`
	Engine   Engine    `yaml:"engine" toml:"engine" json:"engine,omitempty"`
	Viewport *Viewport `yaml:"viewport" toml:"viewport" json:"viewport,omitempty"`
}

// WebServerConfig describes the static server acquired for the run.
type WebServerConfig struct {
	Command             string        `yaml:"command" toml:"command" json:"command"`
	Port                int           `yaml:"port" toml:"port" json:"port"`
	Root                string        `yaml:"root" toml:"root" json:"root"`
	ReuseExistingServer bool          `yaml:"reuseExistingServer" toml:"reuseExistingServer" json:"reuseExistingServer"`
	Timeout             time.Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
}

// CIOverrides are merged into the configuration when running under CI.
type CIOverrides struct {
	Retries             *int  `yaml:"retries" toml:"retries"`
	Workers             *int  `yaml:"workers" toml:"workers"`
	ForbidOnly          *bool `yaml:"forbidOnly" toml:"forbidOnly"`
	ReuseExistingServer *bool `yaml:"reuseExistingServer" toml:"reuseExistingServer"`
}

// ActionTimeoutOr returns the action timeout, falling back to def when unset.
func (c *RunConfig) ActionTimeoutOr(def time.Duration) time.Duration {
	if c.Use.ActionTimeout > 0 {
		return c.Use.ActionTimeout
	}
	return def
}

// NavigationTimeoutOr returns the navigation timeout, falling back to def when unset.
func (c *RunConfig) NavigationTimeoutOr(def time.Duration) time.Duration {
	if c.Use.NavigationTimeout > 0 {
		return c.Use.NavigationTimeout
	}
	return def
}

// ProjectNames returns the project names in declaration order.
func (c *RunConfig) ProjectNames() []string {
	names := make([]string, 0, len(c.Projects))
	for _, p := range c.Projects {
		names = append(names, p.Name)
	}
	return names
}
