package types

import (
	"fmt"
	"sort"
)

// Engine is the browser engine a project targets.
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineFirefox  Engine = "firefox"
	EngineWebKit   Engine = "webkit"
)

// IsValid reports whether e is a known engine.
func (e Engine) IsValid() bool {
	switch e {
	case EngineChromium, EngineFirefox, EngineWebKit:
		return true
	}
	return false
}

// Viewport is a CSS pixel size.
type Viewport struct {
	Width  int `yaml:"width" toml:"width" json:"width"`
	Height int `yaml:"height" toml:"height" json:"height"`
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// DeviceProfile describes the emulated device for a project.
type DeviceProfile struct {
	Name              string   `json:"name"`
	Engine            Engine   `json:"engine"`
	Viewport          Viewport `json:"viewport"`
	DeviceScaleFactor float64  `json:"deviceScaleFactor"`
	IsMobile          bool     `json:"isMobile"`
	HasTouch          bool     `json:"hasTouch"`
	UserAgent         string   `json:"userAgent"`
}

const (
	chromeUA  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	firefoxUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0"
	safariUA  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15"
	pixel5UA  = "Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36"
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0.3 Mobile/15E148 Safari/604.1"
)

// Devices is the table of built-in device profiles, keyed by name.
var Devices = map[string]DeviceProfile{
	"Desktop Chrome": {
		Name: "Desktop Chrome", Engine: EngineChromium,
		Viewport: Viewport{Width: 1280, Height: 720}, DeviceScaleFactor: 1,
		UserAgent: chromeUA,
	},
	"Desktop Firefox": {
		Name: "Desktop Firefox", Engine: EngineFirefox,
		Viewport: Viewport{Width: 1280, Height: 720}, DeviceScaleFactor: 1,
		UserAgent: firefoxUA,
	},
	"Desktop Safari": {
		Name: "Desktop Safari", Engine: EngineWebKit,
		Viewport: Viewport{Width: 1280, Height: 720}, DeviceScaleFactor: 1,
		UserAgent: safariUA,
	},
	"Pixel 5": {
		Name: "Pixel 5", Engine: EngineChromium,
		Viewport: Viewport{Width: 393, Height: 727}, DeviceScaleFactor: 2.75,
		IsMobile: true, HasTouch: true,
		UserAgent: pixel5UA,
	},
	"iPhone 12": {
		Name: "iPhone 12", Engine: EngineWebKit,
		Viewport: Viewport{Width: 390, Height: 664}, DeviceScaleFactor: 3,
		IsMobile: true, HasTouch: true,
		UserAgent: iphoneUA,
	},
}

// DeviceNames returns the built-in device names sorted alphabetically.
func DeviceNames() []string {
	names := make([]string, 0, len(Devices))
	for name := range Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveDevice returns the effective device profile for a project: the named
// built-in profile with the project's engine and viewport overrides applied.
func ResolveDevice(p Project) (DeviceProfile, error) {
	var profile DeviceProfile
	if p.Device != "" {
		d, ok := Devices[p.Device]
		if !ok {
			return DeviceProfile{}, fmt.Errorf("unknown device %q (known: %v)", p.Device, DeviceNames())
		}
		profile = d
	} else {
		profile = Devices["Desktop Chrome"]
		profile.Name = p.Name
	}
	if p.Engine != "" {
		if !p.Engine.IsValid() {
			return DeviceProfile{}, fmt.Errorf("unknown engine %q", p.Engine)
		}
		profile.Engine = p.Engine
	}
	if p.Viewport != nil {
		if p.Viewport.Width <= 0 || p.Viewport.Height <= 0 {
			return DeviceProfile{}, fmt.Errorf("viewport must be positive, got %s", p.Viewport)
		}
		profile.Viewport = *p.Viewport
	}
	return profile, nil
}
