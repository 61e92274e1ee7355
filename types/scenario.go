package types

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LoadState is a page lifecycle milestone a scenario can wait for.
type LoadState string

const (
	LoadStateLoad             LoadState = "load"
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateNetworkIdle      LoadState = "networkidle"
)

// IsValid reports whether s is a known load state.
func (s LoadState) IsValid() bool {
	switch s {
	case LoadStateLoad, LoadStateDOMContentLoaded, LoadStateNetworkIdle:
		return true
	}
	return false
}

// ElementState is the condition a waitFor step polls for.
type ElementState string

const (
	StateAttached ElementState = "attached"
	StateDetached ElementState = "detached"
	StateVisible  ElementState = "visible"
	StateHidden   ElementState = "hidden"
)

// Suite is one scenario file.
type Suite struct {
	Name      string     `yaml:"suite" json:"suite"`
	Tags      []string   `yaml:"tags" json:"tags,omitempty"`
	Scenarios []Scenario `yaml:"scenarios" json:"scenarios"`

	File string `yaml:"-" json:"file"`
}

// Scenario is an ordered list of steps executed in one isolated browser context.
type Scenario struct {
	Name    string        `yaml:"name" json:"name"`
	Only    bool          `yaml:"only" json:"only,omitempty"`
	Skip    string        `yaml:"skip" json:"skip,omitempty"` // non-empty skips with this reason
	Tags    []string      `yaml:"tags" json:"tags,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"` // overrides the per-test timeout
	Steps   []Step        `yaml:"steps" json:"steps"`
}

// Step is a single scenario action. Exactly one field is set.
type Step struct {
	Goto             string          `yaml:"goto,omitempty" json:"goto,omitempty"`
	WaitForLoadState LoadState       `yaml:"waitForLoadState,omitempty" json:"waitForLoadState,omitempty"`
	WaitFor          *WaitForStep    `yaml:"waitFor,omitempty" json:"waitFor,omitempty"`
	WaitForTimeout   time.Duration   `yaml:"waitForTimeout,omitempty" json:"waitForTimeout,omitempty"`
	SetViewport      *Viewport       `yaml:"setViewport,omitempty" json:"setViewport,omitempty"`
	Hover            string          `yaml:"hover,omitempty" json:"hover,omitempty"`
	Click            string          `yaml:"click,omitempty" json:"click,omitempty"`
	Scroll           *ScrollStep     `yaml:"scroll,omitempty" json:"scroll,omitempty"`
	Expect           *ExpectStep     `yaml:"expect,omitempty" json:"expect,omitempty"`
	Screenshot       *ScreenshotStep `yaml:"screenshot,omitempty" json:"screenshot,omitempty"`
	Inspect          *InspectStep    `yaml:"inspect,omitempty" json:"inspect,omitempty"`
	Each             *EachStep       `yaml:"each,omitempty" json:"each,omitempty"`
	Log              string          `yaml:"log,omitempty" json:"log,omitempty"`
}

// WaitForStep waits for a locator to reach a state.
type WaitForStep struct {
	Locator string        `yaml:"locator" json:"locator"`
	State   ElementState  `yaml:"state" json:"state,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// ScrollStep scrolls the page by Distance every Interval until the bottom is reached.
type ScrollStep struct {
	Distance int           `yaml:"distance" json:"distance"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// ExpectStep is a web-first assertion. Locator empty means the page itself.
type ExpectStep struct {
	Locator string        `yaml:"locator,omitempty" json:"locator,omitempty"`
	Not     bool          `yaml:"not,omitempty" json:"not,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Title           *string          `yaml:"title,omitempty" json:"title,omitempty"`
	URL             *string          `yaml:"url,omitempty" json:"url,omitempty"`
	Text            *string          `yaml:"text,omitempty" json:"text,omitempty"`
	ContainsText    *string          `yaml:"containsText,omitempty" json:"containsText,omitempty"`
	Count           *int             `yaml:"count,omitempty" json:"count,omitempty"`
	Visible         *bool            `yaml:"visible,omitempty" json:"visible,omitempty"`
	Attribute       *AttributeExpect `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	CSS             *CSSExpect       `yaml:"css,omitempty" json:"css,omitempty"`
	NoConsoleErrors bool             `yaml:"noConsoleErrors,omitempty" json:"noConsoleErrors,omitempty"`
}

// AttributeExpect matches an attribute value exactly.
type AttributeExpect struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// CSSExpect matches a computed style property. Value is string-exact;
// Contains is a substring match.
type CSSExpect struct {
	Property string  `yaml:"property" json:"property"`
	Value    *string `yaml:"value,omitempty" json:"value,omitempty"`
	Contains *string `yaml:"contains,omitempty" json:"contains,omitempty"`
}

// ScreenshotStep captures the page or one element to Path, relative to the
// attempt's artifact directory.
type ScreenshotStep struct {
	Locator  string `yaml:"locator,omitempty" json:"locator,omitempty"`
	Path     string `yaml:"path" json:"path"`
	FullPage bool   `yaml:"fullPage,omitempty" json:"fullPage,omitempty"`
}

// InspectStep logs diagnostics: the bounding box of Locator and optionally the page HTML.
type InspectStep struct {
	Locator string `yaml:"locator,omitempty" json:"locator,omitempty"`
	Content bool   `yaml:"content,omitempty" json:"content,omitempty"`
}

// EachStep runs Steps once per element matched by Locator, substituting the
// element index for {i} (or {<As>}) in every string of the nested steps.
type EachStep struct {
	Locator string `yaml:"locator" json:"locator"`
	As      string `yaml:"as,omitempty" json:"as,omitempty"`
	Steps   []Step `yaml:"steps" json:"steps"`
}

// Kind returns the name of the action the step performs.
func (s Step) Kind() string {
	kinds := s.setKinds()
	if len(kinds) == 1 {
		return kinds[0]
	}
	return "invalid"
}

func (s Step) setKinds() []string {
	var kinds []string
	add := func(set bool, name string) {
		if set {
			kinds = append(kinds, name)
		}
	}
	add(s.Goto != "", "goto")
	add(s.WaitForLoadState != "", "waitForLoadState")
	add(s.WaitFor != nil, "waitFor")
	add(s.WaitForTimeout != 0, "waitForTimeout")
	add(s.SetViewport != nil, "setViewport")
	add(s.Hover != "", "hover")
	add(s.Click != "", "click")
	add(s.Scroll != nil, "scroll")
	add(s.Expect != nil, "expect")
	add(s.Screenshot != nil, "screenshot")
	add(s.Inspect != nil, "inspect")
	add(s.Each != nil, "each")
	add(s.Log != "", "log")
	return kinds
}

// Describe renders a short human readable label for logs and traces.
func (s Step) Describe() string {
	switch s.Kind() {
	case "goto":
		return fmt.Sprintf("goto %s", s.Goto)
	case "waitForLoadState":
		return fmt.Sprintf("waitForLoadState %s", s.WaitForLoadState)
	case "waitFor":
		state := s.WaitFor.State
		if state == "" {
			state = StateVisible
		}
		return fmt.Sprintf("waitFor %s %s", s.WaitFor.Locator, state)
	case "waitForTimeout":
		return fmt.Sprintf("waitForTimeout %s", s.WaitForTimeout)
	case "setViewport":
		return fmt.Sprintf("setViewport %s", s.SetViewport)
	case "hover":
		return fmt.Sprintf("hover %s", s.Hover)
	case "click":
		return fmt.Sprintf("click %s", s.Click)
	case "scroll":
		return fmt.Sprintf("scroll by %d every %s", s.Scroll.Distance, s.Scroll.Interval)
	case "expect":
		return s.Expect.Describe()
	case "screenshot":
		if s.Screenshot.Locator != "" {
			return fmt.Sprintf("screenshot %s -> %s", s.Screenshot.Locator, s.Screenshot.Path)
		}
		return fmt.Sprintf("screenshot page -> %s", s.Screenshot.Path)
	case "inspect":
		return fmt.Sprintf("inspect %s", s.Inspect.Locator)
	case "each":
		return fmt.Sprintf("each %s (%d steps)", s.Each.Locator, len(s.Each.Steps))
	case "log":
		return fmt.Sprintf("log %q", s.Log)
	}
	return "invalid step"
}

// Matcher returns the name of the single matcher set on the expectation.
func (e *ExpectStep) Matcher() string {
	var names []string
	if e.Title != nil {
		names = append(names, "toHaveTitle")
	}
	if e.URL != nil {
		names = append(names, "toHaveURL")
	}
	if e.Text != nil {
		names = append(names, "toHaveText")
	}
	if e.ContainsText != nil {
		names = append(names, "toContainText")
	}
	if e.Count != nil {
		names = append(names, "toHaveCount")
	}
	if e.Visible != nil {
		names = append(names, "toBeVisible")
	}
	if e.Attribute != nil {
		names = append(names, "toHaveAttribute")
	}
	if e.CSS != nil {
		names = append(names, "toHaveCSS")
	}
	if e.NoConsoleErrors {
		names = append(names, "toHaveNoConsoleErrors")
	}
	if len(names) != 1 {
		return ""
	}
	return names[0]
}

// Describe renders the expectation for logs.
func (e *ExpectStep) Describe() string {
	target := "page"
	if e.Locator != "" {
		target = e.Locator
	}
	not := ""
	if e.Not {
		not = "not."
	}
	return fmt.Sprintf("expect %s %s%s", target, not, e.Matcher())
}

func (e *ExpectStep) validate() error {
	m := e.Matcher()
	if m == "" {
		return errors.New("expect must set exactly one matcher")
	}
	pageLevel := m == "toHaveTitle" || m == "toHaveURL" || m == "toHaveNoConsoleErrors"
	if pageLevel && e.Locator != "" {
		return fmt.Errorf("%s is a page matcher and takes no locator", m)
	}
	if !pageLevel && e.Locator == "" {
		return fmt.Errorf("%s requires a locator", m)
	}
	if e.Count != nil && *e.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", *e.Count)
	}
	if e.Attribute != nil && e.Attribute.Name == "" {
		return errors.New("attribute matcher requires a name")
	}
	if e.CSS != nil {
		if e.CSS.Property == "" {
			return errors.New("css matcher requires a property")
		}
		if (e.CSS.Value == nil) == (e.CSS.Contains == nil) {
			return errors.New("css matcher requires exactly one of value or contains")
		}
	}
	if e.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

// Validate checks that exactly one action is set and its arguments are usable.
func (s Step) Validate() error {
	kinds := s.setKinds()
	switch len(kinds) {
	case 0:
		return errors.New("step has no action")
	case 1:
	default:
		return fmt.Errorf("step sets more than one action: %s", strings.Join(kinds, ", "))
	}
	switch kinds[0] {
	case "waitForLoadState":
		if !s.WaitForLoadState.IsValid() {
			return fmt.Errorf("unknown load state %q", s.WaitForLoadState)
		}
	case "waitFor":
		if s.WaitFor.Locator == "" {
			return errors.New("waitFor requires a locator")
		}
		switch s.WaitFor.State {
		case "", StateAttached, StateDetached, StateVisible, StateHidden:
		default:
			return fmt.Errorf("unknown element state %q", s.WaitFor.State)
		}
	case "waitForTimeout":
		if s.WaitForTimeout < 0 {
			return errors.New("waitForTimeout must not be negative")
		}
	case "setViewport":
		if s.SetViewport.Width <= 0 || s.SetViewport.Height <= 0 {
			return fmt.Errorf("viewport must be positive, got %s", s.SetViewport)
		}
	case "scroll":
		if s.Scroll.Distance <= 0 {
			return errors.New("scroll distance must be positive")
		}
	case "expect":
		return s.Expect.validate()
	case "screenshot":
		if err := ValidateArtifactPath(s.Screenshot.Path); err != nil {
			return err
		}
	case "each":
		if s.Each.Locator == "" {
			return errors.New("each requires a locator")
		}
		if len(s.Each.Steps) == 0 {
			return errors.New("each requires at least one nested step")
		}
		for i, nested := range s.Each.Steps {
			if err := nested.Validate(); err != nil {
				return fmt.Errorf("each step %d: %w", i, err)
			}
		}
	}
	return nil
}

// ValidateArtifactPath rejects artifact paths that escape the artifact directory.
func ValidateArtifactPath(p string) error {
	if p == "" {
		return errors.New("artifact path is required")
	}
	if filepath.IsAbs(p) || path.IsAbs(p) {
		return fmt.Errorf("artifact path %q must be relative", p)
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("artifact path %q escapes the artifact directory", p)
	}
	return nil
}

// Validate checks a scenario and all of its steps.
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("scenario name is required")
	}
	if len(s.Steps) == 0 && s.Skip == "" {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("scenario %q: timeout must not be negative", s.Name)
	}
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("scenario %q step %d: %w", s.Name, i, err)
		}
	}
	return nil
}

// Expand returns a copy of the step with every {key} placeholder replaced.
func (s Step) Expand(vars map[string]string) Step {
	if len(vars) == 0 {
		return s
	}
	sub := func(in string) string {
		for k, v := range vars {
			in = strings.ReplaceAll(in, "{"+k+"}", v)
		}
		return in
	}
	subPtr := func(in *string) *string {
		if in == nil {
			return nil
		}
		out := sub(*in)
		return &out
	}

	out := s
	out.Goto = sub(s.Goto)
	out.Hover = sub(s.Hover)
	out.Click = sub(s.Click)
	out.Log = sub(s.Log)
	if s.WaitFor != nil {
		w := *s.WaitFor
		w.Locator = sub(w.Locator)
		out.WaitFor = &w
	}
	if s.Expect != nil {
		e := *s.Expect
		e.Locator = sub(e.Locator)
		e.Title = subPtr(e.Title)
		e.URL = subPtr(e.URL)
		e.Text = subPtr(e.Text)
		e.ContainsText = subPtr(e.ContainsText)
		if e.Attribute != nil {
			a := *e.Attribute
			a.Name = sub(a.Name)
			a.Value = sub(a.Value)
			e.Attribute = &a
		}
		if e.CSS != nil {
			c := *e.CSS
			c.Property = sub(c.Property)
			c.Value = subPtr(c.Value)
			c.Contains = subPtr(c.Contains)
			e.CSS = &c
		}
		out.Expect = &e
	}
	if s.Screenshot != nil {
		sc := *s.Screenshot
		sc.Locator = sub(sc.Locator)
		sc.Path = sub(sc.Path)
		out.Screenshot = &sc
	}
	if s.Inspect != nil {
		in := *s.Inspect
		in.Locator = sub(in.Locator)
		out.Inspect = &in
	}
	if s.Each != nil {
		each := *s.Each
		each.Locator = sub(each.Locator)
		each.Steps = make([]Step, len(s.Each.Steps))
		for i, nested := range s.Each.Steps {
			each.Steps[i] = nested.Expand(vars)
		}
		out.Each = &each
	}
	return out
}

// HasTag reports whether the scenario or its suite carries tag.
func (s Scenario) HasTag(suite Suite, tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	for _, t := range suite.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
