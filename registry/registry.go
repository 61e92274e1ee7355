package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// Registry discovers scenario files and selects the scenarios to run.
type Registry struct {
	config Config
	grep   *regexp.Regexp
	suites []types.Suite
	mu     sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log        log.Logger
	TestDir    string
	Grep       string   // regular expression matched against "suite > scenario"
	Tags       []string // when set, only scenarios carrying one of these tags
	ForbidOnly bool
}

// Entry is a scenario selected for execution.
type Entry struct {
	Suite    *types.Suite
	Scenario types.Scenario
	// SkipReason is set for scenarios that are reported but not executed.
	SkipReason string
}

// Title is the name grep matches against.
func (e Entry) Title() string {
	return e.Suite.Name + " > " + e.Scenario.Name
}

// HasAnyTag reports whether the scenario or its suite carries one of tags.
func (e Entry) HasAnyTag(tags []string) bool {
	for _, tag := range tags {
		if e.Scenario.HasTag(*e.Suite, tag) {
			return true
		}
	}
	return false
}

// NewRegistry creates a new registry instance and loads every scenario file
// under the test directory. Any problem with the files is a
// *types.ConfigurationError.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.TestDir == "" {
		return nil, types.NewConfigurationError("", "testDir", "test directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{config: cfg}
	if cfg.Grep != "" {
		re, err := regexp.Compile(cfg.Grep)
		if err != nil {
			return nil, types.NewConfigurationError("", "grep", "invalid pattern: %v", err)
		}
		r.grep = re
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the test directory. On error the previously loaded suites
// are kept.
func (r *Registry) Reload() error {
	suites, err := loadSuites(r.config.TestDir)
	if err != nil {
		return err
	}
	if r.config.ForbidOnly {
		for _, s := range suites {
			for _, sc := range s.Scenarios {
				if sc.Only {
					return types.NewConfigurationError(s.File, "only",
						"scenario %q is focused with only: true but forbidOnly is set", sc.Name)
				}
			}
		}
	}

	r.mu.Lock()
	r.suites = suites
	r.mu.Unlock()

	r.config.Log.Debug("Registry loaded", "dir", r.config.TestDir, "len(suites)", len(suites))
	return nil
}

// Suites returns all discovered suites in file order.
func (r *Registry) Suites() []types.Suite {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.suites
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

// Select returns the scenarios to report, in file and declaration order.
// When any scenario is focused with only, unfocused scenarios are dropped.
// Scenarios not matching grep or, when tags are configured, carrying none of
// them are dropped. Skipped scenarios are kept with a SkipReason.
func (r *Registry) Select() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	focused := false
	for _, s := range r.suites {
		for _, sc := range s.Scenarios {
			focused = focused || sc.Only
		}
	}

	var entries []Entry
	for i := range r.suites {
		suite := &r.suites[i]
		for _, sc := range suite.Scenarios {
			if focused && !sc.Only {
				continue
			}
			e := Entry{Suite: suite, Scenario: sc, SkipReason: sc.Skip}
			if r.grep != nil && !r.grep.MatchString(e.Title()) {
				continue
			}
			if len(r.config.Tags) > 0 && !e.HasAnyTag(r.config.Tags) {
				continue
			}
			entries = append(entries, e)
		}
	}
	return entries
}

func loadSuites(dir string) ([]types.Suite, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, types.NewConfigurationError("", "testDir", "%v", err)
	}
	if !info.IsDir() {
		return nil, types.NewConfigurationError("", "testDir", "%s is not a directory", dir)
	}

	var files []string
	// WalkDir visits entries in lexical order.
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, types.NewConfigurationError("", "testDir", "walking %s: %v", dir, err)
	}
	if len(files) == 0 {
		return nil, types.NewConfigurationError("", "testDir", "no scenario files found in %s", dir)
	}

	suites := make([]types.Suite, 0, len(files))
	names := make(map[string]string)
	slugs := make(map[string]string)
	for _, f := range files {
		suite, err := loadSuite(f)
		if err != nil {
			return nil, err
		}
		if prev, ok := names[suite.Name]; ok {
			return nil, types.NewConfigurationError(f, "suite", "suite name %q already used by %s", suite.Name, prev)
		}
		// Suites with the same slug would write into the same artifact directory.
		slug := types.Slug(suite.Name)
		if prev, ok := slugs[slug]; ok {
			return nil, types.NewConfigurationError(f, "suite", "suite name %q maps to artifact directory %q already used by %s", suite.Name, slug, prev)
		}
		names[suite.Name] = f
		slugs[slug] = f
		suites = append(suites, *suite)
	}
	return suites, nil
}

func loadSuite(path string) (*types.Suite, error) {
	log.Debug("Reading scenario file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewConfigurationError(path, "", "reading scenario file: %v", err)
	}

	var suite types.Suite
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&suite); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, types.NewConfigurationError(path, "", "scenario file is empty")
		}
		return nil, types.NewConfigurationError(path, "", "parsing scenario file: %v", err)
	}

	suite.File = path
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(suite.Scenarios) == 0 {
		return nil, types.NewConfigurationError(path, "scenarios", "suite %q has no scenarios", suite.Name)
	}

	seen := make(map[string]bool, len(suite.Scenarios))
	slugs := make(map[string]string, len(suite.Scenarios))
	for i, sc := range suite.Scenarios {
		field := fmt.Sprintf("scenarios[%d]", i)
		if err := sc.Validate(); err != nil {
			return nil, types.NewConfigurationError(path, field, "%v", err)
		}
		if seen[sc.Name] {
			return nil, types.NewConfigurationError(path, field, "duplicate scenario name %q", sc.Name)
		}
		seen[sc.Name] = true
		slug := types.Slug(sc.Name)
		if prev, ok := slugs[slug]; ok {
			return nil, types.NewConfigurationError(path, field, "scenario names %q and %q share the artifact directory %q", prev, sc.Name, slug)
		}
		if types.IsRetrySlug(slug) {
			return nil, types.NewConfigurationError(path, field, "scenario name %q ends like a retry directory (%q)", sc.Name, slug)
		}
		slugs[slug] = sc.Name
		if err := checkEachNames(sc.Steps, nil); err != nil {
			return nil, types.NewConfigurationError(path, field, "scenario %q: %v", sc.Name, err)
		}
	}
	return &suite, nil
}

// checkEachNames rejects nested each blocks that bind the same placeholder,
// since the inner substitution would shadow the outer one.
func checkEachNames(steps []types.Step, bound []string) error {
	for _, s := range steps {
		if s.Each == nil {
			continue
		}
		name := s.Each.As
		if name == "" {
			name = "i"
		}
		for _, b := range bound {
			if b == name {
				return fmt.Errorf("nested each reuses placeholder {%s}; set a distinct as", name)
			}
		}
		if err := checkEachNames(s.Each.Steps, append(bound[:len(bound):len(bound)], name)); err != nil {
			return err
		}
	}
	return nil
}
