// Package scenario loads YAML feature files and turns them into suites of
// runnable tests.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
)

// Extensions recognised by LoadDir.
var Extensions = []string{".yaml", ".yml"}

// File is one feature file.
type File struct {
	Path     string     `yaml:"-"`
	Feature  string     `yaml:"feature"`
	Tags     []string   `yaml:"tags,omitempty"`
	Timeout  float64    `yaml:"timeout,omitempty"`
	Retries  int        `yaml:"retries,omitempty"`
	Hooks    Hooks      `yaml:"hooks,omitempty"`
	Scenario []Scenario `yaml:"scenarios"`
}

type Hooks struct {
	Before      []Step `yaml:"before,omitempty"`
	After       []Step `yaml:"after,omitempty"`
	BeforeSuite []Step `yaml:"before_suite,omitempty"`
	AfterSuite  []Step `yaml:"after_suite,omitempty"`
	Retries     int    `yaml:"retries,omitempty"`
}

type Scenario struct {
	Title   string            `yaml:"title"`
	Tags    []string          `yaml:"tags,omitempty"`
	Timeout float64           `yaml:"timeout,omitempty"`
	Retries int               `yaml:"retries,omitempty"`
	Skip    bool              `yaml:"skip,omitempty"`
	Throws  string            `yaml:"throws,omitempty"`
	Meta    map[string]string `yaml:"meta,omitempty"`
	Steps   []Step            `yaml:"steps"`
}

// Step is a single entry of a step list. Exactly one of the action fields
// is set.
type Step struct {
	Do   string `yaml:"do,omitempty"`
	On   string `yaml:"on,omitempty"`
	Args []any  `yaml:"args,omitempty"`
	// Timeout and Retry tune a `do` step; LimitTime applies at code level.
	Timeout   float64 `yaml:"timeout,omitempty"`
	Retry     int     `yaml:"retry,omitempty"`
	LimitTime float64 `yaml:"limit_time,omitempty"`

	Say        string  `yaml:"say,omitempty"`
	TryTo      []Step  `yaml:"try_to,omitempty"`
	HopeThat   []Step  `yaml:"hope_that,omitempty"`
	RetryTo    *Retry  `yaml:"retry_to,omitempty"`
	Within     *Within `yaml:"within,omitempty"`
	Section    string  `yaml:"section,omitempty"`
	EndSection bool    `yaml:"end_section,omitempty"`
}

// UnmarshalYAML accepts a bare "end_section" item besides the mapping form.
// It uses the callback form so the decoder's KnownFields check still
// applies to the mapping.
func (s *Step) UnmarshalYAML(unmarshal func(any) error) error {
	var bare string
	if err := unmarshal(&bare); err == nil {
		if bare != "end_section" {
			return fmt.Errorf("step %q: only end_section may be written without fields", bare)
		}
		*s = Step{EndSection: true}
		return nil
	}
	type fields Step
	return unmarshal((*fields)(s))
}

type Retry struct {
	Tries      int    `yaml:"tries"`
	IntervalMs int    `yaml:"interval_ms,omitempty"`
	Steps      []Step `yaml:"steps"`
}

// Within groups steps under one named meta step.
type Within struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

func (s Step) kind() string {
	var kinds []string
	add := func(set bool, k string) {
		if set {
			kinds = append(kinds, k)
		}
	}
	add(s.Do != "", "do")
	add(s.Say != "", "say")
	add(s.TryTo != nil, "try_to")
	add(s.HopeThat != nil, "hope_that")
	add(s.RetryTo != nil, "retry_to")
	add(s.Within != nil, "within")
	add(s.Section != "", "section")
	add(s.EndSection, "end_section")
	if len(kinds) != 1 {
		return strings.Join(kinds, "+")
	}
	return kinds[0]
}

// Load parses and validates one feature file.
func Load(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

func Parse(content []byte) (*File, error) {
	var f File
	dec := yamlv3.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadDir loads every feature file under dir, sorted by path. dir may also
// name a single file.
func LoadDir(dir string) ([]*File, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		f, err := Load(dir)
		if err != nil {
			return nil, err
		}
		return []*File{f}, nil
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isFeatureFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var files []*File
	var errs []error
	for _, p := range paths {
		f, err := Load(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, f)
	}
	return files, errors.Join(errs...)
}

func isFeatureFile(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
