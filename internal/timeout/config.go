package timeout

import (
	"fmt"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
)

// Entry is one item of a list-shaped timeout config. Exactly one of Feature
// or Scenario is expected; Grep narrows it to titles containing the string.
type Entry struct {
	Feature  float64 `yaml:"Feature,omitempty"`
	Scenario float64 `yaml:"Scenario,omitempty"`
	Grep     string  `yaml:"grep,omitempty"`
}

// Config is the `timeout` key of stepflow.yaml. It accepts either a plain
// number of seconds applied suite-wide, a single entry, or a list of entries.
type Config struct {
	Default float64
	Entries []Entry
}

func (c *Config) UnmarshalYAML(node *yamlv3.Node) error {
	switch node.Kind {
	case yamlv3.ScalarNode:
		var secs float64
		if err := node.Decode(&secs); err != nil {
			return fmt.Errorf("timeout: expected seconds: %w", err)
		}
		c.Default = secs
	case yamlv3.MappingNode:
		var e Entry
		if err := node.Decode(&e); err != nil {
			return fmt.Errorf("timeout entry: %w", err)
		}
		c.Entries = []Entry{e}
	case yamlv3.SequenceNode:
		for _, item := range node.Content {
			if item.Kind == yamlv3.ScalarNode {
				var secs float64
				if err := item.Decode(&secs); err != nil {
					return fmt.Errorf("timeout list: expected seconds: %w", err)
				}
				c.Default = secs
				continue
			}
			var e Entry
			if err := item.Decode(&e); err != nil {
				return fmt.Errorf("timeout entry: %w", err)
			}
			c.Entries = append(c.Entries, e)
		}
	default:
		return fmt.Errorf("timeout: unsupported yaml node kind %d", node.Kind)
	}
	return nil
}

func (c Config) MarshalYAML() (any, error) {
	if len(c.Entries) == 0 {
		return c.Default, nil
	}
	out := make([]any, 0, len(c.Entries)+1)
	if c.Default > 0 {
		out = append(out, c.Default)
	}
	for _, e := range c.Entries {
		out = append(out, e)
	}
	return out, nil
}

// IsZero lets yaml omitempty drop an unset config.
func (c Config) IsZero() bool {
	return c.Default == 0 && len(c.Entries) == 0
}

// SuiteTimeouts returns the suite-level budgets (seconds) that apply to a
// suite title, in declaration order. The last one is the effective one.
func (c Config) SuiteTimeouts(title string) []float64 {
	var out []float64
	if c.Default > 0 {
		out = append(out, c.Default)
	}
	for _, e := range c.Entries {
		if e.Feature == 0 || !matches(e.Grep, title) {
			continue
		}
		out = append(out, e.Feature)
	}
	return out
}

// TestTimeout returns the last matching Scenario budget for a test title, or 0.
func (c Config) TestTimeout(title string) float64 {
	var secs float64
	for _, e := range c.Entries {
		if e.Scenario == 0 || !matches(e.Grep, title) {
			continue
		}
		secs = e.Scenario
	}
	return secs
}

// LooksLikeMilliseconds flags budgets that were probably written in ms.
func LooksLikeMilliseconds(secs float64) bool {
	return secs >= 1000
}

func matches(grep, title string) bool {
	return grep == "" || strings.Contains(title, grep)
}
