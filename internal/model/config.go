// Package model defines the data structures for stepflow's configuration,
// steps, tests and run results.
package model

import (
	"fmt"

	"github.com/msageha/stepflow/internal/timeout"
)

type Config struct {
	Name            string                  `yaml:"name"`
	Output          string                  `yaml:"output"`
	Tests           string                  `yaml:"tests"`
	Timeout         timeout.Config          `yaml:"timeout,omitempty"`
	Logging         LoggingConfig           `yaml:"logging"`
	RetryFailedStep RetryFailedStepConfig   `yaml:"retry_failed_step"`
	StepTimeout     StepTimeoutConfig       `yaml:"step_timeout"`
	Workers         WorkersConfig           `yaml:"workers"`
	Metrics         MetricsConfig           `yaml:"metrics"`
	Audit           AuditConfig             `yaml:"audit"`
	Helpers         map[string]HelperConfig `yaml:"helpers"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RetryFailedStepConfig drives automatic step retries for a whole test.
type RetryFailedStepConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Retries      int      `yaml:"retries"`
	MinTimeoutMs int      `yaml:"min_timeout_ms"`
	MaxTimeoutMs int      `yaml:"max_timeout_ms"`
	Factor       float64  `yaml:"factor"`
	IgnoredSteps []string `yaml:"ignored_steps"`
}

// StepTimeoutConfig applies a default timeout to every step.
type StepTimeoutConfig struct {
	Enabled bool    `yaml:"enabled"`
	Seconds float64 `yaml:"timeout_sec"`
	// OverrideStepLimits makes the default win over limits set in code.
	OverrideStepLimits bool     `yaml:"override_step_limits"`
	NoTimeoutSteps     []string `yaml:"no_timeout_steps"`
}

type WorkersConfig struct {
	Count int `yaml:"count"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HelperConfig is the free-form option block of one helper.
type HelperConfig map[string]any

func DefaultConfig() Config {
	return Config{
		Name:    "stepflow",
		Output:  "output",
		Tests:   "./scenarios",
		Logging: LoggingConfig{Level: "info"},
		RetryFailedStep: RetryFailedStepConfig{
			Retries:      3,
			MinTimeoutMs: 150,
			MaxTimeoutMs: 10000,
			Factor:       1.5,
			IgnoredSteps: []string{"amOnPage", "wait*", "send*", "execute*", "run*", "have*"},
		},
		StepTimeout: StepTimeoutConfig{
			Seconds:        150,
			NoTimeoutSteps: []string{"amOnPage", "wait*"},
		},
		Workers: WorkersConfig{Count: 1},
		Metrics: MetricsConfig{Addr: ":9464"},
		Audit:   AuditConfig{Path: "audit.jsonl"},
		Helpers: map[string]HelperConfig{},
	}
}

func (c Config) Validate() error {
	if c.Output == "" {
		return fmt.Errorf("output: must not be empty")
	}
	if c.Workers.Count < 0 {
		return fmt.Errorf("workers.count: must be >= 0, got %d", c.Workers.Count)
	}
	if c.RetryFailedStep.Retries < 0 {
		return fmt.Errorf("retry_failed_step.retries: must be >= 0, got %d", c.RetryFailedStep.Retries)
	}
	if c.StepTimeout.Seconds < 0 {
		return fmt.Errorf("step_timeout.timeout_sec: must be >= 0")
	}
	if c.Timeout.Default < 0 {
		return fmt.Errorf("timeout: must be >= 0")
	}
	return nil
}
