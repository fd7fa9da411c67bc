package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/msageha/stepflow/internal/model"
)

const defaultConfigFile = "stepflow.yaml"

// loadConfig reads path over the defaults. A missing default config file
// is not an error; a missing explicit one is. Relative paths in the file
// are resolved against its directory.
func loadConfig(path string, explicit bool) (model.Config, error) {
	cfg := model.DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return cfg, nil
	case err != nil:
		return model.Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	resolvePaths(&cfg, filepath.Dir(path))
	return cfg, nil
}

func resolvePaths(cfg *model.Config, base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.Output = abs(cfg.Output)
	cfg.Tests = abs(cfg.Tests)
	for _, h := range cfg.Helpers {
		if p, ok := h["path"].(string); ok {
			h["path"] = abs(p)
		}
	}
}
