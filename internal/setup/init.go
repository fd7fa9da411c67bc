// Package setup scaffolds a new stepflow project.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/stepflow/internal/model"
	atomicyaml "github.com/msageha/stepflow/internal/yaml"
	"github.com/msageha/stepflow/templates"
)

const (
	ConfigFile  = "stepflow.yaml"
	scenarioDir = "scenarios"
)

// Run writes stepflow.yaml, an example scenario and the output and work
// directories into projectDir. projectName defaults to the directory basename.
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	cfgPath := filepath.Join(absDir, ConfigFile)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	if projectName == "" {
		projectName = filepath.Base(absDir)
	}
	cfgData, cfg, err := generateConfig(projectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}

	dirs := []string{scenarioDir, cfg.Output}
	if fsCfg, ok := cfg.Helpers["FileSystem"]; ok {
		if p, ok := fsCfg["path"].(string); ok && p != "" {
			dirs = append(dirs, p)
		}
	}
	for _, d := range dirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(absDir, d)
		}
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	err = fs.WalkDir(templates.FS, scenarioDir, func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return copyTemplateFile(name, filepath.Join(absDir, filepath.FromSlash(name)))
	})
	if err != nil {
		return err
	}

	if err := atomicyaml.WriteRaw(cfgPath, "", cfgData); err != nil {
		return fmt.Errorf("write %s: %w", ConfigFile, err)
	}
	return nil
}

func copyTemplateFile(name, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// generateConfig fills the project name into the config template. The
// template is edited as a node tree to keep its key order.
func generateConfig(projectName string) ([]byte, model.Config, error) {
	data, err := fs.ReadFile(templates.FS, ConfigFile)
	if err != nil {
		return nil, model.Config{}, fmt.Errorf("read config template: %w", err)
	}

	var doc yamlv3.Node
	if err := yamlv3.Unmarshal(data, &doc); err != nil {
		return nil, model.Config{}, fmt.Errorf("parse config template: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yamlv3.MappingNode {
		return nil, model.Config{}, fmt.Errorf("config template is not a mapping")
	}
	setScalar(doc.Content[0], "name", projectName)

	out, err := yamlv3.Marshal(&doc)
	if err != nil {
		return nil, model.Config{}, fmt.Errorf("marshal config: %w", err)
	}

	cfg := model.DefaultConfig()
	if err := yamlv3.Unmarshal(out, &cfg); err != nil {
		return nil, model.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, model.Config{}, err
	}
	return out, cfg, nil
}

func setScalar(m *yamlv3.Node, key, value string) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1].SetString(value)
			return
		}
	}
	m.Content = append(m.Content,
		&yamlv3.Node{Kind: yamlv3.ScalarNode, Value: key},
		&yamlv3.Node{Kind: yamlv3.ScalarNode, Value: value},
	)
}
