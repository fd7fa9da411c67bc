// Package yaml writes result and state files atomically and recovers them
// when a previous run left them corrupted.
package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// WriteFile marshals data and replaces path with it in one rename. With a
// fileType, the document must start with a matching SchemaHeader.
func WriteFile(path, fileType string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return WriteRaw(path, fileType, content)
}

// WriteRaw is WriteFile for encoded content. An empty fileType only
// requires valid YAML, which is what config files get.
//
// The replaced file is kept as path.bak, but only when it passes the same
// check: a corrupted file never overwrites the backup recovery relies on.
func WriteRaw(path, fileType string, content []byte) error {
	if err := check(content, fileType); err != nil {
		return fmt.Errorf("refusing to write %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".stepflow-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := backup(path, fileType); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func check(content []byte, fileType string) error {
	if fileType != "" {
		return ValidateSchemaHeaderFromBytes(content, fileType)
	}
	var v any
	if err := yamlv3.Unmarshal(content, &v); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}
	return nil
}

func backup(path, fileType string) error {
	old, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if check(old, fileType) != nil {
		return nil
	}
	return os.WriteFile(path+".bak", old, 0644)
}
