package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// Quarantine moves a corrupted file into <dir>/quarantine with a timestamp.
func Quarantine(dir, filePath string) (string, error) {
	quarantineDir := filepath.Join(dir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405"))
	dst := filepath.Join(quarantineDir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

// RestoreFromBackup replaces filePath with filePath.bak if the backup
// parses and carries the expected header.
func RestoreFromBackup(filePath, fileType string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
		return fmt.Errorf("backup is also corrupted: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

// WriteSkeleton writes an empty file of the given type.
func WriteSkeleton(filePath, fileType string) error {
	content, err := yamlv3.Marshal(map[string]any{
		"schema_version": CurrentSchemaVersion,
		"file_type":      fileType,
		"tests":          []any{},
	})
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	if err := WriteRaw(filePath, fileType, content); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}
	return nil
}

// Recovery reports what RecoverCorruptedFile did.
type Recovery struct {
	QuarantinedAt string
	FromBackup    bool
}

// RecoverCorruptedFile quarantines filePath and restores it from its
// backup, or writes an empty skeleton when the backup is unusable.
func RecoverCorruptedFile(dir, filePath, fileType string) (Recovery, error) {
	var rec Recovery
	dst, err := Quarantine(dir, filePath)
	if err != nil {
		return rec, fmt.Errorf("quarantine failed: %w", err)
	}
	rec.QuarantinedAt = dst

	if err := RestoreFromBackup(filePath, fileType); err == nil {
		rec.FromBackup = true
		return rec, nil
	}
	if err := WriteSkeleton(filePath, fileType); err != nil {
		return rec, fmt.Errorf("skeleton generation failed: %w", err)
	}
	return rec, nil
}
