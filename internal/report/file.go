package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/stepflow/internal/lock"
	"github.com/msageha/stepflow/internal/logging"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/yaml"
)

const ResultFileName = "result.yaml"

// Store reads and writes result files under one output directory.
type Store struct {
	dir    string
	locks  *lock.PathLocks
	logger *logging.Logger
}

func NewStore(dir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{dir: dir, locks: lock.NewPathLocks(), logger: logger.With("report")}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Save writes the simplified run result to <dir>/name.
func (s *Store) Save(name string, res *model.RunResult) (string, error) {
	return s.SaveFile(name, res.Simplify())
}

func (s *Store) SaveFile(name string, rf model.ResultFile) (string, error) {
	path := s.Path(name)
	err := s.locks.Do(path, func() error {
		return yaml.WriteFile(path, rf.FileType, rf)
	})
	if err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	s.logger.Debugf("result written to %s (%d tests)", path, len(rf.Tests))
	return path, nil
}

// Load reads <dir>/name. A file with a broken header is quarantined and
// recovered from its backup or replaced by an empty skeleton.
func (s *Store) Load(name, fileType string) (*model.ResultFile, error) {
	path := s.Path(name)
	var out *model.ResultFile
	err := s.locks.Do(path, func() error {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if verr := yaml.ValidateSchemaHeaderFromBytes(content, fileType); verr != nil {
			s.logger.Warnf("%s is corrupted: %v", path, verr)
			rec, err := yaml.RecoverCorruptedFile(s.dir, path, fileType)
			if err != nil {
				return fmt.Errorf("recover %s: %w", path, err)
			}
			s.logger.Warnf("quarantined to %s (restored from backup: %v)", rec.QuarantinedAt, rec.FromBackup)
			if content, err = os.ReadFile(path); err != nil {
				return err
			}
		}
		var rf model.ResultFile
		if err := yamlv3.Unmarshal(content, &rf); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		out = &rf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FailedUIDs lists the tests of the last saved run that did not pass.
// A missing result file yields an empty list.
func (s *Store) FailedUIDs() ([]string, error) {
	rf, err := s.Load(ResultFileName, yaml.FileTypeRunResult)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var uids []string
	for _, t := range rf.Tests {
		if t.State == model.TestStateFailed {
			uids = append(uids, t.UID)
		}
	}
	return uids, nil
}
