package flags

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// persistedRecord is the on-disk snapshot schema. Decoding is lenient:
// unknown fields are ignored and missing fields fall back to the legacy
// state with nothing enabled, so older and newer builds can share a file.
type persistedRecord struct {
	MigrationState    string          `yaml:"migration_state"`
	EnabledCategories []string        `yaml:"enabled_categories"`
	RollbackTriggers  map[string]bool `yaml:"rollback_triggers"`
}

// FilePersister stores flag snapshots as a YAML file. Saves write to a
// temporary file in the same directory and rename it into place, so a crash
// mid-write never leaves a truncated snapshot.
type FilePersister struct {
	path string
}

// Compile-time interface check.
var _ Persister = (*FilePersister)(nil)

// NewFilePersister creates a FilePersister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Save writes the snapshot to the file, replacing any previous one.
func (f *FilePersister) Save(_ context.Context, set *Set) error {
	data, err := yaml.Marshal(setToRecord(set))
	if err != nil {
		return fmt.Errorf("flags: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".flags-*.yaml")
	if err != nil {
		return fmt.Errorf("flags: create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flags: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("flags: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("flags: replace snapshot: %w", err)
	}
	return nil
}

// Load reads the last saved snapshot. A missing file returns a default
// snapshot (legacy state, nothing enabled).
func (f *FilePersister) Load(_ context.Context) (*Set, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Set{MigrationState: StateLegacy}, nil
		}
		return nil, fmt.Errorf("flags: read snapshot: %w", err)
	}
	return decodeRecord(data)
}

// decodeRecord turns persisted YAML into a Set, applying defaults.
func decodeRecord(data []byte) (*Set, error) {
	var rec persistedRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("flags: decode snapshot: %w", err)
	}
	return recordToSet(rec), nil
}

// recordToSet applies the lenient-schema defaults.
func recordToSet(rec persistedRecord) *Set {
	set := &Set{
		MigrationState:    MigrationState(rec.MigrationState),
		EnabledCategories: make(map[string]bool, len(rec.EnabledCategories)),
		RollbackTriggers:  make(map[string]bool, len(rec.RollbackTriggers)),
	}
	if !set.MigrationState.IsValid() {
		set.MigrationState = StateLegacy
	}
	for _, c := range rec.EnabledCategories {
		if c != "" {
			set.EnabledCategories[c] = true
		}
	}
	for k, v := range rec.RollbackTriggers {
		set.RollbackTriggers[k] = v
	}
	return set
}

// setToRecord is the inverse of recordToSet. Categories() keeps the
// category order stable across saves.
func setToRecord(set *Set) persistedRecord {
	return persistedRecord{
		MigrationState:    string(set.MigrationState),
		EnabledCategories: set.Categories(),
		RollbackTriggers:  set.RollbackTriggers,
	}
}
