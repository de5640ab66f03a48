// Package statestore implements the single on-disk state file from spec.md
// §4.2/§6: a camelCase JSON record of the managed path tree and the active
// service set, read tolerantly (a missing or malformed file never aborts a
// run) and written with atomic temp-file-then-rename semantics.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"system-manager-engine/internal/pathtree"
	"system-manager-engine/internal/serviceset"
	"system-manager-engine/pkg/logging"
)

// Record is the unit persisted by the state store.
type Record struct {
	FileTree pathtree.Tree  `json:"fileTree"`
	Services serviceset.Set `json:"services"`
}

// Default returns the record used when no state file exists yet: an empty
// tree, no active services.
func Default() Record {
	return Record{FileTree: pathtree.Root(), Services: serviceset.Set{}}
}

// Load reads the state file at path. A missing or malformed file is not an
// error: spec.md §4.2 requires returning a default record and logging a
// warning rather than refusing to continue.
func Load(path string) Record {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("StateStore", "could not read state file %s: %v, starting from default state", path, err)
		} else {
			logging.Debug("StateStore", "no state file at %s, starting from default state", path)
		}
		return Default()
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		logging.Warn("StateStore", "state file %s is malformed: %v, starting from default state", path, err)
		return Default()
	}
	if record.Services == nil {
		record.Services = serviceset.Set{}
	}
	return record
}

// Save writes record to path using write-temp-then-rename, so a crash or
// power loss mid-write never leaves a partially-written state file behind.
func Save(path string, record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: encoding state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statestore: creating state dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".system-manager-state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("statestore: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("statestore: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("statestore: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("statestore: renaming temp file into place at %s: %w", path, err)
	}
	return nil
}
