// Package profile reads the two input files a profile's store path
// publishes (spec.md §3): etcFiles/etcFiles.json and services/services.json.
// It is read-only input; nothing here mutates the filesystem.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"system-manager-engine/internal/activationerr"
	"system-manager-engine/internal/serviceset"
	"system-manager-engine/internal/storepath"
)

// EtcFile is one declared entry of a profile's etcFiles.json.
type EtcFile struct {
	Source string `json:"source"`
	Target string `json:"target"`
	UID    int    `json:"uid"`
	GID    int    `json:"gid"`
	User   string `json:"user"`
	Group  string `json:"group"`
	// Mode is either the literal string "symlink" or an octal permission
	// string (e.g. "0644"), per spec.md §3.
	Mode string `json:"mode"`
}

// IsSymlink reports whether this entry should be installed as a symlink
// rather than copied.
func (e EtcFile) IsSymlink() bool {
	return e.Mode == "symlink"
}

// EtcFilesConfig is the parsed shape of <profile>/etcFiles/etcFiles.json.
type EtcFilesConfig struct {
	Entries   map[string]EtcFile  `json:"entries"`
	StaticEnv storepath.StorePath `json:"staticEnv"`
}

const (
	etcFilesRelPath = "etcFiles/etcFiles.json"
	servicesRelPath = "services/services.json"
)

// LoadEtcFiles reads and parses <storePath>/etcFiles/etcFiles.json.
func LoadEtcFiles(storePath storepath.StorePath) (EtcFilesConfig, error) {
	path := storePath.Join(etcFilesRelPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return EtcFilesConfig{}, activationerr.New(activationerr.FilesystemError, path, err)
	}

	var cfg EtcFilesConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return EtcFilesConfig{}, activationerr.New(activationerr.MalformedInput, path, err)
	}
	if cfg.Entries == nil {
		cfg.Entries = map[string]EtcFile{}
	}
	return cfg, nil
}

// LoadServices reads and parses <storePath>/services/services.json.
func LoadServices(storePath storepath.StorePath) (serviceset.Set, error) {
	path := storePath.Join(servicesRelPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, activationerr.New(activationerr.FilesystemError, path, err)
	}

	var set serviceset.Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, activationerr.New(activationerr.MalformedInput, path, err)
	}
	if set == nil {
		set = serviceset.Set{}
	}
	return set, nil
}

// SourcePath resolves the absolute source path an etcFiles.json entry refers
// to, for copy entries: profile.storePath / target.
func SourcePath(storePath storepath.StorePath, entry EtcFile) string {
	return filepath.Join(storePath.Path(), entry.Target)
}

// String renders an EtcFile for debug logging.
func (e EtcFile) String() string {
	return fmt.Sprintf("target=%s mode=%s", e.Target, e.Mode)
}
