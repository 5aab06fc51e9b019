package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/env-architect/architect/internal/manifest"
	"github.com/env-architect/architect/internal/shim"
)

// lockEntry is one resolved package's installed (version, content-hash)
// pair, as written by the resolver/orchestrator into lock.json.
type lockEntry struct {
	Version     string `json:"version"`
	ContentHash string `json:"contentHash"`
}

// lockfile implements shim.Installed by reading the project's committed
// lock.json, the source of truth for what is actually installed (as
// opposed to what the manifest merely declares).
type lockfile struct {
	Packages map[string]lockEntry `json:"packages"`
}

func (l *lockfile) Lookup(toolName string) (version, contentHash string, ok bool) {
	if l == nil {
		return "", "", false
	}
	entry, ok := l.Packages[toolName]
	if !ok {
		return "", "", false
	}
	return entry.Version, entry.ContentHash, true
}

var _ shim.Installed = (*lockfile)(nil)

// loadLockfile walks up from startDir to the project root and reads
// lock.json from it. A missing lock.json is treated as an empty lockfile
// rather than an error, since a project may declare dependencies it has
// not yet installed.
func loadLockfile(startDir string) (*lockfile, error) {
	root, err := manifest.FindProjectRoot(startDir)
	if err != nil {
		return &lockfile{Packages: map[string]lockEntry{}}, nil
	}

	path := filepath.Join(root, "lock.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &lockfile{Packages: map[string]lockEntry{}}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var lf lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if lf.Packages == nil {
		lf.Packages = map[string]lockEntry{}
	}
	return &lf, nil
}
