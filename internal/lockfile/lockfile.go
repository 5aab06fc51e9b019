// Package lockfile implements the project-root env.lock file (spec §4.7):
// atomic read/write of tool pins, and drift detection against the local
// content-addressed store.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/env-architect/architect/internal/store"
)

// FileName is the lockfile's filename at the project root.
const FileName = "env.lock"

// Entry pins one tool to an exact version, content hash, and the identity
// that verified it.
type Entry struct {
	Version          string `json:"version"`
	ContentHash      string `json:"content_hash"`
	VerifierIdentity string `json:"verifier_identity"`
}

// Lockfile maps tool name to its pinned Entry.
type Lockfile struct {
	Tools map[string]Entry `json:"tools"`
}

// New creates an empty Lockfile.
func New() *Lockfile {
	return &Lockfile{Tools: make(map[string]Entry)}
}

// Path returns the lockfile path for a project root.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, FileName)
}

// Load reads and parses the lockfile at a project root. A missing
// lockfile is not an error; it returns an empty Lockfile.
func Load(projectRoot string) (*Lockfile, error) {
	data, err := os.ReadFile(Path(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("read lockfile: %w", err)
	}
	var lf Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse lockfile: %w", err)
	}
	if lf.Tools == nil {
		lf.Tools = make(map[string]Entry)
	}
	return &lf, nil
}

// Save writes the lockfile atomically: it writes to a temp file in the
// same directory and renames it into place, so readers never observe a
// partially written lockfile.
func Save(projectRoot string, lf *Lockfile) error {
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lockfile: %w", err)
	}
	target := Path(projectRoot)
	tmp, err := os.CreateTemp(projectRoot, ".env.lock.*.tmp")
	if err != nil {
		return fmt.Errorf("create temp lockfile: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp lockfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp lockfile: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("rename lockfile into place: %w", err)
	}
	return nil
}

// DriftKind classifies one discrepancy between the lockfile and the local
// store.
type DriftKind string

const (
	DriftMissingTool     DriftKind = "MissingTool"
	DriftVersionMismatch DriftKind = "VersionMismatch"
	DriftHashMismatch    DriftKind = "HashMismatch"
)

// Drift is one discrepancy record.
type Drift struct {
	Kind     DriftKind
	Name     string
	Expected string
	Actual   string
}

// Installed describes what is actually present for one tool, as currently
// resolved from the project's manifest and store, for comparison against
// the lockfile's pinned entry.
type Installed struct {
	Version     string
	ContentHash string
}

// Diff compares the lockfile's pinned entries against the currently
// resolved/installed state and the local store, emitting drift records
// per spec §4.7. A tool present in the lockfile but absent from current is
// a MissingTool drift; a version or hash mismatch against current
// (confirmed present in the store) is reported field-by-field.
func Diff(lf *Lockfile, s *store.Manager, current map[string]Installed) ([]Drift, error) {
	var drifts []Drift
	for name, entry := range lf.Tools {
		actual, ok := current[name]
		if !ok {
			drifts = append(drifts, Drift{Kind: DriftMissingTool, Name: name, Expected: entry.Version})
			continue
		}
		if actual.Version != entry.Version {
			drifts = append(drifts, Drift{
				Kind: DriftVersionMismatch, Name: name,
				Expected: entry.Version, Actual: actual.Version,
			})
		}
		if actual.ContentHash != entry.ContentHash {
			drifts = append(drifts, Drift{
				Kind: DriftHashMismatch, Name: name,
				Expected: entry.ContentHash, Actual: actual.ContentHash,
			})
		}
		if !s.Exists(name, actual.Version, actual.ContentHash) {
			drifts = append(drifts, Drift{Kind: DriftMissingTool, Name: name, Expected: entry.Version})
		}
	}
	return drifts, nil
}
