// Package store implements the content-addressed tool store at
// <home>/.architect/store, keyed by (name, version, content-hash) per spec
// §4.4.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns one store root and computes/creates entry directories
// within it.
type Manager struct {
	root string
}

// New creates a Manager rooted at root. The root directory is not created
// until the first EnsureDir call.
func New(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the store's root directory.
func (m *Manager) Root() string { return m.root }

// hashPrefixLen is the number of hex characters from the content hash used
// in the entry directory name.
const hashPrefixLen = 12

// entryName computes the directory name for (name, version, hash):
// "<hash12>-<name>-<version>".
func entryName(name, version, hash string) string {
	prefix := hash
	if len(prefix) > hashPrefixLen {
		prefix = prefix[:hashPrefixLen]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, name, version)
}

// CalculatePath returns the absolute path an entry for (name, version,
// hash) would live at, whether or not it has been created.
func (m *Manager) CalculatePath(name, version, hash string) string {
	return filepath.Join(m.root, entryName(name, version, hash))
}

// Exists reports whether the entry directory for (name, version, hash)
// already exists.
func (m *Manager) Exists(name, version, hash string) bool {
	info, err := os.Stat(m.CalculatePath(name, version, hash))
	return err == nil && info.IsDir()
}

// EnsureDir idempotently creates the entry directory for (name, version,
// hash) and returns its path. Calling it repeatedly with identical
// arguments is a no-op once the directory exists (spec §8 property 2).
func (m *Manager) EnsureDir(name, version, hash string) (string, error) {
	path := m.CalculatePath(name, version, hash)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("ensure store dir %s: %w", path, err)
	}
	return path, nil
}

// ListTools reads the store root and returns the distinct tool names
// present, parsed out of each "<hash>-<name>-<version>" entry.
func (m *Manager) ListTools() (map[string]struct{}, error) {
	names := make(map[string]struct{})
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return names, nil
		}
		return nil, fmt.Errorf("read store root %s: %w", m.root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if name, ok := parseEntryName(e.Name()); ok {
			names[name] = struct{}{}
		}
	}
	return names, nil
}

// parseEntryName splits "<hash>-<name>-<version>" into its name segment.
// The hash is the first dash-delimited field, and the version is the last;
// everything between is the (possibly dash-containing) name.
func parseEntryName(entry string) (name string, ok bool) {
	parts := strings.Split(entry, "-")
	if len(parts) < 3 {
		return "", false
	}
	return strings.Join(parts[1:len(parts)-1], "-"), true
}

// GetExecutablePath checks "<dir>/bin/<bin>" then "<dir>/<bin>" for an
// executable, returning the first that exists.
func (m *Manager) GetExecutablePath(name, version, hash, bin string) (string, bool) {
	dir := m.CalculatePath(name, version, hash)
	candidates := []string{
		filepath.Join(dir, "bin", bin),
		filepath.Join(dir, bin),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}
