// Package shim implements the dispatcher invoked as
// "<dispatcher> shim <tool> -- <args...>" by the generated shim scripts
// (spec §4.8): it locates the project manifest, confirms the tool is a
// declared dependency, resolves its executable from the content-addressed
// store, and execs it with inherited stdio.
package shim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	architectexec "github.com/env-architect/architect/internal/exec"
	"github.com/env-architect/architect/internal/manifest"
	"github.com/env-architect/architect/internal/store"
	"github.com/env-architect/architect/pkg/models"
)

// Errors returned by Dispatch, per spec §4.8.
var (
	ErrNoProjectRoot      = errors.New("no project root found")
	ErrToolNotDeclared    = errors.New("tool not declared in manifest")
	ErrToolNotInStore     = errors.New("tool not found in store")
	ErrExecutableNotFound = errors.New("executable not found")
)

// Installed resolves a currently-installed (version, content-hash) pair
// for one tool name, as recorded by the orchestrator/lockfile. Dispatch
// uses it to find which store entry to execute.
type Installed interface {
	Lookup(toolName string) (version, contentHash string, ok bool)
}

// Dispatcher ties the manifest walk-up, declared-dependency check, and
// store lookup together.
type Dispatcher struct {
	Store     *store.Manager
	Installed Installed
}

// Dispatch resolves and execs toolName with args, inheriting stdio. It
// returns the child's exit code on success; callers should os.Exit with
// it directly, mirroring the child's own exit code per spec §6.
func (d *Dispatcher) Dispatch(ctx context.Context, startDir, toolName string, args []string) (int, error) {
	projectRoot, err := manifest.FindProjectRoot(startDir)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoProjectRoot, err)
	}

	path, err := manifest.Discover(projectRoot)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoProjectRoot, err)
	}
	m, err := manifest.Parse(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoProjectRoot, err)
	}

	if !isDeclared(m, toolName) {
		return 0, fmt.Errorf("%w: %s", ErrToolNotDeclared, toolName)
	}

	version, contentHash, ok := d.Installed.Lookup(toolName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrToolNotInStore, toolName)
	}

	safeName, err := architectexec.SanitizeExecutableValue(toolName)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrToolNotInStore, toolName, err)
	}

	execPath, ok := d.Store.GetExecutablePath(toolName, version, contentHash, safeName)
	if !ok {
		return 0, fmt.Errorf("%w: %s@%s", ErrExecutableNotFound, toolName, version)
	}

	cmd := exec.CommandContext(ctx, execPath, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = projectRoot
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, fmt.Errorf("exec %s: %w", execPath, err)
	}
	return 0, nil
}

func isDeclared(m *models.Manifest, toolName string) bool {
	for _, bucket := range []models.Bucket{models.BucketRuntime, models.BucketDev, models.BucketTest, models.BucketBuild} {
		deps, err := manifest.Dependencies(m, string(bucket))
		if err != nil {
			continue
		}
		if _, ok := deps[toolName]; ok {
			return true
		}
	}
	return false
}

// MapInstalled is a trivial Installed backed by an in-memory map, used by
// callers (and tests) that already hold the resolved lockfile/install
// state rather than a live lockfile on disk.
type MapInstalled map[string][2]string

func (m MapInstalled) Lookup(toolName string) (string, string, bool) {
	pair, ok := m[toolName]
	if !ok {
		return "", "", false
	}
	return pair[0], pair[1], true
}
