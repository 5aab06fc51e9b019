// Package orchestrator drives one resolved dependency graph through
// trust-fetch, sandbox resolution, store commit, and shim generation, per
// spec §4.6. A batch fails atomically: a verification or instantiation
// failure aborts the remaining work in that batch, but every batch that
// already completed stays intact (no partial store entries are ever
// rolled back).
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/env-architect/architect/internal/cryptoutil"
	"github.com/env-architect/architect/internal/process"
	"github.com/env-architect/architect/internal/store"
	"github.com/env-architect/architect/pkg/models"
)

// Trust is the subset of internal/trust.Verifier the orchestrator needs:
// one verified, content-hash-checked download per named target.
type Trust interface {
	VerifyAndDownload(ctx context.Context, targetName string) (path string, err error)
}

// PluginRunner instantiates a downloaded artifact in the sandbox and
// invokes its resolve export. Packages with no artifact (inert
// dependencies, per spec §4.6 step 2) skip this entirely.
type PluginRunner interface {
	Resolve(ctx context.Context, artifactPath string, resCtx models.ResolutionContext) (models.InstallPlan, error)
}

// PackageWork is one package's unit of orchestration work within a batch.
type PackageWork struct {
	Name           string
	Version        string
	TargetFilename string // "<name>-<version>.wasm"; empty for inert dependencies
	ResolutionCtx  models.ResolutionContext
}

// PackageResult is the committed outcome of one successfully orchestrated
// package.
type PackageResult struct {
	Name        string
	Version     string
	ContentHash string
	StorePath   string
	ShimPath    string
	Plan        *models.InstallPlan // nil for inert dependencies
}

// BatchError identifies the package whose processing aborted a batch.
type BatchError struct {
	Name string
	Err  error
}

func (e *BatchError) Error() string { return fmt.Sprintf("orchestrate %s: %v", e.Name, e.Err) }
func (e *BatchError) Unwrap() error { return e.Err }

// Orchestrator wires the trust fetch, (optional) sandbox runner, content
// store, and shim writer together.
type Orchestrator struct {
	Trust        Trust
	PluginRunner PluginRunner // nil runner treats every package as inert
	Store        *store.Manager
	DispatcherPath string // path to the shim dispatcher binary, embedded in generated shim scripts

	// Queue serializes each batch's per-package work through a single
	// lane capped at MaxConcurrency, so a large batch doesn't open one
	// goroutine (and one sandbox instance) per package at once. A nil
	// Queue falls back to the old fully-unbounded fan-out.
	Queue          *process.CommandQueue
	MaxConcurrency int
}

const orchestratorLane = process.LaneMain

// RunBatches processes each batch of PackageWork in order, committing
// every package within a batch concurrently, and stops at the first batch
// that fails (spec §4.6/§5: batch order is the only guaranteed ordering;
// within a batch, order is unspecified).
func (o *Orchestrator) RunBatches(ctx context.Context, projectRoot string, batches [][]PackageWork) ([]PackageResult, error) {
	var all []PackageResult
	for _, batch := range batches {
		results, err := o.runBatch(ctx, projectRoot, batch)
		all = append(all, results...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

func (o *Orchestrator) runBatch(ctx context.Context, projectRoot string, batch []PackageWork) ([]PackageResult, error) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if o.Queue != nil {
		o.Queue.SetLaneConcurrency(orchestratorLane, o.MaxConcurrency)
	}

	var (
		mu      sync.Mutex
		results []PackageResult
		firstErr error
		wg      sync.WaitGroup
	)

	for _, work := range batch {
		work := work
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := o.runOneQueued(batchCtx, projectRoot, work)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = &BatchError{Name: work.Name, Err: err}
					cancel()
				}
				return
			}
			results = append(results, result)
		}()
	}
	wg.Wait()

	return results, firstErr
}

// runOneQueued runs runOne directly, or through o.Queue's single lane when
// one is configured, so MaxConcurrency actually bounds how many packages
// within a batch are resolved (and sandboxed) at once.
func (o *Orchestrator) runOneQueued(ctx context.Context, projectRoot string, work PackageWork) (PackageResult, error) {
	if o.Queue == nil {
		return o.runOne(ctx, projectRoot, work)
	}
	return process.EnqueueInLane(o.Queue, orchestratorLane, func(ctx context.Context) (PackageResult, error) {
		return o.runOne(ctx, projectRoot, work)
	}, &process.EnqueueOptions{Context: ctx})
}

func (o *Orchestrator) runOne(ctx context.Context, projectRoot string, work PackageWork) (PackageResult, error) {
	var (
		artifactPath string
		plan         *models.InstallPlan
	)

	if work.TargetFilename != "" {
		path, err := o.Trust.VerifyAndDownload(ctx, work.TargetFilename)
		if err != nil {
			return PackageResult{}, fmt.Errorf("verify and download: %w", err)
		}
		artifactPath = path

		if o.PluginRunner != nil {
			installed, err := o.PluginRunner.Resolve(ctx, artifactPath, work.ResolutionCtx)
			if err != nil {
				return PackageResult{}, fmt.Errorf("sandbox resolve: %w", err)
			}
			plan = &installed
		}
	}

	contentHash, err := contentHashOf(artifactPath)
	if err != nil {
		return PackageResult{}, fmt.Errorf("hash artifact: %w", err)
	}

	storePath, err := o.Store.EnsureDir(work.Name, work.Version, contentHash)
	if err != nil {
		return PackageResult{}, fmt.Errorf("ensure store dir: %w", err)
	}

	shimPath, err := o.writeShim(projectRoot, work.Name)
	if err != nil {
		return PackageResult{}, fmt.Errorf("write shim: %w", err)
	}

	return PackageResult{
		Name:        work.Name,
		Version:     work.Version,
		ContentHash: contentHash,
		StorePath:   storePath,
		ShimPath:    shimPath,
		Plan:        plan,
	}, nil
}

// contentHashOf returns the SHA-256 digest of the file at path, or a
// stable placeholder hash for inert dependencies with no downloaded
// artifact.
func contentHashOf(path string) (string, error) {
	if path == "" {
		return cryptoutil.SHA256Hex(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return cryptoutil.SHA256Hex(data), nil
}

// ShimDir is the project-relative directory shims are written into.
const ShimDir = ".architect/shims"

// writeShim writes the POSIX shell shim described in spec §4.6 step 4:
// "#!/bin/sh\nexec <dispatcher> shim <name> -- \"$@\"\n", mode 0755.
func (o *Orchestrator) writeShim(projectRoot, name string) (string, error) {
	dir := filepath.Join(projectRoot, ShimDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create shim dir: %w", err)
	}
	path := filepath.Join(dir, name)
	content := fmt.Sprintf("#!/bin/sh\nexec %s shim %s -- \"$@\"\n", o.DispatcherPath, name)
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return "", fmt.Errorf("write shim %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return "", fmt.Errorf("chmod shim %s: %w", path, err)
	}
	return path, nil
}
