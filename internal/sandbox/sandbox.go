// Package sandbox wraps tetratelabs/wazero into the pooled, bounded Wasm
// execution environment described in spec §4.1: a shared engine, a
// per-invocation store with a capability allow-list, an epoch-style
// cancellation deadline, and a fuel budget charged at host-bridge
// boundaries.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/env-architect/architect/internal/capability"
	"github.com/env-architect/architect/internal/infra"
	"github.com/env-architect/architect/internal/observability"
)

// Resource limits enforced per spec §4.1.
const (
	DefaultMaxConcurrentInstances = 100
	DefaultMemoryLimitBytes       = 64 * 1024 * 1024
	wasmPageSize                  = 64 * 1024
	DefaultFuel                   = 1_000_000
	DefaultEpochTick              = 10 * time.Millisecond
)

// Errors returned by instantiation and invocation, per spec §4.1/§7.
var (
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrCancelled         = errors.New("cancelled")
)

// InstantiationError wraps a module-load or linking failure with the
// plugin name that failed, so callers can attribute it in a batch.
type InstantiationError struct {
	Name string
	Err  error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiate %s: %v", e.Name, e.Err)
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// Config tunes the engine's resource posture. Zero values fall back to the
// spec's defaults.
type Config struct {
	MaxConcurrentInstances int
	MemoryLimitBytes       uint32
	DefaultFuel            int64
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentInstances <= 0 {
		c.MaxConcurrentInstances = DefaultMaxConcurrentInstances
	}
	if c.MemoryLimitBytes <= 0 {
		c.MemoryLimitBytes = DefaultMemoryLimitBytes
	}
	if c.DefaultFuel <= 0 {
		c.DefaultFuel = DefaultFuel
	}
	return c
}

// Engine is configured once and shared read-only across every sandbox
// invocation; it owns the wazero runtime and a bounded pool of concurrent
// instance slots.
type Engine struct {
	cfg     Config
	runtime wazero.Runtime
	slots   *infra.Semaphore
	logger  *observability.Logger

	mu     sync.Mutex
	closed bool
}

// NewEngine builds the shared wazero runtime, instantiates WASI preview 1
// into it, and sizes the instance-concurrency pool.
func NewEngine(ctx context.Context, cfg Config, logger *observability.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()

	memPages := cfg.MemoryLimitBytes / wasmPageSize
	runtimeCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(memPages)

	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi preview1: %w", err)
	}

	return &Engine{
		cfg:     cfg,
		runtime: rt,
		slots:   infra.NewSemaphore(int64(cfg.MaxConcurrentInstances)),
		logger:  logger,
	}, nil
}

// Close releases the wazero runtime and every compiled module cached
// within it.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.runtime.Close(ctx)
}

// Compile compiles raw Wasm component bytes once; the result is reused
// across instantiations.
func (e *Engine) Compile(ctx context.Context, name string, wasmBytes []byte) (wazero.CompiledModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &InstantiationError{Name: name, Err: err}
	}
	return compiled, nil
}

// FuelMeter tracks instruction-equivalent budget spent at host-bridge
// boundaries (spec's "Fuel metering under wazero" design note: since
// wazero exposes no native per-instruction fuel counter, the budget is
// charged at each host-call suspension point, which spec §5 defines as
// the unit of cooperative scheduling anyway).
type FuelMeter struct {
	mu        sync.Mutex
	remaining int64
}

// NewFuelMeter creates a meter with the given starting budget.
func NewFuelMeter(budget int64) *FuelMeter {
	return &FuelMeter{remaining: budget}
}

// Charge deducts cost from the remaining budget. It returns
// ErrResourceExhausted once the budget would go negative, and the meter
// stays at zero thereafter (no borrowing).
func (f *FuelMeter) Charge(cost int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return ErrResourceExhausted
	}
	f.remaining -= cost
	if f.remaining < 0 {
		f.remaining = 0
		return ErrResourceExhausted
	}
	return nil
}

// Remaining reports the unspent budget.
func (f *FuelMeter) Remaining() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining
}

// Invocation is a single plugin call's bounded environment: a deadline
// (epoch-style cancellation), a fuel meter charged by the host bridge, and
// the capability allow-list gating every host call the plugin makes.
type Invocation struct {
	Module       api.Module
	Fuel         *FuelMeter
	Capabilities *capability.Set
	cancel       context.CancelFunc
	release      func()
}

// Instantiate acquires a pool slot, builds a fresh store for one plugin
// invocation with the given capability set and fuel budget, binds an
// epoch-style deadline, and instantiates the compiled module against it.
// The returned Invocation must be closed by the caller (via Close) to
// release its pool slot, even on error paths that occurred after
// acquisition.
func (e *Engine) Instantiate(ctx context.Context, name string, compiled wazero.CompiledModule, caps *capability.Set, timeout time.Duration, fuel int64, cfg wazero.ModuleConfig) (*Invocation, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire sandbox slot: %w", err)
	}
	release := func() { e.slots.Release(1) }

	if timeout <= 0 {
		timeout = DefaultEpochTick * 100
	}
	if fuel <= 0 {
		fuel = e.cfg.DefaultFuel
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)

	mod, err := e.runtime.InstantiateModule(callCtx, compiled, cfg)
	if err != nil {
		cancel()
		release()
		if callCtx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, &InstantiationError{Name: name, Err: err}
	}

	return &Invocation{
		Module:       mod,
		Fuel:         NewFuelMeter(fuel),
		Capabilities: caps,
		cancel:       cancel,
		release:      release,
	}, nil
}

// Close tears down an invocation: it closes the module, cancels the
// epoch-style deadline, and returns the slot to the pool so it can be
// reused immediately (testable property: "pool slot reusable immediately"
// after fuel exhaustion or cancellation).
func (inv *Invocation) Close(ctx context.Context) error {
	defer inv.cancel()
	defer inv.release()
	return inv.Module.Close(ctx)
}

// Call invokes one exported function by name, translating a context
// cancellation (epoch bump) into ErrCancelled rather than a raw wazero
// error, per spec §4.1's cancellation contract.
func (inv *Invocation) Call(ctx context.Context, funcName string, params ...uint64) ([]uint64, error) {
	fn := inv.Module.ExportedFunction(funcName)
	if fn == nil {
		return nil, fmt.Errorf("export %q not found", funcName)
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("call %s: %w", funcName, err)
	}
	return results, nil
}
