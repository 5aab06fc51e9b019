// Package hostbridge implements the plugin-facing callback table described
// in spec §4.2: log/confirm/input/secret/select/get_env/read_file/exec,
// each gated by the invocation's capability set before it runs. A denied
// capability never panics and never propagates past this package — it
// resolves to the safe default for that call's return shape and is logged
// as a warning.
package hostbridge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/env-architect/architect/internal/audit"
	"github.com/env-architect/architect/internal/capability"
	"github.com/env-architect/architect/internal/observability"
)

// UIPrompter is the blocking, cancellable interactive surface a plugin's
// confirm/input/secret/select calls are forwarded to. A nil Prompter on the
// Bridge means the host is running non-interactively: Confirm returns its
// default, and Input/Secret/Select return the empty string.
type UIPrompter interface {
	Confirm(ctx context.Context, prompt string, def bool) (bool, error)
	Input(ctx context.Context, prompt string) (string, error)
	Secret(ctx context.Context, prompt string) (string, error)
	Select(ctx context.Context, prompt string, options []string) (string, error)
}

// Bridge is the per-invocation host bridge: one capability set, one
// logger, one (optional) interactive prompter, scoped to a single plugin
// invocation's project root.
type Bridge struct {
	PluginID     string
	Capabilities *capability.Set
	Logger       *observability.Logger
	Prompter     UIPrompter
	ProjectRoot  string
	// Audit receives a structured finding for every denied call, in
	// addition to the warning Logger always records. Nil is a valid,
	// no-auditing default.
	Audit audit.Sink
}

func (b *Bridge) deny(ctx context.Context, call string, kind capability.Kind, resource string) {
	b.Logger.Warn(ctx, "host bridge call denied",
		"plugin_id", b.PluginID, "call", call, "capability", string(kind), "resource", resource)
	if b.Audit != nil {
		b.Audit.Record(audit.CapabilityDenied(b.PluginID, call, string(kind), resource))
	}
}

// Log writes a plugin-emitted log line. info/warn require ui-interact;
// error/debug are always permitted since a plugin must always be able to
// report its own failure. Log never blocks and never returns an error to
// the plugin.
func (b *Bridge) Log(ctx context.Context, level, msg string) {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "info", "warn":
		if !b.Capabilities.Allows(capability.KindUIInteract, level) {
			b.deny(ctx, "log", capability.KindUIInteract, level)
			return
		}
	case "error", "debug":
		// always permitted
	default:
		level = "info"
	}

	fields := []any{"plugin_id", b.PluginID}
	switch level {
	case "warn":
		b.Logger.Warn(ctx, msg, fields...)
	case "error":
		b.Logger.Error(ctx, msg, fields...)
	case "debug":
		b.Logger.Debug(ctx, msg, fields...)
	default:
		b.Logger.Info(ctx, msg, fields...)
	}
}

// Confirm asks the host to approve or reject prompt. Absent ui-interact,
// or when running non-interactively, it returns def without blocking.
func (b *Bridge) Confirm(ctx context.Context, prompt string, def bool) bool {
	if !b.Capabilities.Allows(capability.KindUIInteract, "confirm") {
		b.deny(ctx, "confirm", capability.KindUIInteract, "confirm")
		return def
	}
	if b.Prompter == nil {
		return def
	}
	result, err := runBlocking(ctx, func(ctx context.Context) (bool, error) {
		return b.Prompter.Confirm(ctx, prompt, def)
	})
	if err != nil {
		return def
	}
	return result
}

// Input requests a free-text line from the host. Absent ui-interact, or
// non-interactive, it returns the empty string.
func (b *Bridge) Input(ctx context.Context, prompt string) string {
	if !b.Capabilities.Allows(capability.KindUIInteract, "input") {
		b.deny(ctx, "input", capability.KindUIInteract, "input")
		return ""
	}
	if b.Prompter == nil {
		return ""
	}
	result, err := runBlocking(ctx, func(ctx context.Context) (string, error) {
		return b.Prompter.Input(ctx, prompt)
	})
	if err != nil {
		return ""
	}
	return result
}

// Secret requests a sensitive value from the host. It requires ui-secret
// (distinct from ui-interact) and the value is never passed to Log.
func (b *Bridge) Secret(ctx context.Context, prompt string) string {
	if !b.Capabilities.Allows(capability.KindUISecret, "secret") {
		b.deny(ctx, "secret", capability.KindUISecret, "secret")
		return ""
	}
	if b.Prompter == nil {
		return ""
	}
	result, err := runBlocking(ctx, func(ctx context.Context) (string, error) {
		return b.Prompter.Secret(ctx, prompt)
	})
	if err != nil {
		return ""
	}
	return result
}

// Select asks the host to choose one of options. Absent ui-interact, or
// non-interactive, it returns the empty string.
func (b *Bridge) Select(ctx context.Context, prompt string, options []string) string {
	if !b.Capabilities.Allows(capability.KindUIInteract, "select") {
		b.deny(ctx, "select", capability.KindUIInteract, "select")
		return ""
	}
	if b.Prompter == nil {
		return ""
	}
	result, err := runBlocking(ctx, func(ctx context.Context) (string, error) {
		return b.Prompter.Select(ctx, prompt, options)
	})
	if err != nil {
		return ""
	}
	return result
}

// GetEnv reads one environment variable. A bare env-read grant permits any
// key; a scoped grant ({"env-read": ["KEY"]}) permits only listed keys.
// The bool mirrors option<string>'s presence.
func (b *Bridge) GetEnv(ctx context.Context, key string) (string, bool) {
	if !b.Capabilities.Allows(capability.KindEnvRead, key) {
		b.deny(ctx, "get_env", capability.KindEnvRead, key)
		return "", false
	}
	return os.LookupEnv(key)
}

// ReadFile reads the file at path. The capability check requires an
// fs-read grant covering path: unrestricted, or a scoped allow-list entry
// that is path or an ancestor of it.
func (b *Bridge) ReadFile(ctx context.Context, path string) (string, error) {
	resolved := b.resolvePath(path)
	if !b.Capabilities.Allows(capability.KindFSRead, resolved) {
		b.deny(ctx, "read_file", capability.KindFSRead, resolved)
		return "", fmt.Errorf("denied")
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// Exec runs cmd with args and captures stdout. stderr is forwarded to the
// host's own logs, not to the plugin. The capability check requires a
// sys-exec grant covering cmd: unrestricted, or a scoped allow-list entry
// naming cmd exactly or as an ancestor path (for absolute command paths).
func (b *Bridge) Exec(ctx context.Context, cmdName string, args []string) (string, error) {
	if !b.Capabilities.Allows(capability.KindSysExec, cmdName) {
		b.deny(ctx, "exec", capability.KindSysExec, cmdName)
		return "", fmt.Errorf("denied")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdName, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			b.Logger.Warn(ctx, "plugin exec stderr", "plugin_id", b.PluginID, "cmd", cmdName, "stderr", stderr.String())
		}
		return "", fmt.Errorf("exec %s: %w", cmdName, err)
	}
	if stderr.Len() > 0 {
		b.Logger.Warn(ctx, "plugin exec stderr", "plugin_id", b.PluginID, "cmd", cmdName, "stderr", stderr.String())
	}
	return stdout.String(), nil
}

func (b *Bridge) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.ProjectRoot, path)
}

// runBlocking runs fn on its own goroutine and returns as soon as either fn
// completes or ctx is cancelled (an epoch bump from the sandbox side),
// whichever happens first. This is the "scoped blocking executor
// propagating cancellation" design note (spec §9) for host-bridge UI
// calls: the plugin's call unblocks on cancellation even if the underlying
// Prompter implementation ignores ctx itself.
func runBlocking[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}
