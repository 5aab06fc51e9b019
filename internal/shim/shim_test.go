package shim

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/env-architect/architect/internal/store"
)

func writeManifest(t *testing.T, dir string) {
	t.Helper()
	content := `{"project":{"name":"demo","version":"1.0.0"},"dependencies":{"node":{"version":"^20.0.0"}}}`
	if err := os.WriteFile(filepath.Join(dir, "env.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestDispatchToolNotDeclared(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir)

	d := &Dispatcher{Store: store.New(t.TempDir()), Installed: MapInstalled{}}
	_, err := d.Dispatch(context.Background(), dir, "not-a-dependency", nil)
	if err == nil {
		t.Fatal("expected ErrToolNotDeclared")
	}
}

func TestDispatchToolNotInStore(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir)

	d := &Dispatcher{Store: store.New(t.TempDir()), Installed: MapInstalled{}}
	_, err := d.Dispatch(context.Background(), dir, "node", nil)
	if err == nil {
		t.Fatal("expected ErrToolNotInStore")
	}
}

func TestDispatchExecutableNotFound(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir)
	storeDir := t.TempDir()
	s := store.New(storeDir)
	if _, err := s.EnsureDir("node", "20.11.0", "abc1234567890def"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}

	d := &Dispatcher{Store: s, Installed: MapInstalled{"node": {"20.11.0", "abc1234567890def"}}}
	_, err := d.Dispatch(context.Background(), dir, "node", nil)
	if err == nil {
		t.Fatal("expected ErrExecutableNotFound")
	}
}

func TestDispatchExecsAndMirrorsExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell script fixture")
	}
	dir := t.TempDir()
	writeManifest(t, dir)
	storeDir := t.TempDir()
	s := store.New(storeDir)
	entryDir, err := s.EnsureDir("node", "20.11.0", "abc1234567890def")
	if err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	binDir := filepath.Join(entryDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	script := "#!/bin/sh\nexit 7\n"
	binPath := filepath.Join(binDir, "node")
	if err := os.WriteFile(binPath, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}

	d := &Dispatcher{Store: s, Installed: MapInstalled{"node": {"20.11.0", "abc1234567890def"}}}
	code, err := d.Dispatch(context.Background(), dir, "node", nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
}
