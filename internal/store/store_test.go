package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCalculatePathMatchesFixture(t *testing.T) {
	m := New("/root")
	got := m.CalculatePath("node", "20.11.0", "abc1234567890def")
	want := filepath.Join("/root", "abc123456789-node-20.11.0")
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestEnsureDirIdempotent(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	path1, err := m.EnsureDir("node", "20.11.0", "abc1234567890def")
	if err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	marker := filepath.Join(path1, "marker")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	path2, err := m.EnsureDir("node", "20.11.0", "abc1234567890def")
	if err != nil {
		t.Fatalf("ensure dir second call: %v", err)
	}
	if path1 != path2 {
		t.Fatalf("expected identical path across calls, got %s and %s", path1, path2)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected existing contents preserved: %v", err)
	}
}

func TestExists(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	if m.Exists("node", "20.11.0", "abc1234567890def") {
		t.Fatalf("expected entry not to exist yet")
	}
	if _, err := m.EnsureDir("node", "20.11.0", "abc1234567890def"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	if !m.Exists("node", "20.11.0", "abc1234567890def") {
		t.Fatalf("expected entry to exist after EnsureDir")
	}
}

func TestListTools(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	if _, err := m.EnsureDir("node", "20.11.0", "abc1234567890def"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	if _, err := m.EnsureDir("python", "3.12.0", "def1234567890abc"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	names, err := m.ListTools()
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	for _, want := range []string{"node", "python"} {
		if _, ok := names[want]; !ok {
			t.Fatalf("expected %s in %v", want, names)
		}
	}
}

func TestGetExecutablePathPrefersBinSubdir(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	dir, err := m.EnsureDir("node", "20.11.0", "abc1234567890def")
	if err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	binPath := filepath.Join(dir, "bin", "node")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write bin: %v", err)
	}
	got, ok := m.GetExecutablePath("node", "20.11.0", "abc1234567890def", "node")
	if !ok {
		t.Fatalf("expected executable to be found")
	}
	if got != binPath {
		t.Fatalf("got %s want %s", got, binPath)
	}
}

func TestGetExecutablePathMissing(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	if _, err := m.EnsureDir("node", "20.11.0", "abc1234567890def"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	if _, ok := m.GetExecutablePath("node", "20.11.0", "abc1234567890def", "missing"); ok {
		t.Fatalf("expected missing executable to report not found")
	}
}
