package lockfile

import (
	"testing"

	"github.com/env-architect/architect/internal/store"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lf := New()
	lf.Tools["node"] = Entry{Version: "20.11.0", ContentHash: "abc1234567890def", VerifierIdentity: "registry-server"}

	if err := Save(dir, lf); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Tools["node"].Version != "20.11.0" {
		t.Fatalf("unexpected loaded entry: %+v", loaded.Tools["node"])
	}
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	lf, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(lf.Tools) != 0 {
		t.Fatalf("expected empty lockfile, got %+v", lf)
	}
}

func TestDiffMissingTool(t *testing.T) {
	dir := t.TempDir()
	s := store.New(dir)
	lf := New()
	lf.Tools["node"] = Entry{Version: "20.11.0", ContentHash: "abc1234567890def"}

	drifts, err := Diff(lf, s, map[string]Installed{})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(drifts) != 1 || drifts[0].Kind != DriftMissingTool {
		t.Fatalf("expected single MissingTool drift, got %+v", drifts)
	}
}

func TestDiffVersionAndHashMismatch(t *testing.T) {
	dir := t.TempDir()
	s := store.New(dir)
	if _, err := s.EnsureDir("node", "21.0.0", "deadbeefcafebabe"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	lf := New()
	lf.Tools["node"] = Entry{Version: "20.11.0", ContentHash: "abc1234567890def"}

	drifts, err := Diff(lf, s, map[string]Installed{"node": {Version: "21.0.0", ContentHash: "deadbeefcafebabe"}})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	kinds := map[DriftKind]bool{}
	for _, d := range drifts {
		kinds[d.Kind] = true
	}
	if !kinds[DriftVersionMismatch] || !kinds[DriftHashMismatch] {
		t.Fatalf("expected version and hash mismatch drifts, got %+v", drifts)
	}
}

func TestDiffNoDriftWhenConsistent(t *testing.T) {
	dir := t.TempDir()
	s := store.New(dir)
	if _, err := s.EnsureDir("node", "20.11.0", "abc1234567890def"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	lf := New()
	lf.Tools["node"] = Entry{Version: "20.11.0", ContentHash: "abc1234567890def"}

	drifts, err := Diff(lf, s, map[string]Installed{"node": {Version: "20.11.0", ContentHash: "abc1234567890def"}})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected no drift, got %+v", drifts)
	}
}
