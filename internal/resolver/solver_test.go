package resolver

import (
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"
)

func mustVersion(t *testing.T, s string) *semver.Version {
	t.Helper()
	v, err := semver.NewVersion(s)
	if err != nil {
		t.Fatalf("parse version %q: %v", s, err)
	}
	return v
}

// S1 — happy path: manifest declares {node: "^20.0.0"}; universe has a
// single node@20.11.0 with no dependencies.
func TestSolveHappyPath(t *testing.T) {
	universe := Universe{
		"node": {{Version: mustVersion(t, "20.11.0")}},
	}
	engine := NewEngine(universe)
	selection, err := engine.Solve(map[string]string{"node": "^20.0.0"})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if selection["node"].String() != "20.11.0" {
		t.Fatalf("expected node@20.11.0, got %v", selection["node"])
	}
}

func TestSolvePicksNewestMatching(t *testing.T) {
	universe := Universe{
		"lib": {
			{Version: mustVersion(t, "1.0.0")},
			{Version: mustVersion(t, "1.5.0")},
			{Version: mustVersion(t, "2.0.0")},
		},
	}
	engine := NewEngine(universe)
	selection, err := engine.Solve(map[string]string{"lib": "^1.0.0"})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if selection["lib"].String() != "1.5.0" {
		t.Fatalf("expected newest matching 1.5.0, got %v", selection["lib"])
	}
}

func TestSolveTransitiveDependencies(t *testing.T) {
	universe := Universe{
		"app": {{Version: mustVersion(t, "1.0.0"), Requirements: map[string]string{"lib": "^2.0.0"}}},
		"lib": {
			{Version: mustVersion(t, "2.0.0")},
			{Version: mustVersion(t, "1.0.0")},
		},
	}
	engine := NewEngine(universe)
	selection, err := engine.Solve(map[string]string{"app": "*"})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if selection["lib"].String() != "2.0.0" {
		t.Fatalf("expected transitively selected lib@2.0.0, got %v", selection["lib"])
	}
}

func TestSolveNoSolution(t *testing.T) {
	universe := Universe{
		"node": {{Version: mustVersion(t, "18.0.0")}},
	}
	engine := NewEngine(universe)
	_, err := engine.Solve(map[string]string{"node": "^20.0.0"})
	var noSolution ErrNoSolution
	if !errors.As(err, &noSolution) {
		t.Fatalf("expected ErrNoSolution, got %v", err)
	}
	if noSolution.Name != "node" {
		t.Fatalf("expected offending name node, got %q", noSolution.Name)
	}
}

func TestSolveUnknownPackage(t *testing.T) {
	engine := NewEngine(Universe{})
	_, err := engine.Solve(map[string]string{"ghost": "*"})
	var unknown ErrUnknownPackage
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownPackage, got %v", err)
	}
	if unknown.Name != "ghost" {
		t.Fatalf("expected offending name ghost, got %q", unknown.Name)
	}
}

func TestSolveWildcardAcceptsAnyVersion(t *testing.T) {
	universe := Universe{
		"tool": {{Version: mustVersion(t, "0.0.1")}},
	}
	engine := NewEngine(universe)
	selection, err := engine.Solve(map[string]string{"tool": "*"})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if selection["tool"].String() != "0.0.1" {
		t.Fatalf("expected 0.0.1, got %v", selection["tool"])
	}
}
