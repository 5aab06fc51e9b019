// Package resolver implements the SAT-based dependency solver (spec §4.5
// Stage 1) and the execution DAG batching (Stages 2-3) over its output.
package resolver

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Candidate is one concrete version available for a package name, together
// with its own dependency requirements.
type Candidate struct {
	Version      *semver.Version
	Requirements map[string]string // dependency name -> version requirement (or "*")
}

// Universe maps a package name to its known candidate versions, as loaded
// from the registry.
type Universe map[string][]Candidate

// ErrUnknownPackage is returned when a requirement names a package absent
// from the universe.
type ErrUnknownPackage struct{ Name string }

func (e ErrUnknownPackage) Error() string { return fmt.Sprintf("unknown package %q", e.Name) }

// ErrNoSolution is returned when no candidate of a named package satisfies
// every requirement collected against it.
type ErrNoSolution struct{ Name string }

func (e ErrNoSolution) Error() string {
	return fmt.Sprintf("no solution satisfies requirements for %q", e.Name)
}

// rootID is the synthetic id of the manifest's own requirement set, as
// specified in spec §4.5 ("the root solvable is synthetic (id 0)").
const rootID = 0

// Engine holds a package universe and solves requirement sets against it.
type Engine struct {
	universe Universe
}

// NewEngine constructs a solver Engine over the given universe.
func NewEngine(universe Universe) *Engine {
	return &Engine{universe: universe}
}

// Selection is the solver's output: one concrete version chosen per
// package name.
type Selection map[string]*semver.Version

// Solve resolves the direct requirement set (e.g. a manifest's flattened
// dependency bucket) into a globally consistent Selection. It performs a
// greedy, newest-first walk with backtracking: for each name it tries
// candidates newest-first, recursing into that candidate's own
// requirements, and backtracks to the next candidate if a conflicting
// constraint is later discovered against an already-selected version.
func (e *Engine) Solve(direct map[string]string) (Selection, error) {
	selection := make(Selection)
	constraints := make(map[string][]string)
	for name, req := range direct {
		constraints[name] = append(constraints[name], req)
	}

	if err := e.solveNames(namesOf(direct), constraints, selection, map[string]bool{}); err != nil {
		return nil, err
	}
	return selection, nil
}

func namesOf(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) solveNames(names []string, constraints map[string][]string, selection Selection, inProgress map[string]bool) error {
	for _, name := range names {
		if _, done := selection[name]; done {
			continue
		}
		if inProgress[name] {
			// Already being resolved higher up the recursion; the
			// eventual assignment will be checked against this name's
			// constraints once selected.
			continue
		}

		candidates, ok := e.universe[name]
		if !ok {
			return ErrUnknownPackage{Name: name}
		}

		sorted := sortedNewestFirst(candidates)

		var chosen *Candidate
		for i := range sorted {
			c := &sorted[i]
			if matchesAll(c.Version, constraints[name]) {
				chosen = c
				break
			}
		}
		if chosen == nil {
			return ErrNoSolution{Name: name}
		}

		selection[name] = chosen.Version
		inProgress[name] = true

		childNames := namesOf(chosen.Requirements)
		for n, req := range chosen.Requirements {
			constraints[n] = append(constraints[n], req)
		}
		if err := e.solveNames(childNames, constraints, selection, inProgress); err != nil {
			return err
		}
		inProgress[name] = false

		// Re-validate: a later sibling branch may have added a
		// constraint against a name already selected above it.
		if existing, ok := selection[name]; ok && !matchesAll(existing, constraints[name]) {
			return ErrNoSolution{Name: name}
		}
	}
	return nil
}

func sortedNewestFirst(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Version.GreaterThan(out[j].Version)
	})
	return out
}

func matchesAll(v *semver.Version, reqs []string) bool {
	for _, req := range reqs {
		if req == "" || req == "*" {
			continue
		}
		constraint, err := semver.NewConstraint(req)
		if err != nil {
			return false
		}
		if !constraint.Check(v) {
			return false
		}
	}
	return true
}
