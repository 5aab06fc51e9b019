package search

import (
	"math"
	"testing"
)

func TestPageRankEmptyGraph(t *testing.T) {
	scores := PageRank(Graph{Edges: map[string][]string{}})
	if len(scores) != 0 {
		t.Fatalf("expected no scores for an empty graph, got %v", scores)
	}
}

func TestPageRankNormalizesToMaxOne(t *testing.T) {
	g := Graph{Edges: map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}}
	scores := PageRank(g)
	max := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if math.Abs(max-1.0) > 1e-9 {
		t.Fatalf("expected the maximum score to normalize to 1.0, got %v", max)
	}
	// A symmetric 3-cycle should converge to equal scores for all nodes.
	for n, s := range scores {
		if math.Abs(s-1.0) > 1e-6 {
			t.Fatalf("expected node %s to have score ~1.0 in a symmetric cycle, got %v", n, s)
		}
	}
}

func TestPageRankFavorsHeavilyDependedUponNode(t *testing.T) {
	g := Graph{Edges: map[string][]string{
		"a": {"hub"},
		"b": {"hub"},
		"c": {"hub"},
		"hub": {},
	}}
	scores := PageRank(g)
	if scores["hub"] <= scores["a"] {
		t.Fatalf("expected hub (3 incoming edges) to outrank a leaf with none, hub=%v a=%v", scores["hub"], scores["a"])
	}
}

func TestPageRankHandlesDanglingNodeWithoutPanicking(t *testing.T) {
	g := Graph{Edges: map[string][]string{
		"a": {"b"},
		"b": nil,
	}}
	scores := PageRank(g)
	if len(scores) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(scores))
	}
}
