package resolver

import "fmt"

// ErrCycleDetected is returned when resolve_batched discovers the
// remaining node set cannot be fully drained by in-degree-0 batches.
type ErrCycleDetected struct{ Name string }

func (e ErrCycleDetected) Error() string {
	return fmt.Sprintf("dependency cycle detected, involving %q", e.Name)
}

// ExecutionDAG is the directed graph of resolved packages: an edge B -> A
// means "A depends on B", i.e. prerequisites point to their dependents, so
// that a topological order processes edge sources before edge targets.
type ExecutionDAG struct {
	nodes []string
	index map[string]int
	// adjacency[i] holds the indices of nodes that depend on node i.
	adjacency [][]int
	edgeSeen  map[[2]int]bool
}

// NewExecutionDAG creates an empty graph.
func NewExecutionDAG() *ExecutionDAG {
	return &ExecutionDAG{
		index:    make(map[string]int),
		edgeSeen: make(map[[2]int]bool),
	}
}

// AddNode registers name if not already present and returns its index.
func (g *ExecutionDAG) AddNode(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, name)
	g.adjacency = append(g.adjacency, nil)
	g.index[name] = i
	return i
}

// AddDependency records that dependent depends on prerequisite, adding an
// edge prerequisite -> dependent. Duplicate edges are suppressed.
func (g *ExecutionDAG) AddDependency(dependent, prerequisite string) {
	d := g.AddNode(dependent)
	p := g.AddNode(prerequisite)
	key := [2]int{p, d}
	if g.edgeSeen[key] {
		return
	}
	g.edgeSeen[key] = true
	g.adjacency[p] = append(g.adjacency[p], d)
}

// Resolve returns a single flat topological order (spec §8 property 1:
// every package's dependencies precede it). It is equivalent to flattening
// ResolveBatched's batches in order.
func (g *ExecutionDAG) Resolve() ([]string, error) {
	batches, err := g.ResolveBatched()
	if err != nil {
		return nil, err
	}
	flat := make([]string, 0, len(g.nodes))
	for _, batch := range batches {
		flat = append(flat, batch...)
	}
	return flat, nil
}

// ResolveBatched implements spec §4.5 Stage 3: repeatedly collect all
// nodes with current in-degree 0 as the next batch, then decrement the
// in-degree of their successors. If a batch would be empty while nodes
// remain, it reports ErrCycleDetected naming one of the remaining nodes.
func (g *ExecutionDAG) ResolveBatched() ([][]string, error) {
	n := len(g.nodes)
	inDegree := make([]int, n)
	for _, succs := range g.adjacency {
		for _, s := range succs {
			inDegree[s]++
		}
	}

	remaining := n
	done := make([]bool, n)
	var batches [][]string

	for remaining > 0 {
		var batch []int
		for i := 0; i < n; i++ {
			if !done[i] && inDegree[i] == 0 {
				batch = append(batch, i)
			}
		}
		if len(batch) == 0 {
			for i := 0; i < n; i++ {
				if !done[i] {
					return nil, ErrCycleDetected{Name: g.nodes[i]}
				}
			}
			return nil, ErrCycleDetected{Name: "unknown"}
		}

		names := make([]string, len(batch))
		for bi, i := range batch {
			names[bi] = g.nodes[i]
			done[i] = true
			remaining--
		}
		batches = append(batches, names)

		for _, i := range batch {
			for _, s := range g.adjacency[i] {
				inDegree[s]--
			}
		}
	}

	return batches, nil
}

// RootDependent is the synthetic id-0 "root" node name under which the
// manifest's direct requirements are attached, per spec §4.5.
const RootDependent = "__root__"
