// Package dag builds a dependency graph from a workflow's links and
// produces a deterministic topological layering via Kahn's algorithm.
package dag

import (
	"github.com/flowcore/dagflow/pkg/engineerr"
	"github.com/flowcore/dagflow/pkg/workflow"
)

// Graph is the adjacency form of a workflow: dependencies (a node's
// upstream sources) and dependents (its downstream targets), plus the
// node's declared insertion order for deterministic tie-breaking.
type Graph struct {
	order        []string
	dependencies map[string]map[string]bool // node -> set of sources it waits on
	dependents   map[string][]string        // node -> targets fed by it
}

// Build consumes a workflow's links (linksByTarget) and produces
// adjacency + reverse-adjacency. Every node in the workflow appears as a
// vertex, including dependency-free ones.
func Build(w *workflow.Workflow) *Graph {
	g := &Graph{
		dependencies: make(map[string]map[string]bool),
		dependents:   make(map[string][]string),
	}
	for _, n := range w.Nodes() {
		g.order = append(g.order, n.Name)
		g.dependencies[n.Name] = make(map[string]bool)
	}
	for _, n := range w.Nodes() {
		for _, l := range w.LinksByTarget(n.Name) {
			if g.dependencies[n.Name][l.SourceNode] {
				continue
			}
			g.dependencies[n.Name][l.SourceNode] = true
			g.dependents[l.SourceNode] = append(g.dependents[l.SourceNode], n.Name)
		}
	}
	return g
}

// Layers runs Kahn's algorithm over the graph, emitting waves of mutually
// independent nodes in deterministic (insertion) order within each wave.
// Returns a CycleError naming the nodes never emitted if any vertices
// remain after no further progress can be made.
func Layers(g *Graph) ([][]string, error) {
	inDegree := make(map[string]int, len(g.order))
	for name, deps := range g.dependencies {
		inDegree[name] = len(deps)
	}

	remaining := make(map[string]bool, len(g.order))
	for _, name := range g.order {
		remaining[name] = true
	}

	var layers [][]string
	for len(remaining) > 0 {
		var layer []string
		for _, name := range g.order {
			if remaining[name] && inDegree[name] == 0 {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			var stuck []string
			for _, name := range g.order {
				if remaining[name] {
					stuck = append(stuck, name)
				}
			}
			return nil, engineerr.CycleError(stuck...)
		}

		for _, name := range layer {
			delete(remaining, name)
			for _, dependent := range g.dependents[name] {
				if remaining[dependent] {
					inDegree[dependent]--
				}
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

// LayerIndex returns the index of each node's layer, so callers can assert
// layer(u) < layer(v) for every link u->v.
func LayerIndex(layers [][]string) map[string]int {
	idx := make(map[string]int)
	for i, layer := range layers {
		for _, name := range layer {
			idx[name] = i
		}
	}
	return idx
}

// Dependencies returns the set of node names a node directly depends on.
func (g *Graph) Dependencies(name string) map[string]bool {
	return g.dependencies[name]
}

// Dependents returns the node names directly fed by a node.
func (g *Graph) Dependents(name string) []string {
	return g.dependents[name]
}
