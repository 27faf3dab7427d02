// Package dependency models the startup dependencies between services as a
// directed graph and derives a deterministic start order from it.
package dependency

import (
	"fmt"
	"strings"
)

// NodeID uniquely identifies a node in the graph.
type NodeID string

// Node is one service in the graph.
type Node struct {
	ID           NodeID
	FriendlyName string
	DependsOn    []NodeID
}

// Graph keeps nodes in insertion order; that order breaks ties when sorting.
type Graph struct {
	nodes map[NodeID]*Node
	order []NodeID
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds or replaces a node.
func (g *Graph) AddNode(n Node) {
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	node := n
	g.nodes[n.ID] = &node
}

// Get returns the node with the given id.
func (g *Graph) Get(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Dependents returns the ids of nodes that directly depend on id.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var out []NodeID
	for _, nid := range g.order {
		for _, dep := range g.nodes[nid].DependsOn {
			if dep == id {
				out = append(out, nid)
				break
			}
		}
	}
	return out
}

// TopologicalOrder returns all nodes so that every node comes after its
// dependencies. Among nodes that are ready at the same time, insertion order wins.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	for _, id := range g.order {
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("node %s depends on unknown node %s", id, dep)
			}
		}
	}

	placed := make(map[NodeID]bool, len(g.order))
	result := make([]NodeID, 0, len(g.order))
	for len(result) < len(g.order) {
		progressed := false
		for _, id := range g.order {
			if placed[id] {
				continue
			}
			ready := true
			for _, dep := range g.nodes[id].DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[id] = true
				result = append(result, id)
				progressed = true
				// restart so earlier-declared nodes keep priority
				break
			}
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle between: %s", strings.Join(g.unplaced(placed), ", "))
		}
	}
	return result, nil
}

func (g *Graph) unplaced(placed map[NodeID]bool) []string {
	var out []string
	for _, id := range g.order {
		if !placed[id] {
			out = append(out, string(id))
		}
	}
	return out
}
