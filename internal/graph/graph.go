// Package graph builds and validates the dependency DAG over a
// project's Features, and derives which Features are runnable.
package graph

import (
	"errors"
	"fmt"

	"github.com/ultracode-dev/forge/internal/forgemodel"
)

// ErrCycleDetected indicates a circular dependency was found among a
// project's Features.
var ErrCycleDetected = errors.New("circular dependency detected")

// FeatureGraph is a directed acyclic graph of Feature dependencies.
// Features are nodes; edges point from a Feature to the Features it
// depends on (is blocked by).
type FeatureGraph struct {
	nodes     map[string]*forgemodel.Feature
	edges     map[string][]string
	completed map[string]bool
}

// New creates an empty FeatureGraph.
func New() *FeatureGraph {
	return &FeatureGraph{
		nodes:     make(map[string]*forgemodel.Feature),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Build constructs the graph from a project's Features. It returns an
// error if a dependency references an unknown Feature, or if the
// resulting graph contains a cycle anywhere in its transitive closure.
func (g *FeatureGraph) Build(features []*forgemodel.Feature) error {
	for _, f := range features {
		g.nodes[f.ID] = f
		g.edges[f.ID] = nil
	}

	for _, f := range features {
		for _, depID := range f.DependsOn {
			if _, ok := g.nodes[depID]; !ok {
				return fmt.Errorf("feature %s depends on unknown feature %s", f.ID, depID)
			}
			g.edges[f.ID] = append(g.edges[f.ID], depID)
		}
	}

	if cycle := g.FindCycle(); cycle != nil {
		return fmt.Errorf("%w: %v", ErrCycleDetected, cycle)
	}

	return nil
}

// HasCycle reports whether the graph contains a circular dependency
// anywhere in its full transitive closure.
func (g *FeatureGraph) HasCycle() bool {
	return g.FindCycle() != nil
}

// FindCycle walks the full graph with three-color DFS and returns the
// chain of Feature IDs that form a cycle, or nil if the graph is
// acyclic. Every node is visited regardless of component, so a cycle
// reachable only from an otherwise-isolated subgraph is still caught.
func (g *FeatureGraph) FindCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	colors := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		colors[id] = white
	}

	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		path = append(path, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case gray:
				cycle = append(append([]string{}, path...), depID)
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = black
		path = path[:len(path)-1]
		return false
	}

	for id := range g.nodes {
		if colors[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}

	return nil
}

// TopologicalSort returns Feature IDs ordered so that every dependency
// precedes the Features that depend on it.
func (g *FeatureGraph) TopologicalSort() ([]string, error) {
	if g.HasCycle() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for id := range g.nodes {
		visit(id)
	}

	return result, nil
}

// Runnable returns the IDs of Features whose dependencies are all
// satisfied (completed or verified) and that are not already marked
// complete in this graph, ordered by priority rank then OrderIndex.
func (g *FeatureGraph) Runnable() []string {
	var ready []string

	for id, f := range g.nodes {
		if g.completed[id] {
			continue
		}
		switch f.Status {
		case forgemodel.FeatureCompleted, forgemodel.FeatureVerified, forgemodel.FeatureFailed,
			forgemodel.FeatureHumanTesting, forgemodel.FeaturePaused, forgemodel.FeatureBlocked:
			continue
		}

		allMet := true
		for _, depID := range g.edges[id] {
			if g.completed[depID] {
				continue
			}
			dep, ok := g.nodes[depID]
			if !ok || !dep.Status.DependencySatisfied() {
				allMet = false
				break
			}
		}

		if allMet {
			ready = append(ready, id)
		}
	}

	sortByPriorityThenOrder(ready, g.nodes)
	return ready
}

func sortByPriorityThenOrder(ids []string, nodes map[string]*forgemodel.Feature) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0; j-- {
			a, b := nodes[ids[j-1]], nodes[ids[j]]
			if less(b, a) {
				ids[j-1], ids[j] = ids[j], ids[j-1]
			} else {
				break
			}
		}
	}
}

func less(a, b *forgemodel.Feature) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	return a.OrderIndex < b.OrderIndex
}

// MarkComplete records that a Feature has finished, affecting the next
// call to Runnable.
func (g *FeatureGraph) MarkComplete(featureID string) {
	g.completed[featureID] = true
}

// Feature returns the node for the given ID, or nil if not present.
func (g *FeatureGraph) Feature(featureID string) *forgemodel.Feature {
	return g.nodes[featureID]
}

// Size returns the number of Features in the graph.
func (g *FeatureGraph) Size() int {
	return len(g.nodes)
}

// Dependencies returns the IDs of Features that the given Feature
// depends on.
func (g *FeatureGraph) Dependencies(featureID string) []string {
	return g.edges[featureID]
}

// Dependents returns the IDs of Features that depend on the given
// Feature.
func (g *FeatureGraph) Dependents(featureID string) []string {
	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == featureID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}
