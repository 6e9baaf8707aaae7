package graph

import (
	"iter"
	"sort"
	"sync"
	"time"

	"switchyard/internal/domain"
)

// Node is one independently buildable unit in the dependency graph.
// Metadata is merged once at construction time and immutable afterwards.
type Node struct {
	Name       string
	DependsOn  []string
	Dependents []string
	Metadata   map[string]string
	State      string
	Reason     string
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Graph owns the nodes of one orchestration run. Structure is fixed before
// scheduling; only node state mutates afterwards, guarded by a single mutex
// because workers report completion concurrently.
type Graph struct {
	mu    sync.Mutex
	nodes map[string]*Node

	// Now is the clock used to stamp state transitions; tests override it.
	Now func() time.Time
}

func New() *Graph {
	return &Graph{nodes: make(map[string]*Node), Now: time.Now}
}

func (g *Graph) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// AddNode registers a node. Dependencies must already be defined; forward
// references are only valid inside one Load batch.
func (g *Graph) AddNode(name string, dependsOn []string, metadata map[string]string) error {
	if _, exists := g.nodes[name]; exists {
		return DuplicateNodeError{Name: name}
	}
	for _, dep := range dependsOn {
		if _, ok := g.nodes[dep]; !ok {
			return UnknownDependencyError{Node: name, Dependency: dep}
		}
	}
	g.insert(name, dependsOn, metadata)
	for _, dep := range dependsOn {
		g.nodes[dep].Dependents = append(g.nodes[dep].Dependents, name)
	}
	return nil
}

// Spec declares one node for a Load batch.
type Spec struct {
	Name      string
	DependsOn []string
	Metadata  map[string]string
}

// Load registers a batch of nodes atomically: edges may reference any node in
// the batch regardless of order, and all edges are validated after loading.
// On error the graph is left unchanged.
func (g *Graph) Load(specs []Spec) error {
	staged := New()
	for _, s := range specs {
		if _, exists := g.nodes[s.Name]; exists {
			return DuplicateNodeError{Name: s.Name}
		}
		if _, exists := staged.nodes[s.Name]; exists {
			return DuplicateNodeError{Name: s.Name}
		}
		staged.insert(s.Name, s.DependsOn, s.Metadata)
	}
	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if _, ok := staged.nodes[dep]; ok {
				continue
			}
			if _, ok := g.nodes[dep]; ok {
				continue
			}
			return UnknownDependencyError{Node: s.Name, Dependency: dep}
		}
	}
	for name, n := range staged.nodes {
		g.nodes[name] = n
	}
	for _, s := range specs {
		for _, dep := range s.DependsOn {
			g.nodes[dep].Dependents = append(g.nodes[dep].Dependents, s.Name)
		}
	}
	return nil
}

func (g *Graph) insert(name string, dependsOn []string, metadata map[string]string) {
	deps := make([]string, len(dependsOn))
	copy(deps, dependsOn)
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	g.nodes[name] = &Node{
		Name:      name,
		DependsOn: deps,
		Metadata:  meta,
		State:     domain.StatePending,
	}
}

// Validate performs cycle detection over the whole graph using depth-first
// search with three-color marking. A back-edge to an in-progress node yields
// a CycleDetectedError naming the cycle's node sequence.
func (g *Graph) Validate() error {
	const (
		white = iota // unvisited
		gray         // in progress
		black        // done
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range g.nodes[name].DependsOn {
			switch color[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				// back-edge: slice the stack from the first occurrence of dep
				for i, n := range stack {
					if n == dep {
						path := append(append([]string{}, stack[i:]...), dep)
						return CycleDetectedError{Path: path}
					}
				}
			}
		}
		color[name] = black
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, name := range g.Names() {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// AffectedClosure yields the names of all nodes that transitively depend on
// any changed node, plus the changed nodes themselves, in no particular
// order. The sequence is lazy and restartable; iteration order is up to the
// caller. Changed names not present in the graph are ignored.
func (g *Graph) AffectedClosure(changed []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		seen := make(map[string]bool, len(g.nodes))
		var frontier []string
		for _, name := range changed {
			if _, ok := g.nodes[name]; !ok || seen[name] {
				continue
			}
			seen[name] = true
			frontier = append(frontier, name)
		}
		for len(frontier) > 0 {
			name := frontier[0]
			frontier = frontier[1:]
			if !yield(name) {
				return
			}
			for _, dep := range g.nodes[name].Dependents {
				if !seen[dep] {
					seen[dep] = true
					frontier = append(frontier, dep)
				}
			}
		}
	}
}

// Names returns all node names in ascending lexical order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Node returns a node by name, or nil.
func (g *Graph) Node(name string) *Node {
	return g.nodes[name]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// MarkQueued transitions a node pending -> queued.
func (g *Graph) MarkQueued(name string) error {
	return g.transition(name, domain.StateQueued, "", domain.StatePending)
}

// MarkRunning transitions a node queued -> running and counts the attempt.
func (g *Graph) MarkRunning(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[name]
	if !ok {
		return UnknownNodeError{Name: name}
	}
	if n.State != domain.StateQueued {
		return InvalidTransitionError{Node: name, From: n.State, To: domain.StateRunning}
	}
	n.State = domain.StateRunning
	n.Attempts++
	n.StartedAt = g.now()
	return nil
}

// MarkSucceeded transitions a node running -> succeeded.
func (g *Graph) MarkSucceeded(name string) error {
	return g.transition(name, domain.StateSucceeded, "", domain.StateRunning)
}

// MarkFailed transitions a node running -> failed, recording the reason.
func (g *Graph) MarkFailed(name, reason string) error {
	return g.transition(name, domain.StateFailed, reason, domain.StateRunning)
}

// MarkSkipped transitions a node to skipped. Skipping is valid from pending
// (never reached the closure, or an upstream dependency failed) and from
// queued (run cancelled before dispatch).
func (g *Graph) MarkSkipped(name, reason string) error {
	return g.transition(name, domain.StateSkipped, reason, domain.StatePending, domain.StateQueued)
}

func (g *Graph) transition(name, to, reason string, from ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[name]
	if !ok {
		return UnknownNodeError{Name: name}
	}
	for _, f := range from {
		if n.State == f {
			n.State = to
			if reason != "" {
				n.Reason = reason
			}
			if domain.Terminal(to) {
				n.FinishedAt = g.now()
			}
			return nil
		}
	}
	return InvalidTransitionError{Node: name, From: n.State, To: to}
}

// State returns the current state of a node under the state lock.
func (g *Graph) State(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[name]; ok {
		return n.State
	}
	return ""
}
