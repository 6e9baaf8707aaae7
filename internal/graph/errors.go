package graph

import (
	"fmt"
	"strings"
)

// DuplicateNodeError is returned when a node name is registered twice.
type DuplicateNodeError struct {
	Name string
}

func (e DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node %s", e.Name)
}

// UnknownDependencyError is returned when a node declares a dependency on a
// name that is not present in the graph.
type UnknownDependencyError struct {
	Node       string
	Dependency string
}

func (e UnknownDependencyError) Error() string {
	return fmt.Sprintf("node %s depends on unknown node %s", e.Node, e.Dependency)
}

// CycleDetectedError names the node sequence forming a dependency cycle.
// Path starts and ends on the same node.
type CycleDetectedError struct {
	Path []string
}

func (e CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// InvalidTransitionError is a programming-invariant violation: a state
// transition the node state machine does not permit.
type InvalidTransitionError struct {
	Node string
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s for node %s", e.From, e.To, e.Node)
}

// UnknownNodeError is returned by state operations addressing a node that is
// not in the graph.
type UnknownNodeError struct {
	Name string
}

func (e UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node %s", e.Name)
}
