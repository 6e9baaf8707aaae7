package change

import (
	"sort"
	"strings"

	"switchyard/internal/graph"
)

// Resolver maps one raw changed-artifact identifier (a file path, a service
// name) to zero or more node names. Unresolvable entries resolve to nothing.
type Resolver interface {
	Resolve(entry string) []string
}

// Detect maps a change set to the sorted set of affected node names: the
// resolved nodes plus everything that transitively depends on them. Entries
// that resolve to nothing, or to names not in the graph, are ignored; a
// changed file can belong to shared tooling rather than any one service.
// Detect is deterministic and idempotent.
func Detect(changeSet []string, g *graph.Graph, r Resolver) []string {
	var roots []string
	for _, entry := range changeSet {
		roots = append(roots, r.Resolve(entry)...)
	}
	var affected []string
	for name := range g.AffectedClosure(roots) {
		affected = append(affected, name)
	}
	sort.Strings(affected)
	return affected
}

// First tries resolvers in order and returns the first non-empty resolution.
// It lets a change set mix file paths and bare service names.
type First []Resolver

func (f First) Resolve(entry string) []string {
	for _, r := range f {
		if nodes := r.Resolve(entry); len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

// Identity resolves entries that are node names themselves.
type Identity struct{}

func (Identity) Resolve(entry string) []string {
	return []string{entry}
}

// PathRules resolves changed file paths to services by source-path prefix,
// e.g. "services/user-service/" -> user-service. A path may match several
// rules; all matches are returned.
type PathRules struct {
	rules []pathRule
}

type pathRule struct {
	prefix string
	node   string
}

// NewPathRules builds a resolver from node -> path prefix. Prefixes are
// normalized to end with a slash so "services/api" does not match
// "services/api-gateway/main.go".
func NewPathRules(prefixes map[string]string) *PathRules {
	r := &PathRules{}
	for node, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		r.rules = append(r.rules, pathRule{prefix: prefix, node: node})
	}
	sort.Slice(r.rules, func(i, j int) bool { return r.rules[i].node < r.rules[j].node })
	return r
}

func (r *PathRules) Resolve(entry string) []string {
	var nodes []string
	for _, rule := range r.rules {
		if entry == strings.TrimSuffix(rule.prefix, "/") || strings.HasPrefix(entry, rule.prefix) {
			nodes = append(nodes, rule.node)
		}
	}
	return nodes
}
