// Package loader turns the declarative switchyard.yml service section into a
// validated dependency graph. Parsing is the config package's job; this is
// the bridge from configuration trees to explicit typed nodes and edges, so
// cycle detection and closure computation stay structural operations.
package loader

import (
	"sort"

	"switchyard/internal/change"
	"switchyard/internal/config"
	"switchyard/internal/graph"
)

// Build constructs and validates the graph for one run. All services load in
// one atomic batch, so declaration order in YAML does not matter; dangling
// dependencies and cycles fail the whole load before anything is scheduled.
func Build(cfg *config.Config) (*graph.Graph, error) {
	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]graph.Spec, 0, len(names))
	for _, name := range names {
		svc := cfg.Services[name]
		specs = append(specs, graph.Spec{
			Name:      name,
			DependsOn: svc.DependsOn,
			Metadata:  cfg.MergedMetadata(svc),
		})
	}

	g := graph.New()
	if err := g.Load(specs); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Resolver builds the path-prefix change resolver declared by the services'
// source paths.
func Resolver(cfg *config.Config) *change.PathRules {
	prefixes := make(map[string]string, len(cfg.Services))
	for name, svc := range cfg.Services {
		prefixes[name] = svc.SourcePath(name)
	}
	return change.NewPathRules(prefixes)
}
