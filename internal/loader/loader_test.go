package loader_test

import (
	"errors"
	"reflect"
	"testing"

	"switchyard/internal/config"
	"switchyard/internal/graph"
	"switchyard/internal/loader"
)

func TestBuildDefaultConfig(t *testing.T) {
	cfg := config.Default("demo")
	g, err := loader.Build(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.Len() != 5 {
		t.Fatalf("len = %d, want 5", g.Len())
	}
	n := g.Node("backend")
	if n == nil {
		t.Fatal("backend missing")
	}
	want := []string{"user-service", "notification-service"}
	if !reflect.DeepEqual(n.DependsOn, want) {
		t.Fatalf("backend deps = %v, want %v", n.DependsOn, want)
	}
	if n.Metadata["registry"] != "registry.example.local" {
		t.Fatalf("defaults.metadata not merged: %v", n.Metadata)
	}
	if n.Metadata["command"] != "echo build backend" {
		t.Fatalf("service metadata lost: %v", n.Metadata)
	}
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`pipeline:
  id: demo
services:
  web:
    depends_on: [ghost]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = loader.Build(cfg)
	var unknown graph.UnknownDependencyError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownDependencyError, got %v", err)
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`pipeline:
  id: demo
services:
  a:
    depends_on: [b]
  b:
    depends_on: [a]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = loader.Build(cfg)
	var cycle graph.CycleDetectedError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CycleDetectedError, got %v", err)
	}
}

func TestResolverUsesSourcePaths(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`pipeline:
  id: demo
services:
  web:
    path: apps/web
  api: {}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := loader.Resolver(cfg)
	if got := r.Resolve("apps/web/index.html"); !reflect.DeepEqual(got, []string{"web"}) {
		t.Fatalf("resolve explicit path = %v", got)
	}
	if got := r.Resolve("services/api/main.go"); !reflect.DeepEqual(got, []string{"api"}) {
		t.Fatalf("resolve default path = %v", got)
	}
}
