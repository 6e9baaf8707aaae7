package change_test

import (
	"reflect"
	"testing"

	"switchyard/internal/change"
	"switchyard/internal/graph"
)

func demoGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	err := g.Load([]graph.Spec{
		{Name: "user-service"},
		{Name: "api-gateway", DependsOn: []string{"user-service"}},
		{Name: "frontend", DependsOn: []string{"api-gateway"}},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return g
}

func TestDetectByServiceName(t *testing.T) {
	g := demoGraph(t)
	got := change.Detect([]string{"user-service"}, g, change.Identity{})
	want := []string{"api-gateway", "frontend", "user-service"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("affected = %v, want %v", got, want)
	}
}

func TestDetectIgnoresUnresolvable(t *testing.T) {
	g := demoGraph(t)
	got := change.Detect([]string{"docs/README.md", "frontend"}, g, change.Identity{})
	want := []string{"frontend"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("affected = %v, want %v", got, want)
	}
}

func TestDetectIdempotent(t *testing.T) {
	g := demoGraph(t)
	changeSet := []string{"api-gateway", "user-service"}
	first := change.Detect(changeSet, g, change.Identity{})
	second := change.Detect(changeSet, g, change.Identity{})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("detect not idempotent: %v then %v", first, second)
	}
}

func TestPathRules(t *testing.T) {
	r := change.NewPathRules(map[string]string{
		"api":         "services/api",
		"api-gateway": "services/api-gateway",
	})
	if got := r.Resolve("services/api/main.go"); !reflect.DeepEqual(got, []string{"api"}) {
		t.Fatalf("resolve = %v, want [api]", got)
	}
	if got := r.Resolve("services/api-gateway/main.go"); !reflect.DeepEqual(got, []string{"api-gateway"}) {
		t.Fatalf("prefix must not match sibling service: %v", got)
	}
	if got := r.Resolve("services/api"); !reflect.DeepEqual(got, []string{"api"}) {
		t.Fatalf("bare directory must match: %v", got)
	}
	if got := r.Resolve("unrelated/path.txt"); got != nil {
		t.Fatalf("unrelated path must resolve to nothing: %v", got)
	}
}

func TestFirstFallsBack(t *testing.T) {
	r := change.First{
		change.NewPathRules(map[string]string{"frontend": "services/frontend"}),
		change.Identity{},
	}
	if got := r.Resolve("services/frontend/index.ts"); !reflect.DeepEqual(got, []string{"frontend"}) {
		t.Fatalf("path rule should win: %v", got)
	}
	if got := r.Resolve("user-service"); !reflect.DeepEqual(got, []string{"user-service"}) {
		t.Fatalf("identity fallback failed: %v", got)
	}
}
