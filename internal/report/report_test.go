package report_test

import (
	"reflect"
	"testing"

	"switchyard/internal/domain"
	"switchyard/internal/graph"
	"switchyard/internal/report"
)

func terminalGraph(t *testing.T, states map[string]string) *graph.Graph {
	t.Helper()
	g := graph.New()
	err := g.Load([]graph.Spec{
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"a"}},
		{Name: "d", DependsOn: []string{"b", "c"}},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for name, state := range states {
		var err error
		switch state {
		case domain.StateSucceeded:
			if err = g.MarkQueued(name); err == nil {
				if err = g.MarkRunning(name); err == nil {
					err = g.MarkSucceeded(name)
				}
			}
		case domain.StateFailed:
			if err = g.MarkQueued(name); err == nil {
				if err = g.MarkRunning(name); err == nil {
					err = g.MarkFailed(name, "boom")
				}
			}
		case domain.StateSkipped:
			err = g.MarkSkipped(name, "upstream failure")
		}
		if err != nil {
			t.Fatalf("%s -> %s: %v", name, state, err)
		}
	}
	return g
}

func testRun() domain.Run {
	return domain.Run{
		ID:         "run-1",
		PipelineID: "demo",
		ChangeSet:  []string{"a"},
		StartedAt:  "2026-01-01T00:00:00Z",
		FinishedAt: "2026-01-01T00:01:00Z",
	}
}

func TestSummarizeAllSucceeded(t *testing.T) {
	g := terminalGraph(t, map[string]string{
		"a": domain.StateSucceeded,
		"b": domain.StateSucceeded,
		"c": domain.StateSucceeded,
		"d": domain.StateSucceeded,
	})
	summary := report.Summarize(testRun(), g)
	if summary.State != domain.RunSucceeded {
		t.Fatalf("state = %s, want succeeded", summary.State)
	}
	if len(summary.Failed) != 0 || len(summary.Skipped) != 0 {
		t.Fatalf("unexpected failures/skips: %+v", summary)
	}
	if len(summary.Nodes) != 4 {
		t.Fatalf("nodes = %d, want 4", len(summary.Nodes))
	}
}

func TestSummarizeNamesRootCause(t *testing.T) {
	g := terminalGraph(t, map[string]string{
		"a": domain.StateFailed,
		"b": domain.StateSkipped,
		"c": domain.StateSkipped,
		"d": domain.StateSkipped,
	})
	summary := report.Summarize(testRun(), g)
	if summary.State != domain.RunFailed {
		t.Fatalf("state = %s, want failed", summary.State)
	}
	if !reflect.DeepEqual(summary.Failed, []string{"a"}) {
		t.Fatalf("failed = %v, want [a]", summary.Failed)
	}
	if !reflect.DeepEqual(summary.Skipped, []string{"b", "c", "d"}) {
		t.Fatalf("skipped = %v", summary.Skipped)
	}
	for _, res := range summary.Nodes {
		if res.State != domain.StateSkipped {
			continue
		}
		if !reflect.DeepEqual(res.BlockedBy, []string{"a"}) {
			t.Fatalf("%s blocked by %v, want [a]", res.Node, res.BlockedBy)
		}
	}
}

func TestSummarizeOutsideClosureDoesNotFailRun(t *testing.T) {
	g := graph.New()
	err := g.Load([]graph.Spec{
		{Name: "changed"},
		{Name: "untouched"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.MarkQueued("changed"); err != nil {
		t.Fatal(err)
	}
	if err := g.MarkRunning("changed"); err != nil {
		t.Fatal(err)
	}
	if err := g.MarkSucceeded("changed"); err != nil {
		t.Fatal(err)
	}
	if err := g.MarkSkipped("untouched", "not affected by change set"); err != nil {
		t.Fatal(err)
	}
	summary := report.Summarize(testRun(), g)
	if summary.State != domain.RunSucceeded {
		t.Fatalf("state = %s, want succeeded (skip outside closure is expected)", summary.State)
	}
	if !reflect.DeepEqual(summary.Skipped, []string{"untouched"}) {
		t.Fatalf("skipped = %v", summary.Skipped)
	}
}

func TestSummarizeDoesNotMutate(t *testing.T) {
	g := terminalGraph(t, map[string]string{
		"a": domain.StateFailed,
		"b": domain.StateSkipped,
		"c": domain.StateSkipped,
		"d": domain.StateSkipped,
	})
	before := g.State("a")
	_ = report.Summarize(testRun(), g)
	if g.State("a") != before {
		t.Fatal("summarize must not mutate the graph")
	}
}
