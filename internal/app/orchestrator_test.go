package app_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"switchyard/internal/app"
	"switchyard/internal/config"
	"switchyard/internal/db"
	"switchyard/internal/domain"
	"switchyard/internal/migrate"
)

type execFunc func(ctx context.Context, node string, metadata map[string]string) error

func (f execFunc) Execute(ctx context.Context, node string, metadata map[string]string) error {
	return f(ctx, node, metadata)
}

const testConfig = `pipeline:
  id: shop
  concurrency: 2
services:
  user-service: {}
  api-gateway:
    depends_on: [user-service]
  frontend:
    depends_on: [api-gateway]
  billing: {}
`

func newOrchestrator(t *testing.T, exec execFunc) app.Orchestrator {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg, err := config.FromYAML([]byte(testConfig))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	o := app.New(conn, cfg, exec)
	o.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return o
}

func TestExecuteFullRunSucceeds(t *testing.T) {
	o := newOrchestrator(t, func(context.Context, string, map[string]string) error { return nil })
	summary, err := o.Execute(context.Background(), app.RunOptions{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if summary.State != domain.RunSucceeded {
		t.Fatalf("state = %s, want succeeded", summary.State)
	}
	if len(summary.Nodes) != 4 {
		t.Fatalf("nodes = %d, want 4", len(summary.Nodes))
	}

	// run persisted to history
	runs, err := o.Repo.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != summary.RunID {
		t.Fatalf("runs = %+v", runs)
	}
	stored, err := o.Summary(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("stored summary: %v", err)
	}
	if stored.State != domain.RunSucceeded || len(stored.Nodes) != 4 {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestExecuteScopedChangeSet(t *testing.T) {
	var executed []string
	o := newOrchestrator(t, func(_ context.Context, node string, _ map[string]string) error {
		executed = append(executed, node)
		return nil
	})
	summary, err := o.Execute(context.Background(), app.RunOptions{
		ChangeSet: []string{"services/api-gateway/main.go"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []string{"api-gateway", "frontend"}
	if !reflect.DeepEqual(executed, want) {
		t.Fatalf("executed = %v, want %v", executed, want)
	}
	if summary.State != domain.RunSucceeded {
		t.Fatalf("state = %s", summary.State)
	}
	// untouched services recorded as skipped, not failed
	if !reflect.DeepEqual(summary.Skipped, []string{"billing", "user-service"}) {
		t.Fatalf("skipped = %v", summary.Skipped)
	}
}

func TestExecuteFailurePersistsRootCause(t *testing.T) {
	o := newOrchestrator(t, func(_ context.Context, node string, _ map[string]string) error {
		if node == "user-service" {
			return errors.New("tests failed")
		}
		return nil
	})
	summary, err := o.Execute(context.Background(), app.RunOptions{ChangeSet: []string{"user-service"}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if summary.State != domain.RunFailed {
		t.Fatalf("state = %s, want failed", summary.State)
	}
	if !reflect.DeepEqual(summary.Failed, []string{"user-service"}) {
		t.Fatalf("failed = %v", summary.Failed)
	}

	stored, err := o.Summary(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("stored summary: %v", err)
	}
	var gateway *domain.NodeResult
	for i := range stored.Nodes {
		if stored.Nodes[i].Node == "api-gateway" {
			gateway = &stored.Nodes[i]
		}
	}
	if gateway == nil || gateway.State != domain.StateSkipped {
		t.Fatalf("api-gateway result = %+v", gateway)
	}
	if !reflect.DeepEqual(gateway.BlockedBy, []string{"user-service"}) {
		t.Fatalf("blocked by = %v", gateway.BlockedBy)
	}
}

func TestExecuteWritesAuditTrail(t *testing.T) {
	o := newOrchestrator(t, func(context.Context, string, map[string]string) error { return nil })
	summary, err := o.Execute(context.Background(), app.RunOptions{ChangeSet: []string{"billing"}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	items, err := o.Repo.ListEvents(context.Background(), summary.RunID, 100)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range items {
		seen[e.Type] = true
	}
	for _, want := range []string{"run.created", "node.queued", "node.running", "node.succeeded", "node.skipped", "run.finished"} {
		if !seen[want] {
			t.Fatalf("missing event %s in %v", want, items)
		}
	}
}

func TestExecuteStructuralErrorAbortsRun(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg, err := config.FromYAML([]byte(`pipeline:
  id: broken
services:
  a:
    depends_on: [b]
  b:
    depends_on: [a]
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	var executed int
	o := app.New(conn, cfg, execFunc(func(context.Context, string, map[string]string) error {
		executed++
		return nil
	}))
	if _, err := o.Execute(context.Background(), app.RunOptions{}); err == nil {
		t.Fatal("cyclic graph must abort the run")
	}
	if executed != 0 {
		t.Fatalf("no node may execute on structural error, executed=%d", executed)
	}
	runs, err := o.Repo.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("aborted run must not be persisted: %+v", runs)
	}
}

func TestPlanWavesForChangeSet(t *testing.T) {
	o := newOrchestrator(t, func(context.Context, string, map[string]string) error { return nil })
	plan, err := o.Plan(context.Background(), app.RunOptions{ChangeSet: []string{"user-service"}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := [][]string{{"user-service"}, {"api-gateway"}, {"frontend"}}
	if !reflect.DeepEqual(plan.Waves, want) {
		t.Fatalf("waves = %v, want %v", plan.Waves, want)
	}
	if !reflect.DeepEqual(plan.Affected, []string{"api-gateway", "frontend", "user-service"}) {
		t.Fatalf("affected = %v", plan.Affected)
	}
}
