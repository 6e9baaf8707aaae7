package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"switchyard/internal/change"
	"switchyard/internal/config"
	"switchyard/internal/domain"
	"switchyard/internal/events"
	"switchyard/internal/loader"
	"switchyard/internal/repo"
	"switchyard/internal/report"
	"switchyard/internal/scheduler"
)

// Orchestrator wires the graph loader, change detector, scheduler and run
// reporter together for one pipeline, and persists outcomes to the run
// history sink.
type Orchestrator struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Exec   scheduler.Executor
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, exec scheduler.Executor) Orchestrator {
	return Orchestrator{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Exec:   exec,
		Now:    time.Now,
	}
}

func (o Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// RunOptions are parameters for one orchestration run.
type RunOptions struct {
	// ChangeSet holds changed file paths or service names. Empty means every
	// service is affected (a full rebuild).
	ChangeSet []string
	// Concurrency overrides the configured limit when > 0.
	Concurrency int
	// Actor identifies who triggered the run, for the audit trail. Empty when
	// the caller is unauthenticated.
	Actor string
}

func (o Orchestrator) resolver() change.Resolver {
	return change.First{loader.Resolver(o.Config), change.Identity{}}
}

// Plan computes the affected closure and its deterministic wave decomposition
// without executing anything.
func (o Orchestrator) Plan(ctx context.Context, opts RunOptions) (domain.Plan, error) {
	g, err := loader.Build(o.Config)
	if err != nil {
		return domain.Plan{}, err
	}
	changeSet := opts.ChangeSet
	if len(changeSet) == 0 {
		changeSet = g.Names()
	}
	affected := change.Detect(changeSet, g, o.resolver())
	return domain.Plan{
		PipelineID: o.Config.Pipeline.ID,
		ChangeSet:  changeSet,
		Affected:   affected,
		Waves:      scheduler.PlanWaves(g, affected),
	}, nil
}

// Execute performs one orchestration run end to end: load and validate the
// graph, detect affected services, schedule waves, summarize, persist.
// Structural errors abort before any node executes; execution failures
// surface only in the returned summary.
func (o Orchestrator) Execute(ctx context.Context, opts RunOptions) (domain.RunSummary, error) {
	g, err := loader.Build(o.Config)
	if err != nil {
		return domain.RunSummary{}, err
	}
	g.Now = o.now

	changeSet := opts.ChangeSet
	if len(changeSet) == 0 {
		changeSet = g.Names()
	}
	affected := change.Detect(changeSet, g, o.resolver())

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = o.Config.Concurrency()
	}
	run := domain.Run{
		ID:          uuid.New().String(),
		PipelineID:  o.Config.Pipeline.ID,
		State:       domain.RunRunning,
		ChangeSet:   changeSet,
		Concurrency: concurrency,
		StartedAt:   o.now().UTC().Format(time.RFC3339),
	}

	var log []auditEntry
	record := func(evtType, node string, payload map[string]any) {
		log = append(log, auditEntry{evtType: evtType, node: node, payload: events.EventPayload(payload)})
	}
	created := events.EventPayload{
		"change_set": changeSet,
		"affected":   affected,
	}
	if opts.Actor != "" {
		created["actor"] = opts.Actor
	}
	record("run.created", "", created)

	sched := scheduler.New(g, o.Exec, scheduler.Options{
		Concurrency: concurrency,
		NodeTimeout: o.Config.Pipeline.NodeTimeout.Std(),
		GracePeriod: o.Config.Pipeline.GracePeriod.Std(),
	}, record)
	schedErr := sched.Run(ctx, affected)

	run.FinishedAt = o.now().UTC().Format(time.RFC3339)
	summary := report.Summarize(run, g)
	run.State = summary.State
	record("run.finished", "", events.EventPayload{
		"state":   run.State,
		"failed":  summary.Failed,
		"skipped": summary.Skipped,
	})

	if err := o.persist(ctx, run, summary, log); err != nil {
		return summary, err
	}
	if schedErr != nil {
		return summary, schedErr
	}
	return summary, nil
}

type auditEntry struct {
	evtType string
	node    string
	payload events.EventPayload
}

func (o Orchestrator) persist(ctx context.Context, run domain.Run, summary domain.RunSummary, log []auditEntry) error {
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := o.Repo.InsertRun(ctx, tx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, res := range summary.Nodes {
		if err := o.Repo.InsertNodeResult(ctx, tx, res); err != nil {
			return fmt.Errorf("insert node result %s: %w", res.Node, err)
		}
	}
	for _, entry := range log {
		if err := o.Events.Append(ctx, tx, entry.evtType, run.ID, entry.node, entry.payload); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	return tx.Commit()
}

// Summary reconstructs the RunSummary of a persisted run.
func (o Orchestrator) Summary(ctx context.Context, runID string) (domain.RunSummary, error) {
	run, err := o.Repo.GetRun(ctx, runID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	nodes, err := o.Repo.ListNodeResults(ctx, runID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	summary := domain.RunSummary{
		RunID:      run.ID,
		PipelineID: run.PipelineID,
		State:      run.State,
		ChangeSet:  run.ChangeSet,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Nodes:      nodes,
	}
	for _, res := range nodes {
		switch res.State {
		case domain.StateFailed:
			summary.Failed = append(summary.Failed, res.Node)
		case domain.StateSkipped:
			summary.Skipped = append(summary.Skipped, res.Node)
		}
	}
	return summary, nil
}
