package report

import (
	"sort"
	"strings"
	"time"

	"switchyard/internal/domain"
	"switchyard/internal/graph"
)

// Summarize aggregates the terminal node states of a finished run into an
// immutable RunSummary. The run succeeds only when every node succeeded; any
// failed or skipped node makes the run a failure, and each skipped node lists
// the failed ancestor(s) that blocked it. Neither the run nor the graph is
// mutated.
func Summarize(run domain.Run, g *graph.Graph) domain.RunSummary {
	summary := domain.RunSummary{
		RunID:      run.ID,
		PipelineID: run.PipelineID,
		ChangeSet:  run.ChangeSet,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		State:      domain.RunSucceeded,
	}
	for _, name := range g.Names() {
		n := g.Node(name)
		res := domain.NodeResult{
			RunID:    run.ID,
			Node:     name,
			State:    n.State,
			Attempts: n.Attempts,
			Reason:   n.Reason,
		}
		if !n.StartedAt.IsZero() {
			res.StartedAt = n.StartedAt.UTC().Format(time.RFC3339)
		}
		if !n.FinishedAt.IsZero() {
			res.FinishedAt = n.FinishedAt.UTC().Format(time.RFC3339)
		}
		switch n.State {
		case domain.StateFailed:
			summary.State = domain.RunFailed
			summary.Failed = append(summary.Failed, name)
		case domain.StateSkipped:
			res.BlockedBy = blockingAncestors(g, name)
			// Nodes outside the affected closure were intentionally left
			// alone; only blocked or cancelled skips fail the run.
			if len(res.BlockedBy) > 0 || strings.HasPrefix(n.Reason, "run cancelled") {
				summary.State = domain.RunFailed
			}
			summary.Skipped = append(summary.Skipped, name)
		}
		summary.Nodes = append(summary.Nodes, res)
	}
	return summary
}

// blockingAncestors walks dependency edges upward from a skipped node and
// returns the failed ancestors responsible, in lexical order.
func blockingAncestors(g *graph.Graph, name string) []string {
	seen := map[string]bool{name: true}
	frontier := []string{name}
	var blocking []string
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, dep := range g.Node(cur).DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			n := g.Node(dep)
			switch n.State {
			case domain.StateFailed:
				blocking = append(blocking, dep)
			case domain.StateSkipped:
				frontier = append(frontier, dep)
			}
		}
	}
	sort.Strings(blocking)
	return blocking
}
