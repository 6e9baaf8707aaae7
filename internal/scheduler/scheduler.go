package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"switchyard/internal/domain"
	"switchyard/internal/graph"
)

// Executor runs one node to completion. It performs the actual build/deploy
// work and owns any retry policy; the scheduler records whatever terminal
// result it reports and never retries on its own.
type Executor interface {
	Execute(ctx context.Context, node string, metadata map[string]string) error
}

// EventFunc receives scheduling events. It is called from the coordinating
// goroutine only, so implementations need no locking.
type EventFunc func(evtType, node string, payload map[string]any)

// Options tune one scheduling run.
type Options struct {
	// Concurrency bounds the number of nodes executing at once. <= 0 means 1.
	Concurrency int
	// NodeTimeout applies to every node without its own "timeout" metadata.
	// Zero means no timeout. Exceeding it counts as an execution failure.
	NodeTimeout time.Duration
	// GracePeriod is how long cancellation waits for running nodes before the
	// run is force-finalized.
	GracePeriod time.Duration
}

// MetaTimeout is the metadata key carrying a per-node timeout duration.
const MetaTimeout = "timeout"

// Scheduler drives the affected closure of one graph to completion in waves
// of parallel-executable work. One scheduler serves one run.
type Scheduler struct {
	graph   *graph.Graph
	exec    Executor
	opts    Options
	onEvent EventFunc
}

func New(g *graph.Graph, exec Executor, opts Options, onEvent EventFunc) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 10 * time.Second
	}
	if onEvent == nil {
		onEvent = func(string, string, map[string]any) {}
	}
	return &Scheduler{graph: g, exec: exec, opts: opts, onEvent: onEvent}
}

type result struct {
	node string
	err  error
}

// Run executes the affected nodes and drives every node of the graph to a
// terminal state. Nodes outside the affected closure are skipped up front.
// Execution failures are contained to the failing node's dependents and do
// not abort independent branches; they surface in node state, not as an
// error. The returned error reports invariant violations and cancellation
// only.
func (s *Scheduler) Run(ctx context.Context, affected []string) error {
	inClosure := make(map[string]bool, len(affected))
	for _, name := range affected {
		inClosure[name] = true
	}

	// Everything never in the closure is settled before any dispatch.
	for _, name := range s.graph.Names() {
		if inClosure[name] {
			continue
		}
		if err := s.graph.MarkSkipped(name, "not affected by change set"); err != nil {
			return err
		}
		s.onEvent("node.skipped", name, map[string]any{"reason": "not affected by change set"})
	}

	// In-degree restricted to the closure: dependencies outside it are
	// unaffected by the change and count as satisfied.
	indeg := make(map[string]int, len(affected))
	dependents := make(map[string][]string, len(affected))
	for _, name := range affected {
		n := s.graph.Node(name)
		if n == nil {
			return graph.UnknownNodeError{Name: name}
		}
		for _, dep := range n.DependsOn {
			if inClosure[dep] {
				indeg[name]++
				dependents[dep] = append(dependents[dep], name)
			}
		}
	}

	remaining := len(affected)
	inFlight := 0
	var queue []string
	results := make(chan result, len(affected))

	enqueue := func(batch []string) error {
		sort.Strings(batch)
		for _, name := range batch {
			if err := s.graph.MarkQueued(name); err != nil {
				return err
			}
			s.onEvent("node.queued", name, nil)
		}
		// The queued set stays sorted, so dispatch always takes the lexically
		// smallest eligible node no matter which upstream branch finished
		// first. Dispatch order is reproducible across runs.
		queue = append(queue, batch...)
		sort.Strings(queue)
		return nil
	}

	dispatch := func(runCtx context.Context) error {
		for len(queue) > 0 && inFlight < s.opts.Concurrency {
			name := queue[0]
			queue = queue[1:]
			if err := s.graph.MarkRunning(name); err != nil {
				return err
			}
			s.onEvent("node.running", name, nil)
			inFlight++
			node := s.graph.Node(name)
			go func(name string, metadata map[string]string) {
				results <- result{node: name, err: s.executeNode(runCtx, name, metadata)}
			}(name, node.Metadata)
		}
		return nil
	}

	// skip propagates a failure to every transitive dependent that has not
	// run yet. Dependents of a failed node can never have been queued, so
	// only pending nodes are touched; independent subgraphs keep going.
	var skip func(name, root string) error
	skip = func(name, root string) error {
		for _, dep := range dependents[name] {
			if s.graph.State(dep) != domain.StatePending {
				continue
			}
			reason := fmt.Sprintf("upstream failure: %s", root)
			if err := s.graph.MarkSkipped(dep, reason); err != nil {
				return err
			}
			s.onEvent("node.skipped", dep, map[string]any{"reason": reason})
			remaining--
			if err := skip(dep, root); err != nil {
				return err
			}
		}
		return nil
	}

	settle := func(res result) error {
		inFlight--
		remaining--
		if res.err == nil {
			if err := s.graph.MarkSucceeded(res.node); err != nil {
				return err
			}
			s.onEvent("node.succeeded", res.node, nil)
			var ready []string
			for _, dep := range dependents[res.node] {
				indeg[dep]--
				if indeg[dep] == 0 && s.graph.State(dep) == domain.StatePending {
					ready = append(ready, dep)
				}
			}
			return enqueue(ready)
		}
		if err := s.graph.MarkFailed(res.node, res.err.Error()); err != nil {
			return err
		}
		s.onEvent("node.failed", res.node, map[string]any{"reason": res.err.Error()})
		return skip(res.node, res.node)
	}

	runCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var roots []string
	for _, name := range affected {
		if indeg[name] == 0 {
			roots = append(roots, name)
		}
	}
	if err := enqueue(roots); err != nil {
		return err
	}
	if err := dispatch(runCtx); err != nil {
		return err
	}

	for remaining > 0 {
		select {
		case res := <-results:
			if err := settle(res); err != nil {
				return err
			}
			if err := dispatch(runCtx); err != nil {
				return err
			}
		case <-ctx.Done():
			return s.cancel(ctx.Err(), inFlight, results, cancelWorkers)
		}
	}
	return nil
}

// executeNode applies the per-node timeout and delegates to the executor.
func (s *Scheduler) executeNode(ctx context.Context, name string, metadata map[string]string) error {
	timeout := s.opts.NodeTimeout
	if raw, ok := metadata[MetaTimeout]; ok {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		}
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}
	err := s.exec.Execute(ctx, name, metadata)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("node timed out: %w", err)
	}
	return err
}

// cancel settles a cancelled run: undispatched nodes are skipped, running
// nodes are asked to stop and awaited for the grace period, and whatever is
// still running afterwards is force-failed.
func (s *Scheduler) cancel(cause error, inFlight int, results chan result, cancelWorkers context.CancelFunc) error {
	cancelWorkers()
	for _, name := range s.graph.Names() {
		state := s.graph.State(name)
		if state == domain.StatePending || state == domain.StateQueued {
			if err := s.graph.MarkSkipped(name, "run cancelled"); err != nil {
				return err
			}
			s.onEvent("node.skipped", name, map[string]any{"reason": "run cancelled"})
		}
	}
	grace := time.NewTimer(s.opts.GracePeriod)
	defer grace.Stop()
	for inFlight > 0 {
		select {
		case res := <-results:
			inFlight--
			if res.err == nil {
				if err := s.graph.MarkSucceeded(res.node); err != nil {
					return err
				}
				s.onEvent("node.succeeded", res.node, nil)
			} else {
				if err := s.graph.MarkFailed(res.node, res.err.Error()); err != nil {
					return err
				}
				s.onEvent("node.failed", res.node, map[string]any{"reason": res.err.Error()})
			}
		case <-grace.C:
			for _, name := range s.graph.Names() {
				if s.graph.State(name) == domain.StateRunning {
					if err := s.graph.MarkFailed(name, "run cancelled: grace period exceeded"); err != nil {
						return err
					}
					s.onEvent("node.failed", name, map[string]any{"reason": "run cancelled: grace period exceeded"})
				}
			}
			return fmt.Errorf("run cancelled, %d node(s) force-finalized: %w", inFlight, cause)
		}
	}
	return fmt.Errorf("run cancelled: %w", cause)
}

// PlanWaves computes the deterministic wave decomposition of the affected
// closure without executing anything: wave N holds every node whose
// dependencies are all satisfied by waves < N, each wave in lexical order.
func PlanWaves(g *graph.Graph, affected []string) [][]string {
	inClosure := make(map[string]bool, len(affected))
	for _, name := range affected {
		inClosure[name] = true
	}
	indeg := make(map[string]int, len(affected))
	dependents := make(map[string][]string, len(affected))
	for _, name := range affected {
		for _, dep := range g.Node(name).DependsOn {
			if inClosure[dep] {
				indeg[name]++
				dependents[dep] = append(dependents[dep], name)
			}
		}
	}
	var wave []string
	for _, name := range affected {
		if indeg[name] == 0 {
			wave = append(wave, name)
		}
	}
	var waves [][]string
	for len(wave) > 0 {
		sort.Strings(wave)
		waves = append(waves, wave)
		var next []string
		for _, name := range wave {
			for _, dep := range dependents[name] {
				indeg[dep]--
				if indeg[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		wave = next
	}
	return waves
}
