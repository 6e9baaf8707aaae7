package domain

// Node states. A node moves pending -> queued -> running -> succeeded/failed,
// or pending -> skipped when it is outside the affected closure or blocked by
// an upstream failure. Terminal states are never left.
const (
	StatePending   = "pending"
	StateQueued    = "queued"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateSkipped   = "skipped"
)

// Terminal reports whether a node state is final.
func Terminal(state string) bool {
	return state == StateSucceeded || state == StateFailed || state == StateSkipped
}

// Run states.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

type Run struct {
	ID          string   `json:"id"`
	PipelineID  string   `json:"pipeline_id"`
	State       string   `json:"state" enum:"running,succeeded,failed"`
	ChangeSet   []string `json:"change_set"`
	Concurrency int      `json:"concurrency"`
	StartedAt   string   `json:"started_at" format:"date-time"`
	FinishedAt  string   `json:"finished_at,omitempty" format:"date-time"`
}

// NodeResult is the terminal outcome of one node in a run.
type NodeResult struct {
	RunID      string   `json:"run_id"`
	Node       string   `json:"node"`
	State      string   `json:"state" enum:"succeeded,failed,skipped"`
	Attempts   int      `json:"attempts"`
	Reason     string   `json:"reason,omitempty"`
	BlockedBy  []string `json:"blocked_by,omitempty"`
	StartedAt  string   `json:"started_at,omitempty" format:"date-time"`
	FinishedAt string   `json:"finished_at,omitempty" format:"date-time"`
}

// RunSummary aggregates node outcomes into a single run-level result.
type RunSummary struct {
	RunID      string       `json:"run_id"`
	PipelineID string       `json:"pipeline_id"`
	State      string       `json:"state" enum:"succeeded,failed"`
	ChangeSet  []string     `json:"change_set"`
	StartedAt  string       `json:"started_at" format:"date-time"`
	FinishedAt string       `json:"finished_at" format:"date-time"`
	Nodes      []NodeResult `json:"nodes"`
	Failed     []string     `json:"failed,omitempty"`
	Skipped    []string     `json:"skipped,omitempty"`
}

// Plan is the deterministic wave decomposition of a change set, computed
// without executing anything.
type Plan struct {
	PipelineID string     `json:"pipeline_id"`
	ChangeSet  []string   `json:"change_set"`
	Affected   []string   `json:"affected"`
	Waves      [][]string `json:"waves"`
}

type Event struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	RunID   string         `json:"run_id,omitempty"`
	Node    string         `json:"node,omitempty"`
	Payload map[string]any `json:"payload"`
}
