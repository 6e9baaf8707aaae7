package server

// Request payloads

type CreateRunRequest struct {
	// ChangeSet holds changed file paths or service names. Empty triggers a
	// full run over every service.
	ChangeSet   []string `json:"change_set,omitempty"`
	Concurrency int      `json:"concurrency,omitempty" minimum:"0"`
	// DryRun computes the plan without executing anything.
	DryRun bool `json:"dry_run,omitempty"`
}

// Response payloads

type GraphNode struct {
	Name      string            `json:"name"`
	DependsOn []string          `json:"depends_on,omitempty"`
	Path      string            `json:"path"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type GraphResponse struct {
	PipelineID string      `json:"pipeline_id"`
	Nodes      []GraphNode `json:"nodes"`
}
