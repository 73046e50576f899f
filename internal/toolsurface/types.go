package toolsurface

import "github.com/pi-rlm/engine/internal/runstore"

// StartRunInput is the repo_rlm_start request per spec.md §6.2.
type StartRunInput struct {
	Objective      string   `json:"objective" jsonschema:"required,description=Natural-language description of what the run should accomplish"`
	Mode           string   `json:"mode,omitempty" jsonschema:"enum=generic,enum=wiki,enum=review,description=Analysis mode; defaults to generic"`
	Domain         string   `json:"domain,omitempty" jsonschema:"enum=security,enum=quality,enum=performance,enum=docs,enum=architecture"`
	RootPaths      []string `json:"root_paths,omitempty" jsonschema:"description=Filesystem paths the root node covers; defaults to the current working directory"`
	MaxDepth       int      `json:"max_depth,omitempty"`
	MaxLLMCalls    int      `json:"max_llm_calls,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	MaxWallClockMs int64    `json:"max_wall_clock_ms,omitempty"`
	Scheduler      string   `json:"scheduler,omitempty" jsonschema:"enum=bfs,enum=dfs,enum=hybrid"`
}

// RunOutput wraps a persisted Run for a tool response.
type RunOutput struct {
	Run *runstore.Run `json:"run"`
}

// StepInput is the repo_rlm_step / repo_rlm_run request.
type StepInput struct {
	RunID    string `json:"run_id" jsonschema:"required"`
	MaxNodes int    `json:"max_nodes,omitempty"`
}

// StepOutput is the repo_rlm_step / repo_rlm_run response.
type StepOutput struct {
	Run             *runstore.Run `json:"run"`
	ProcessedNodes  int           `json:"processed_nodes"`
	AggregatedNodes int           `json:"aggregated_nodes"`
	Notes           []string      `json:"notes,omitempty"`
}

// RunIDInput is shared by status/cancel/resume.
type RunIDInput struct {
	RunID string `json:"run_id" jsonschema:"required"`
}

// StatusOutput is the repo_rlm_status response per spec.md §6.2.
type StatusOutput struct {
	Run            *runstore.Run       `json:"run"`
	Nodes          []*runstore.Node    `json:"nodes"`
	QueueEvents    []runstore.QueueEvent `json:"queue_events"`
	ResultCount    int                 `json:"result_count"`
	DepthHistogram map[string]int      `json:"depth_histogram"`
	ActivePreview  []ActiveBranch      `json:"active_preview"`
}

// ActiveBranch mirrors scheduler.ActiveBranch for the wire response.
type ActiveBranch struct {
	NodeID   string `json:"node_id"`
	Depth    int    `json:"depth"`
	Status   string `json:"status"`
	Decision string `json:"decision"`
}

// SynthesizeInput is the repo_rlm_synthesize request.
type SynthesizeInput struct {
	RunID  string `json:"run_id" jsonschema:"required"`
	Target string `json:"target,omitempty" jsonschema:"enum=auto,enum=wiki,enum=review,enum=all"`
}

// SynthesizeOutput is the repo_rlm_synthesize response.
type SynthesizeOutput struct {
	Run             *runstore.Run        `json:"run"`
	WikiArtifacts   []runstore.Artifact  `json:"wiki_artifacts,omitempty"`
	ReviewArtifacts []runstore.Artifact  `json:"review_artifacts,omitempty"`
	RiskScore       float64              `json:"risk_score"`
	DedupedCount    int                  `json:"deduped_count"`
	ClusterCount    int                  `json:"cluster_count"`
}

// ExportInput is the repo_rlm_export request.
type ExportInput struct {
	RunID  string `json:"run_id" jsonschema:"required"`
	Format string `json:"format" jsonschema:"required,enum=markdown,enum=json"`
}

// ExportOutput is the repo_rlm_export response.
type ExportOutput struct {
	Path string `json:"path"`
}

// InteractiveRLMInput is the interactive rlm() tool request per spec.md §6.2.
type InteractiveRLMInput struct {
	Query         string `json:"query" jsonschema:"required"`
	Context       string `json:"context,omitempty" jsonschema:"description=Raw text, or file:<absolute path> to load from disk"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	MaxLLMCalls   int    `json:"max_llm_calls,omitempty"`
	MaxDepth      int    `json:"max_depth,omitempty"`
}

// InteractiveRLMOutput is the interactive rlm() tool response.
type InteractiveRLMOutput struct {
	Answer            string `json:"answer"`
	Iterations        int    `json:"iterations"`
	EarlyTerminated   bool   `json:"early_terminated,omitempty"`
	TerminationReason string `json:"termination_reason,omitempty"`
}
