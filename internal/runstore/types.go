// Package runstore implements the event-sourced, file-based store for a
// repo-scale recursive run: run.json plus the append-only nodes/results/queue
// JSONL logs under <base>/<run_id>/.
package runstore

import "time"

// Mode selects the analysis domain a run is performing.
type Mode string

const (
	ModeGeneric Mode = "generic"
	ModeWiki    Mode = "wiki"
	ModeReview  Mode = "review"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Scheduler selects the node-selection policy used by the recursive scheduler.
type Scheduler string

const (
	SchedulerBFS    Scheduler = "bfs"
	SchedulerDFS    Scheduler = "dfs"
	SchedulerHybrid Scheduler = "hybrid"
)

// NodeStatus is the lifecycle state of a Node.
type NodeStatus string

const (
	NodeQueued    NodeStatus = "queued"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeCancelled NodeStatus = "cancelled"
)

// Decision is the leaf/split outcome the decision engine assigns to a node.
type Decision string

const (
	DecisionUndecided Decision = "undecided"
	DecisionLeaf      Decision = "leaf"
	DecisionSplit     Decision = "split"
)

// ScopeType describes what kind of filesystem unit a node's scope covers.
type ScopeType string

const (
	ScopeRepo      ScopeType = "repo"
	ScopeDir       ScopeType = "dir"
	ScopeModule    ScopeType = "module"
	ScopeFileGroup ScopeType = "file_group"
	ScopeFileSlice ScopeType = "file_slice"
)

// Domain is the analysis focus of a node or finding, if any.
type Domain string

const (
	DomainSecurity     Domain = "security"
	DomainQuality      Domain = "quality"
	DomainPerformance  Domain = "performance"
	DomainDocs         Domain = "docs"
	DomainArchitecture Domain = "architecture"
)

// ResultStatus is the outcome of executing or aggregating a node.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultPartial   ResultStatus = "partial"
	ResultFailed    ResultStatus = "failed"
)

// Severity ranks a Finding, highest first: critical=5 ... info=1.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// SeverityRank returns the ordinal used for sorting and risk scoring.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	default:
		return 1
	}
}

// Config holds the per-run resource and scheduling limits.
type Config struct {
	MaxDepth        int       `json:"max_depth"`
	MaxLLMCalls     int       `json:"max_llm_calls"`
	MaxTokens       int       `json:"max_tokens"`
	MaxWallClockMs  int64     `json:"max_wall_clock_ms"`
	Scheduler       Scheduler `json:"scheduler"`
}

// Progress is a pure function of the latest node snapshots for a run.
type Progress struct {
	NodesTotal     int `json:"nodes_total"`
	NodesCompleted int `json:"nodes_completed"`
	NodesFailed    int `json:"nodes_failed"`
	ActiveNodes    int `json:"active_nodes"`
	MaxDepthSeen   int `json:"max_depth_seen"`
}

// OutputRef is one entry of a Run's output_index.
type OutputRef struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// Checkpoint records how far the store has replayed the queue log.
type Checkpoint struct {
	LastEventOffset int       `json:"last_event_offset"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Run is the top-level record for one repo-scale recursive run.
type Run struct {
	RunID       string      `json:"run_id"`
	Objective   string      `json:"objective"`
	Mode        Mode        `json:"mode"`
	Status      RunStatus   `json:"status"`
	RootNodeID  string      `json:"root_node_id"`
	Domain      Domain      `json:"domain,omitempty"`
	Config      Config      `json:"config"`
	Progress    Progress    `json:"progress"`
	OutputIndex []OutputRef `json:"output_index"`
	Checkpoint  Checkpoint  `json:"checkpoint"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Budgets tracks the resources a node is allowed to spend, inherited and
// reduced as the tree is split.
type Budgets struct {
	MaxDepth          int   `json:"max_depth"`
	RemainingLLMCalls int   `json:"remaining_llm_calls"`
	RemainingTokens   int   `json:"remaining_tokens"`
	DeadlineEpochMs   int64 `json:"deadline_epoch_ms"`
}

// ScopeRef names the filesystem paths a node is responsible for.
type ScopeRef struct {
	Paths []string `json:"paths"`
}

// NodeError is a structured, non-fatal failure recorded against a node.
type NodeError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Metrics are the scope statistics collected while deciding/executing a node.
type Metrics struct {
	FileCount     int   `json:"file_count"`
	TotalBytes    int64 `json:"total_bytes"`
	DurationMs    int64 `json:"duration_ms"`
	FindingsCount int   `json:"findings_count,omitempty"`
}

// Node is one scoped unit of work in a run's decomposition tree.
type Node struct {
	RunID          string     `json:"run_id"`
	NodeID         string     `json:"node_id"`
	ParentID       string     `json:"parent_id,omitempty"`
	Depth          int        `json:"depth"`
	ScopeType      ScopeType  `json:"scope_type"`
	ScopeRef       ScopeRef   `json:"scope_ref"`
	Objective      string     `json:"objective"`
	Domain         Domain     `json:"domain,omitempty"`
	Status         NodeStatus `json:"status"`
	Decision       Decision   `json:"decision"`
	DecisionReason string     `json:"decision_reason,omitempty"`
	ChildIDs       []string   `json:"child_ids,omitempty"`
	Confidence     *float64   `json:"confidence,omitempty"`
	Budgets        Budgets    `json:"budgets"`
	Metrics        *Metrics   `json:"metrics,omitempty"`
	Errors         []NodeError `json:"errors,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Artifact is one emitted file, path relative to the run root.
type Artifact struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// Evidence is a single pointer proving a Finding.
type Evidence struct {
	Path      string `json:"path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Quote     string `json:"quote,omitempty"`
}

// Finding is a single reviewable observation produced in review mode.
type Finding struct {
	ID            string     `json:"id"`
	Domain        Domain     `json:"domain"`
	Severity      Severity   `json:"severity"`
	Confidence    float64    `json:"confidence"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	SuggestedFix  string     `json:"suggested_fix,omitempty"`
	Evidence      []Evidence `json:"evidence"`
}

// Result is the outcome recorded for a node, either from leaf execution or
// from aggregating a split node's children.
type Result struct {
	RunID             string       `json:"run_id"`
	NodeID            string       `json:"node_id"`
	Status            ResultStatus `json:"status"`
	Summary           string       `json:"summary"`
	Findings          []Finding    `json:"findings,omitempty"`
	Artifacts         []Artifact   `json:"artifacts,omitempty"`
	AggregationNotes  string       `json:"aggregation_notes,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// QueueEventType enumerates the queue log's event kinds.
type QueueEventType string

const (
	EventNodeEnqueued QueueEventType = "node_enqueued"
	EventNodeDequeued QueueEventType = "node_dequeued"
	EventNodeStarted  QueueEventType = "node_started"
	EventNodeSplit    QueueEventType = "node_split"
	EventNodeAggregated QueueEventType = "node_aggregated"
	EventNodeCompleted QueueEventType = "node_completed"
	EventNodeFailed    QueueEventType = "node_failed"
	EventNodeRequeued  QueueEventType = "node_requeued"
	EventRunCancelled  QueueEventType = "run_cancelled"
	EventRunResumed    QueueEventType = "run_resumed"
)

// QueueEvent is one append-only entry in queue.jsonl.
type QueueEvent struct {
	RunID     string         `json:"run_id"`
	Event     QueueEventType `json:"event"`
	NodeID    string         `json:"node_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   string         `json:"details,omitempty"`
}
