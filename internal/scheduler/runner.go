// Package scheduler implements the recursive scheduler (C6): it drives a
// run's node lifecycle, invoking the decision engine, split planner, and leaf
// executor, aggregating completed splits upward, and refreshing run state.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pi-rlm/engine/internal/decision"
	"github.com/pi-rlm/engine/internal/leafexec"
	"github.com/pi-rlm/engine/internal/lifecycle"
	"github.com/pi-rlm/engine/internal/runstore"
	"github.com/pi-rlm/engine/internal/scopewalk"
	"github.com/pi-rlm/engine/internal/splitplan"
	"github.com/pi-rlm/engine/internal/telemetry"
)

// Runner executes repo-scale recursive runs against a runstore.Store.
type Runner struct {
	store  *runstore.Store
	leaf   *leafexec.Executor
	tracer *telemetry.Tracer
}

// NewRunner creates a Runner backed by store, with its own step-level
// tracer retaining recent processNode/split/leaf/aggregate spans.
func NewRunner(store *runstore.Store) *Runner {
	return &Runner{store: store, leaf: leafexec.NewExecutor(store), tracer: telemetry.NewTracer()}
}

// Tracer returns the runner's step-level tracer, read by
// internal/toolsurface's status reporting.
func (r *Runner) Tracer() *telemetry.Tracer {
	return r.tracer
}

// StartConfig is the input to StartRun, defaults applied by the caller
// (internal/toolsurface) per spec.md §6.2.
type StartConfig struct {
	Objective       string
	Mode            runstore.Mode
	Domain          runstore.Domain
	RootScopePaths  []string
	MaxDepth        int
	MaxLLMCalls     int
	MaxTokens       int
	MaxWallClockMs  int64
	Scheduler       runstore.Scheduler
}

// StartRun creates a new run with a single queued root node covering the
// given scope paths.
func (r *Runner) StartRun(cfg StartConfig) (*runstore.Run, error) {
	now := time.Now()
	runID := runstore.NewRunID()
	rootID := runID + ":root"

	run := &runstore.Run{
		RunID:      runID,
		Objective:  cfg.Objective,
		Mode:       cfg.Mode,
		Status:     runstore.RunRunning,
		RootNodeID: rootID,
		Domain:     cfg.Domain,
		Config: runstore.Config{
			MaxDepth:       cfg.MaxDepth,
			MaxLLMCalls:    cfg.MaxLLMCalls,
			MaxTokens:      cfg.MaxTokens,
			MaxWallClockMs: cfg.MaxWallClockMs,
			Scheduler:      cfg.Scheduler,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SetRun(run); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}

	root := &runstore.Node{
		RunID:     runID,
		NodeID:    rootID,
		Depth:     0,
		ScopeType: runstore.ScopeRepo,
		ScopeRef:  runstore.ScopeRef{Paths: cfg.RootScopePaths},
		Objective: cfg.Objective,
		Domain:    cfg.Domain,
		Status:    runstore.NodeQueued,
		Decision:  runstore.DecisionUndecided,
		Budgets: runstore.Budgets{
			MaxDepth:          cfg.MaxDepth,
			RemainingLLMCalls: cfg.MaxLLMCalls,
			RemainingTokens:   cfg.MaxTokens,
			DeadlineEpochMs:   now.Add(time.Duration(cfg.MaxWallClockMs) * time.Millisecond).UnixMilli(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.AppendNode(root); err != nil {
		return nil, fmt.Errorf("append root node: %w", err)
	}
	if err := r.store.AppendQueueEvent(runstore.QueueEvent{RunID: runID, Event: runstore.EventNodeEnqueued, NodeID: rootID, Timestamp: now}); err != nil {
		return nil, fmt.Errorf("append queue event: %w", err)
	}

	return run, nil
}

// StepResult is returned by ExecuteStep/RunUntil.
type StepResult struct {
	Run             *runstore.Run
	ProcessedNodes  int
	AggregatedNodes int
	Notes           []string
}

// ExecuteStep processes at most maxNodes queued nodes (and a trailing
// aggregation pass) per spec.md §4.6.2.
func (r *Runner) ExecuteStep(runID string, maxNodes int) (*StepResult, error) {
	r.store.Lock()
	defer r.store.Unlock()

	run, err := r.store.GetRun(runID)
	if err != nil {
		return nil, err
	}

	result := &StepResult{}
	for i := 0; i < maxNodes; i++ {
		aggregated, err := r.aggregatePass(run)
		if err != nil {
			return nil, err
		}
		result.AggregatedNodes += aggregated

		nodes, order, err := r.store.LatestNodes(runID)
		if err != nil {
			return nil, err
		}
		next := selectNext(nodes, order, run.Config.Scheduler)
		if next == nil {
			break
		}

		if err := r.processNode(run, next); err != nil {
			return nil, err
		}
		result.ProcessedNodes++
	}

	aggregated, err := r.aggregatePass(run)
	if err != nil {
		return nil, err
	}
	result.AggregatedNodes += aggregated

	if err := r.refreshRunState(run); err != nil {
		return nil, err
	}
	result.Run = run
	return result, nil
}

// RunUntilResult is returned by RunUntil.
type RunUntilResult struct {
	Run *runstore.Run
}

// RunUntil calls ExecuteStep repeatedly, stopping when the run terminalizes
// or a step is idle (processes and aggregates nothing), per spec.md §4.6.4.
func (r *Runner) RunUntil(runID string, maxNodes int) (*RunUntilResult, error) {
	for processed := 0; processed < maxNodes; {
		step, err := r.ExecuteStep(runID, 1)
		if err != nil {
			return nil, err
		}
		if isTerminal(step.Run.Status) {
			return &RunUntilResult{Run: step.Run}, nil
		}
		if step.ProcessedNodes == 0 && step.AggregatedNodes == 0 {
			return &RunUntilResult{Run: step.Run}, nil
		}
		processed++
	}
	run, err := r.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	return &RunUntilResult{Run: run}, nil
}

func isTerminal(s runstore.RunStatus) bool {
	return s == runstore.RunCompleted || s == runstore.RunFailed || s == runstore.RunCancelled
}

func isNodeTerminal(s runstore.NodeStatus) bool {
	return s == runstore.NodeCompleted || s == runstore.NodeFailed || s == runstore.NodeCancelled
}

// selectNext applies the selection policy of spec.md §4.6.1.
func selectNext(nodes map[string]*runstore.Node, order []string, sched runstore.Scheduler) *runstore.Node {
	var candidates []*runstore.Node
	for _, id := range order {
		n := nodes[id]
		if n.Status == runstore.NodeQueued {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if sched == runstore.SchedulerDFS {
			if a.Depth != b.Depth {
				return a.Depth > b.Depth
			}
		} else {
			if a.Depth != b.Depth {
				return a.Depth < b.Depth
			}
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return candidates[0]
}

func (r *Runner) processNode(run *runstore.Run, node *runstore.Node) error {
	_, span := r.tracer.Start(context.Background(), telemetry.SpanProcessNode, map[string]any{
		telemetry.AttrRunID:  run.RunID,
		telemetry.AttrNodeID: node.NodeID,
		telemetry.AttrDepth:  node.Depth,
	})
	defer span.End()

	now := time.Now()

	node.Status = runstore.NodeRunning
	node.UpdatedAt = now
	if err := r.store.AppendNode(node); err != nil {
		return err
	}
	if err := r.store.AppendQueueEvent(runstore.QueueEvent{RunID: run.RunID, Event: runstore.EventNodeDequeued, NodeID: node.NodeID, Timestamp: now}); err != nil {
		return err
	}
	if err := r.store.AppendQueueEvent(runstore.QueueEvent{RunID: run.RunID, Event: runstore.EventNodeStarted, NodeID: node.NodeID, Timestamp: now}); err != nil {
		return err
	}

	scope, err := scopewalk.Walk(node.ScopeRef.Paths, maxScopeProbeFiles(run))
	if err != nil {
		return fmt.Errorf("probe scope: %w", err)
	}
	d, reason := decision.Decide(run, node, decision.ScopeMetrics{FileCount: scope.FileCount, TotalBytes: scope.TotalBytes}, now)
	node.Metrics = &runstore.Metrics{FileCount: scope.FileCount, TotalBytes: scope.TotalBytes}
	span.SetAttribute(telemetry.AttrDecision, string(d))

	if d == runstore.DecisionSplit {
		err := r.doSplit(run, node, string(reason))
		span.RecordError(err)
		return err
	}
	err = r.doLeaf(run, node, string(reason))
	span.RecordError(err)
	return err
}

// maxScopeProbeFiles bounds the decision engine's own scope probe; it must
// exceed the largest threshold (16 files, outside review mode) by a safe margin so the
// split/leaf comparison sees an accurate count rather than a capped one.
func maxScopeProbeFiles(run *runstore.Run) int {
	return 1000
}

func (r *Runner) doSplit(run *runstore.Run, node *runstore.Node, reason string) (err error) {
	_, span := r.tracer.Start(context.Background(), telemetry.SpanSplit, map[string]any{
		telemetry.AttrRunID:  run.RunID,
		telemetry.AttrNodeID: node.NodeID,
	})
	defer func() { span.RecordError(err); span.End() }()

	children, err := splitplan.Plan(node)
	if err != nil {
		return fmt.Errorf("plan split: %w", err)
	}
	if len(children) == 0 {
		return r.doLeaf(run, node, string(decision.ReasonSplitNoChildrenFallbackLeaf))
	}

	now := time.Now()
	for _, c := range children {
		if err := r.store.AppendNode(c); err != nil {
			return err
		}
		if err := r.store.AppendQueueEvent(runstore.QueueEvent{RunID: run.RunID, Event: runstore.EventNodeEnqueued, NodeID: c.NodeID, Timestamp: now}); err != nil {
			return err
		}
	}

	node.Decision = runstore.DecisionSplit
	node.DecisionReason = reason
	node.Status = runstore.NodeRunning // not terminal: becomes terminal on aggregation
	childIDs := make([]string, 0, len(children))
	for _, c := range children {
		childIDs = append(childIDs, c.NodeID)
	}
	node.ChildIDs = childIDs
	node.UpdatedAt = now
	if err := r.store.AppendNode(node); err != nil {
		return err
	}
	return r.store.AppendQueueEvent(runstore.QueueEvent{RunID: run.RunID, Event: runstore.EventNodeSplit, NodeID: node.NodeID, Timestamp: now})
}

func (r *Runner) doLeaf(run *runstore.Run, node *runstore.Node, reason string) (err error) {
	_, span := r.tracer.Start(context.Background(), telemetry.SpanLeaf, map[string]any{
		telemetry.AttrRunID:  run.RunID,
		telemetry.AttrNodeID: node.NodeID,
	})
	defer func() { span.RecordError(err); span.End() }()

	now := time.Now()
	node.Decision = runstore.DecisionLeaf
	node.DecisionReason = reason

	res, err := r.leaf.Execute(run, node)
	if err != nil {
		node.Status = runstore.NodeFailed
		node.UpdatedAt = now
		node.Errors = append(node.Errors, runstore.NodeError{
			Code:      "node_execution_error",
			Message:   err.Error(),
			Retryable: false,
		})
		if aerr := r.store.AppendNode(node); aerr != nil {
			return aerr
		}
		return r.store.AppendQueueEvent(runstore.QueueEvent{RunID: run.RunID, Event: runstore.EventNodeFailed, NodeID: node.NodeID, Timestamp: now})
	}

	if err := r.store.AppendResult(res); err != nil {
		return err
	}
	conf := 0.8
	if reason == string(decision.ReasonSplitNoChildrenFallbackLeaf) {
		conf = 0.75
	}
	node.Status = runstore.NodeCompleted
	node.Confidence = &conf
	node.UpdatedAt = now
	if err := r.store.AppendNode(node); err != nil {
		return err
	}
	return r.store.AppendQueueEvent(runstore.QueueEvent{RunID: run.RunID, Event: runstore.EventNodeCompleted, NodeID: node.NodeID, Timestamp: now})
}

// aggregatePass scans for split parents whose children are all terminal and
// whose result is absent, aggregating each, per spec.md §4.6.2 step 1 and
// §4.6.6.
func (r *Runner) aggregatePass(run *runstore.Run) (int, error) {
	nodes, order, err := r.store.LatestNodes(run.RunID)
	if err != nil {
		return 0, err
	}
	results, err := r.store.LatestResults(run.RunID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range order {
		n := nodes[id]
		if n.Decision != runstore.DecisionSplit || len(n.ChildIDs) == 0 {
			continue
		}
		if _, has := results[n.NodeID]; has {
			continue
		}
		if !allChildrenTerminal(nodes, n.ChildIDs) {
			continue
		}
		if err := r.aggregate(run, n, nodes, results); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func allChildrenTerminal(nodes map[string]*runstore.Node, childIDs []string) bool {
	for _, id := range childIDs {
		c, ok := nodes[id]
		if !ok || !isNodeTerminal(c.Status) {
			return false
		}
	}
	return true
}

func (r *Runner) aggregate(run *runstore.Run, parent *runstore.Node, nodes map[string]*runstore.Node, results map[string]*runstore.Result) (err error) {
	_, span := r.tracer.Start(context.Background(), telemetry.SpanAggregate, map[string]any{
		telemetry.AttrRunID:  run.RunID,
		telemetry.AttrNodeID: parent.NodeID,
	})
	defer func() { span.RecordError(err); span.End() }()

	now := time.Now()

	var summaries []string
	var findings []runstore.Finding
	var artifacts []runstore.Artifact
	failed, total := 0, len(parent.ChildIDs)
	var failedIDs []string

	for _, cid := range parent.ChildIDs {
		child, ok := nodes[cid]
		if !ok {
			return fmt.Errorf("%w: child %s of %s missing from node snapshot", lifecycle.ErrNodeNotFound, cid, parent.NodeID)
		}
		if child.Status == runstore.NodeFailed || child.Status == runstore.NodeCancelled {
			failed++
			failedIDs = append(failedIDs, cid)
		}
		if cr, ok := results[cid]; ok {
			summaries = append(summaries, cr.Summary)
			findings = append(findings, cr.Findings...)
			artifacts = append(artifacts, cr.Artifacts...)
		}
	}

	var status runstore.ResultStatus
	var confidence float64
	switch {
	case failed == total:
		status = runstore.ResultFailed
		confidence = 0.5
	case failed > 0:
		status = runstore.ResultPartial
		confidence = 0.6
	default:
		status = runstore.ResultCompleted
		confidence = 0.8
	}

	notes := ""
	if status == runstore.ResultPartial {
		notes = fmt.Sprintf("children failed/cancelled: %v", failedIDs)
	}

	res := &runstore.Result{
		RunID:            run.RunID,
		NodeID:           parent.NodeID,
		Status:           status,
		Summary:          fmt.Sprintf("Aggregated %d children for node %s: %s", total, parent.NodeID, summarizeJoin(summaries)),
		Findings:         findings,
		Artifacts:        artifacts,
		AggregationNotes: notes,
		CreatedAt:        now,
	}
	if err := r.store.AppendResult(res); err != nil {
		return err
	}

	if status == runstore.ResultFailed {
		parent.Status = runstore.NodeFailed
	} else {
		parent.Status = runstore.NodeCompleted
	}
	parent.Confidence = &confidence
	parent.UpdatedAt = now
	if err := r.store.AppendNode(parent); err != nil {
		return err
	}
	return r.store.AppendQueueEvent(runstore.QueueEvent{RunID: run.RunID, Event: runstore.EventNodeAggregated, NodeID: parent.NodeID, Timestamp: now})
}

func summarizeJoin(summaries []string) string {
	const maxJoined = 3
	if len(summaries) <= maxJoined {
		return joinSemicolon(summaries)
	}
	return joinSemicolon(summaries[:maxJoined]) + fmt.Sprintf("; (+%d more)", len(summaries)-maxJoined)
}

func joinSemicolon(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += "; "
		}
		out += s
	}
	return out
}

// refreshRunState recomputes progress/output_index and terminalizes the run
// per spec.md §4.6.3.
func (r *Runner) refreshRunState(run *runstore.Run) error {
	nodes, order, err := r.store.LatestNodes(run.RunID)
	if err != nil {
		return err
	}
	results, err := r.store.LatestResults(run.RunID)
	if err != nil {
		return err
	}

	progress := runstore.Progress{}
	for _, id := range order {
		n := nodes[id]
		progress.NodesTotal++
		if n.Depth > progress.MaxDepthSeen {
			progress.MaxDepthSeen = n.Depth
		}
		switch n.Status {
		case runstore.NodeCompleted:
			progress.NodesCompleted++
		case runstore.NodeFailed:
			progress.NodesFailed++
		case runstore.NodeQueued, runstore.NodeRunning:
			progress.ActiveNodes++
		}
	}
	run.Progress = progress

	seen := map[string]bool{}
	var index []runstore.OutputRef
	for _, res := range results {
		for _, a := range res.Artifacts {
			key := a.Kind + "\x00" + a.Path
			if seen[key] {
				continue
			}
			seen[key] = true
			index = append(index, runstore.OutputRef{Kind: a.Kind, Path: a.Path})
		}
	}
	for _, existing := range run.OutputIndex {
		key := existing.Kind + "\x00" + existing.Path
		if !seen[key] {
			seen[key] = true
			index = append(index, existing)
		}
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Path < index[j].Path })
	run.OutputIndex = index

	root, hasRoot := nodes[run.RootNodeID]
	now := time.Now()
	run.UpdatedAt = now
	if hasRoot && isNodeTerminal(root.Status) {
		if root.Status == runstore.NodeFailed {
			run.Status = runstore.RunFailed
		} else {
			run.Status = runstore.RunCompleted
		}
		run.CompletedAt = &now
	} else if hasRoot && !hasQueuedOrRunning(nodes, order) {
		run.Status = runstore.RunFailed
		run.CompletedAt = &now
	}

	return r.store.SetRun(run)
}

func hasQueuedOrRunning(nodes map[string]*runstore.Node, order []string) bool {
	for _, id := range order {
		s := nodes[id].Status
		if s == runstore.NodeQueued || s == runstore.NodeRunning {
			return true
		}
	}
	return false
}

// StatusResult is returned by GetStatus.
type StatusResult struct {
	Run            *runstore.Run
	Nodes          []*runstore.Node
	QueueEvents    []runstore.QueueEvent
	ResultCount    int
	DepthHistogram map[int]int
	ActivePreview  []ActiveBranch
	TraceSpanCount int64
	RecentSpans    []telemetry.SpanData
}

// ActiveBranch previews an in-flight node for repo_rlm_status.
type ActiveBranch struct {
	NodeID   string
	Depth    int
	Status   runstore.NodeStatus
	Decision runstore.Decision
}

// GetStatus returns the run plus derived views for the status tool.
func (r *Runner) GetStatus(runID string) (*StatusResult, error) {
	run, err := r.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	nodesMap, order, err := r.store.LatestNodes(runID)
	if err != nil {
		return nil, err
	}
	results, err := r.store.LatestResults(runID)
	if err != nil {
		return nil, err
	}
	events, err := r.store.QueueEvents(runID)
	if err != nil {
		return nil, err
	}

	hist := map[int]int{}
	var nodes []*runstore.Node
	var active []ActiveBranch
	for _, id := range order {
		n := nodesMap[id]
		nodes = append(nodes, n)
		hist[n.Depth]++
		if (n.Status == runstore.NodeQueued || n.Status == runstore.NodeRunning) && len(active) < 8 {
			active = append(active, ActiveBranch{NodeID: n.NodeID, Depth: n.Depth, Status: n.Status, Decision: n.Decision})
		}
	}

	return &StatusResult{
		Run:            run,
		Nodes:          nodes,
		QueueEvents:    events,
		ResultCount:    len(results),
		DepthHistogram: hist,
		ActivePreview:  active,
		TraceSpanCount: r.tracer.SpanCount(),
		RecentSpans:    r.tracer.RecentSpans(20),
	}, nil
}

// CancelRun legally cancels a non-terminal run, terminalizing every
// queued/running node to cancelled, per spec.md §4.6.5.
func (r *Runner) CancelRun(runID string) (*runstore.Run, error) {
	r.store.Lock()
	defer r.store.Unlock()

	run, err := r.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if isTerminal(run.Status) {
		return nil, fmt.Errorf("%w: cannot cancel run %s in status %s", lifecycle.ErrInvalidTransition, runID, run.Status)
	}

	now := time.Now()
	nodes, order, err := r.store.LatestNodes(runID)
	if err != nil {
		return nil, err
	}
	for _, id := range order {
		n := nodes[id]
		if n.Status == runstore.NodeQueued || n.Status == runstore.NodeRunning {
			n.Status = runstore.NodeCancelled
			n.UpdatedAt = now
			if err := r.store.AppendNode(n); err != nil {
				return nil, err
			}
		}
	}

	run.Status = runstore.RunCancelled
	run.UpdatedAt = now
	run.CompletedAt = &now
	if err := r.store.SetRun(run); err != nil {
		return nil, err
	}
	if err := r.store.AppendQueueEvent(runstore.QueueEvent{RunID: runID, Event: runstore.EventRunCancelled, Timestamp: now}); err != nil {
		return nil, err
	}
	return run, nil
}

// ResumeRun requeues every cancelled node without a result, per spec.md §4.6.5.
func (r *Runner) ResumeRun(runID string) (*runstore.Run, error) {
	r.store.Lock()
	defer r.store.Unlock()

	run, err := r.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status == runstore.RunCompleted {
		return nil, fmt.Errorf("%w: cannot resume run %s in status %s", lifecycle.ErrInvalidTransition, runID, run.Status)
	}
	if run.Status == runstore.RunRunning {
		return run, nil // no-op
	}

	now := time.Now()
	nodes, order, err := r.store.LatestNodes(runID)
	if err != nil {
		return nil, err
	}
	results, err := r.store.LatestResults(runID)
	if err != nil {
		return nil, err
	}
	for _, id := range order {
		n := nodes[id]
		if n.Status != runstore.NodeCancelled {
			continue
		}
		if _, hasResult := results[n.NodeID]; hasResult {
			continue
		}
		n.Status = runstore.NodeQueued
		n.UpdatedAt = now
		if err := r.store.AppendNode(n); err != nil {
			return nil, err
		}
		if err := r.store.AppendQueueEvent(runstore.QueueEvent{RunID: runID, Event: runstore.EventNodeRequeued, NodeID: n.NodeID, Timestamp: now}); err != nil {
			return nil, err
		}
	}

	run.Status = runstore.RunRunning
	run.UpdatedAt = now
	run.CompletedAt = nil
	if err := r.store.SetRun(run); err != nil {
		return nil, err
	}
	if err := r.store.AppendQueueEvent(runstore.QueueEvent{RunID: runID, Event: runstore.EventRunResumed, Timestamp: now}); err != nil {
		return nil, err
	}
	return run, nil
}
