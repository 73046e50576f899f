// Package decision implements the deterministic leaf/split decision engine
// (C5): a pure function of a node's depth, budgets, wall-clock deadline, and
// collected scope metrics.
package decision

import (
	"time"

	"github.com/pi-rlm/engine/internal/runstore"
)

// Reason is one of the fixed, ordered set of decision reasons. Reasons
// short-circuit in the order they are declared below.
type Reason string

const (
	ReasonDeadlineExceeded          Reason = "deadline_exceeded"
	ReasonMaxDepthReached           Reason = "max_depth_reached"
	ReasonLLMBudgetExhausted        Reason = "llm_budget_exhausted"
	ReasonTokenBudgetExhausted      Reason = "token_budget_exhausted"
	ReasonScopeTooLarge             Reason = "scope_too_large"
	ReasonScopeSmallEnough          Reason = "scope_small_enough"
	ReasonSplitNoChildrenFallbackLeaf Reason = "split_no_children_fallback_leaf"
)

// thresholds for scope_too_large, per spec.md §4.3.
const (
	reviewMaxFiles  = 12
	reviewMaxBytes  = 2_000_000
	defaultMaxFiles = 16
	defaultMaxBytes = 3_000_000
)

// ScopeMetrics is the subset of scopewalk.Result the decision engine needs.
type ScopeMetrics struct {
	FileCount  int
	TotalBytes int64
}

// Decide returns the leaf/split decision and its reason for node, given the
// scope metrics collected for it. now is injected so the function stays
// pure and testable; callers pass time.Now().
func Decide(run *runstore.Run, node *runstore.Node, metrics ScopeMetrics, now time.Time) (runstore.Decision, Reason) {
	if node.Budgets.DeadlineEpochMs > 0 && now.UnixMilli() > node.Budgets.DeadlineEpochMs {
		return runstore.DecisionLeaf, ReasonDeadlineExceeded
	}
	if node.Depth >= run.Config.MaxDepth {
		return runstore.DecisionLeaf, ReasonMaxDepthReached
	}
	if node.Budgets.RemainingLLMCalls <= 0 {
		return runstore.DecisionLeaf, ReasonLLMBudgetExhausted
	}
	if node.Budgets.RemainingTokens <= 0 {
		return runstore.DecisionLeaf, ReasonTokenBudgetExhausted
	}

	maxFiles := defaultMaxFiles
	maxBytes := int64(defaultMaxBytes)
	if run.Mode == runstore.ModeReview {
		maxFiles = reviewMaxFiles
		maxBytes = int64(reviewMaxBytes)
	}
	if metrics.FileCount > maxFiles || metrics.TotalBytes > maxBytes {
		return runstore.DecisionSplit, ReasonScopeTooLarge
	}
	return runstore.DecisionLeaf, ReasonScopeSmallEnough
}
