package interactive

import (
	"sync/atomic"
	"time"
)

// BudgetTracker is the shared counter across the root engine and every
// transitively spawned child engine, per spec.md §4.8 and §5's "shared
// resource policy": the root controller owns it, children hold a reference
// and mutate it with atomics only.
type BudgetTracker struct {
	maxLLMCalls    int64
	maxTokens      int64
	deadline       time.Time
	callsUsed      int64
	tokensUsed     int64
}

// NewBudgetTracker creates a tracker with the given hard limits. A zero
// maxLLMCalls or maxTokens disables that particular limit. A zero
// maxWallClock disables the deadline.
func NewBudgetTracker(maxLLMCalls, maxTokens int, maxWallClock time.Duration) *BudgetTracker {
	t := &BudgetTracker{
		maxLLMCalls: int64(maxLLMCalls),
		maxTokens:   int64(maxTokens),
	}
	if maxWallClock > 0 {
		t.deadline = time.Now().Add(maxWallClock)
	}
	return t
}

// ReserveCall atomically consumes one call against the LLM call budget,
// returning false if the budget is already exhausted.
func (t *BudgetTracker) ReserveCall() bool {
	if t.maxLLMCalls <= 0 {
		atomic.AddInt64(&t.callsUsed, 1)
		return true
	}
	for {
		used := atomic.LoadInt64(&t.callsUsed)
		if used >= t.maxLLMCalls {
			return false
		}
		if atomic.CompareAndSwapInt64(&t.callsUsed, used, used+1) {
			return true
		}
	}
}

// RecordTokens adds to the shared token counter.
func (t *BudgetTracker) RecordTokens(n int) {
	atomic.AddInt64(&t.tokensUsed, int64(n))
}

// TokensExhausted reports whether the configured token budget has been used up.
func (t *BudgetTracker) TokensExhausted() bool {
	if t.maxTokens <= 0 {
		return false
	}
	return atomic.LoadInt64(&t.tokensUsed) >= t.maxTokens
}

// DeadlineExceeded reports whether the wall-clock deadline has passed.
func (t *BudgetTracker) DeadlineExceeded() bool {
	if t.deadline.IsZero() {
		return false
	}
	return time.Now().After(t.deadline)
}

// Usage is a point-in-time snapshot of budget consumption.
type Usage struct {
	CallsUsed  int64
	TokensUsed int64
}

// Usage returns a snapshot of the shared counters.
func (t *BudgetTracker) Usage() Usage {
	return Usage{
		CallsUsed:  atomic.LoadInt64(&t.callsUsed),
		TokensUsed: atomic.LoadInt64(&t.tokensUsed),
	}
}
