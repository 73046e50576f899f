package subcall

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubCallStatus is the lifecycle state of one tracked sub-call.
type SubCallStatus string

const (
	StatusRunning   SubCallStatus = "running"
	StatusSucceeded SubCallStatus = "succeeded"
	StatusFailed    SubCallStatus = "failed"
)

const promptPreviewLen = 200

// SubCall is one tracked entry in the live call tree, mirroring spec.md
// §4.10's observer contract (onSubCallStart / onSubCallComplete).
type SubCall struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Prompt    string        `json:"prompt"`
	Model     string        `json:"model,omitempty"`
	Depth     int           `json:"depth"`
	Status    SubCallStatus `json:"status"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration,omitempty"`
	Result    string        `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Observer receives call-tree lifecycle notifications. Implementations must
// not block: the router calls these synchronously on the request goroutine.
type Observer interface {
	OnSubCallStart(call SubCall)
	OnSubCallComplete(call SubCall)
}

// CallTree tracks every in-flight and completed sub-call for one engine
// run, protected by a mutex since callbacks arrive from concurrent HTTP
// handlers.
type CallTree struct {
	mu        sync.Mutex
	calls     map[string]*SubCall
	observers []Observer
}

func newCallTree() *CallTree {
	return &CallTree{calls: make(map[string]*SubCall)}
}

// AddObserver registers an observer for future start/complete notifications.
func (t *CallTree) AddObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Snapshot returns a copy of every tracked call, most recently started last.
func (t *CallTree) Snapshot() []SubCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SubCall, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (t *CallTree) start(kind, prompt, model string, depth int) *SubCall {
	preview := prompt
	if len(preview) > promptPreviewLen {
		preview = preview[:promptPreviewLen]
	}

	call := &SubCall{
		ID:        uuid.NewString(),
		Type:      kind,
		Prompt:    preview,
		Model:     model,
		Depth:     depth,
		Status:    StatusRunning,
		StartTime: time.Now(),
	}

	t.mu.Lock()
	t.calls[call.ID] = call
	observers := append([]Observer(nil), t.observers...)
	t.mu.Unlock()

	for _, o := range observers {
		o.OnSubCallStart(*call)
	}
	return call
}

func (t *CallTree) succeed(call *SubCall, result string) {
	t.finish(call, StatusSucceeded, result, "")
}

func (t *CallTree) fail(call *SubCall, err error) {
	t.finish(call, StatusFailed, "", err.Error())
}

func (t *CallTree) finish(call *SubCall, status SubCallStatus, result, errMsg string) {
	t.mu.Lock()
	call.Status = status
	call.Duration = time.Since(call.StartTime)
	call.Result = result
	call.Error = errMsg
	snapshot := *call
	observers := append([]Observer(nil), t.observers...)
	t.mu.Unlock()

	for _, o := range observers {
		o.OnSubCallComplete(snapshot)
	}
}
