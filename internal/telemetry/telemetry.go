// Package telemetry adapts the lineage's tracer/span machinery to the
// repo-scale recursive runner's own step-level tracing: one span per
// executeStep node processed, distinct from the interactive controller's
// progress event channel.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SpanStatus is the terminal outcome of a span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

func (s SpanStatus) String() string {
	switch s {
	case SpanStatusOK:
		return "ok"
	case SpanStatusError:
		return "error"
	default:
		return "unset"
	}
}

// Span names for the recursive runner's node lifecycle.
const (
	SpanExecuteStep = "runner.execute_step"
	SpanProcessNode = "runner.process_node"
	SpanSplit       = "runner.split"
	SpanLeaf        = "runner.leaf"
	SpanAggregate   = "runner.aggregate"
)

// Attribute keys.
const (
	AttrRunID     = "run.id"
	AttrNodeID    = "node.id"
	AttrDepth     = "node.depth"
	AttrDecision  = "node.decision"
	AttrErrorType = "error.type"
	AttrErrorMsg  = "error.message"
)

// SpanID identifies a span within a tracer's lifetime.
type SpanID uint64

// SpanEvent is a timestamped annotation within a span.
type SpanEvent struct {
	Name       string
	Timestamp  time.Time
	Attributes map[string]any
}

// Span represents one node-processing operation.
type Span struct {
	id         SpanID
	name       string
	startTime  time.Time
	endTime    time.Time
	status     SpanStatus
	statusMsg  string
	attributes map[string]any
	events     []SpanEvent
	ended      bool
	mu         sync.Mutex
	tracer     *Tracer
}

// SetAttribute sets an attribute on the span. A no-op once the span ended.
func (s *Span) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.attributes == nil {
		s.attributes = make(map[string]any)
	}
	s.attributes[key] = value
}

// AddEvent adds a timestamped event to the span.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events = append(s.events, SpanEvent{Name: name, Timestamp: time.Now(), Attributes: attrs})
}

// SetStatus sets the span's terminal status.
func (s *Span) SetStatus(status SpanStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.status = status
	s.statusMsg = message
}

// RecordError marks the span as failed and attaches an exception event.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.SetStatus(SpanStatusError, err.Error())
	s.AddEvent("exception", map[string]any{AttrErrorMsg: err.Error()})
}

// End finalizes the span and hands it to the owning tracer.
func (s *Span) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.endTime = time.Now()
	s.mu.Unlock()

	if s.tracer != nil {
		s.tracer.recordSpan(s)
	}
}

// Duration returns the span's elapsed time so far, or its final duration
// once ended.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		return time.Since(s.startTime)
	}
	return s.endTime.Sub(s.startTime)
}

// SpanData is an immutable snapshot of a completed span.
type SpanData struct {
	ID         SpanID
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Status     SpanStatus
	StatusMsg  string
	Attributes map[string]any
	Events     []SpanEvent
}

// ToData snapshots the span into immutable SpanData.
func (s *Span) ToData() SpanData {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs := make(map[string]any, len(s.attributes))
	for k, v := range s.attributes {
		attrs[k] = v
	}
	events := make([]SpanEvent, len(s.events))
	copy(events, s.events)

	return SpanData{
		ID:         s.id,
		Name:       s.name,
		StartTime:  s.startTime,
		EndTime:    s.endTime,
		Duration:   s.endTime.Sub(s.startTime),
		Status:     s.status,
		StatusMsg:  s.statusMsg,
		Attributes: attrs,
		Events:     events,
	}
}

// Tracer records a bounded history of node-processing spans for one runner.
type Tracer struct {
	spans     []SpanData
	spanCount uint64
	maxSpans  int
	onSpanEnd func(SpanData)
	mu        sync.Mutex
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithMaxSpans bounds how many completed spans are retained in memory.
func WithMaxSpans(max int) TracerOption {
	return func(t *Tracer) { t.maxSpans = max }
}

// WithSpanCallback registers a callback invoked synchronously as each span
// ends, e.g. to forward it to an obslog.RunLogger.
func WithSpanCallback(fn func(SpanData)) TracerOption {
	return func(t *Tracer) { t.onSpanEnd = fn }
}

// NewTracer creates a Tracer retaining up to 500 spans by default.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{maxSpans: 500}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type spanContextKey struct{}

// Start opens a span named name, attaching attrs, and returns a context
// carrying it so nested calls can be correlated via SpanFromContext.
func (t *Tracer) Start(ctx context.Context, name string, attrs map[string]any) (context.Context, *Span) {
	id := SpanID(atomic.AddUint64(&t.spanCount, 1))
	span := &Span{id: id, name: name, startTime: time.Now(), attributes: attrs, tracer: t}
	return context.WithValue(ctx, spanContextKey{}, span), span
}

// SpanFromContext returns the span carried by ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanContextKey{}).(*Span)
	return span
}

func (t *Tracer) recordSpan(s *Span) {
	data := s.ToData()

	if t.onSpanEnd != nil {
		t.onSpanEnd(data)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = append(t.spans, data)
	if len(t.spans) > t.maxSpans {
		t.spans = t.spans[len(t.spans)-t.maxSpans/2:]
	}
}

// RecentSpans returns up to n of the most recently completed spans, oldest
// first. n <= 0 returns all retained spans.
func (t *Tracer) RecentSpans(n int) []SpanData {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > len(t.spans) {
		n = len(t.spans)
	}
	result := make([]SpanData, n)
	copy(result, t.spans[len(t.spans)-n:])
	return result
}

// SpanCount returns the total number of spans ever started.
func (t *Tracer) SpanCount() int64 {
	return int64(atomic.LoadUint64(&t.spanCount))
}

// NodeCounts tallies terminal node outcomes across a run's lifetime. The
// scheduler and internal/toolsurface do not use it.
type NodeCounts struct {
	Processed int64
	Split     int64
	Leaf      int64
	Failed    int64
}

// Inc atomically increments the counter named by kind and always bumps
// Processed.
func (c *NodeCounts) Inc(kind string) {
	switch kind {
	case "split":
		atomic.AddInt64(&c.Split, 1)
	case "leaf":
		atomic.AddInt64(&c.Leaf, 1)
	case "failed":
		atomic.AddInt64(&c.Failed, 1)
	}
	atomic.AddInt64(&c.Processed, 1)
}

// Snapshot returns a point-in-time copy safe to read without racing Inc.
func (c *NodeCounts) Snapshot() NodeCounts {
	return NodeCounts{
		Processed: atomic.LoadInt64(&c.Processed),
		Split:     atomic.LoadInt64(&c.Split),
		Leaf:      atomic.LoadInt64(&c.Leaf),
		Failed:    atomic.LoadInt64(&c.Failed),
	}
}
