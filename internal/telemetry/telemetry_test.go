package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanLifecycleRecordsAttributesAndDuration(t *testing.T) {
	tracer := NewTracer()

	_, span := tracer.Start(context.Background(), SpanProcessNode, map[string]any{
		AttrRunID:  "r1",
		AttrNodeID: "r1:root",
	})
	span.SetAttribute(AttrDecision, "leaf")
	span.End()

	spans := tracer.RecentSpans(0)
	require.Len(t, spans, 1)
	got := spans[0]
	assert.Equal(t, SpanProcessNode, got.Name)
	assert.Equal(t, "r1", got.Attributes[AttrRunID])
	assert.Equal(t, "leaf", got.Attributes[AttrDecision])
	assert.Equal(t, SpanStatusUnset, got.Status)
	assert.GreaterOrEqual(t, got.Duration.Nanoseconds(), int64(0))
}

func TestRecordErrorSetsErrorStatus(t *testing.T) {
	tracer := NewTracer()

	_, span := tracer.Start(context.Background(), SpanLeaf, nil)
	span.RecordError(errors.New("boom"))
	span.End()

	spans := tracer.RecentSpans(1)
	require.Len(t, spans, 1)
	assert.Equal(t, SpanStatusError, spans[0].Status)
	assert.Equal(t, "boom", spans[0].StatusMsg)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestRecordErrorNilIsNoop(t *testing.T) {
	tracer := NewTracer()

	_, span := tracer.Start(context.Background(), SpanAggregate, nil)
	span.RecordError(nil)
	span.End()

	spans := tracer.RecentSpans(1)
	require.Len(t, spans, 1)
	assert.Equal(t, SpanStatusUnset, spans[0].Status)
}

func TestSpanCallbackFiresOnEnd(t *testing.T) {
	var seen []SpanData
	tracer := NewTracer(WithSpanCallback(func(d SpanData) {
		seen = append(seen, d)
	}))

	_, span := tracer.Start(context.Background(), SpanExecuteStep, nil)
	span.End()

	require.Len(t, seen, 1)
	assert.Equal(t, SpanExecuteStep, seen[0].Name)
}

func TestMaxSpansTrimsOldestHalf(t *testing.T) {
	tracer := NewTracer(WithMaxSpans(4))

	for i := 0; i < 6; i++ {
		_, span := tracer.Start(context.Background(), SpanProcessNode, nil)
		span.End()
	}

	assert.LessOrEqual(t, len(tracer.RecentSpans(0)), 4)
	assert.Equal(t, int64(6), tracer.SpanCount())
}

func TestSpanFromContextRoundTrips(t *testing.T) {
	tracer := NewTracer()
	ctx, span := tracer.Start(context.Background(), SpanSplit, nil)

	assert.Same(t, span, SpanFromContext(ctx))
	assert.Nil(t, SpanFromContext(context.Background()))
	span.End()
}

func TestNodeCountsIncAndSnapshot(t *testing.T) {
	var counts NodeCounts
	counts.Inc("split")
	counts.Inc("leaf")
	counts.Inc("failed")

	snap := counts.Snapshot()
	assert.Equal(t, int64(3), snap.Processed)
	assert.Equal(t, int64(1), snap.Split)
	assert.Equal(t, int64(1), snap.Leaf)
	assert.Equal(t, int64(1), snap.Failed)
}
