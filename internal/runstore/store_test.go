package runstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir), dir
}

func TestRunRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	run := &Run{
		RunID:      "run_1",
		Objective:  "test",
		Mode:       ModeGeneric,
		Status:     RunRunning,
		RootNodeID: "run_1:root",
		Config:     Config{MaxDepth: 4, MaxLLMCalls: 100, MaxTokens: 1000, Scheduler: SchedulerBFS},
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, s.SetRun(run))

	got, err := s.GetRun("run_1")
	require.NoError(t, err)
	assert.Equal(t, run.Objective, got.Objective)
	assert.Equal(t, run.Status, got.Status)
}

func TestLatestNodesWinsOnLatestLine(t *testing.T) {
	s, _ := newTestStore(t)
	n1 := &Node{RunID: "r", NodeID: "r:root", Status: NodeQueued, Decision: DecisionUndecided}
	n2 := &Node{RunID: "r", NodeID: "r:root", Status: NodeRunning, Decision: DecisionUndecided}
	n3 := &Node{RunID: "r", NodeID: "r:root", Status: NodeCompleted, Decision: DecisionLeaf}
	require.NoError(t, s.AppendNode(n1))
	require.NoError(t, s.AppendNode(n2))
	require.NoError(t, s.AppendNode(n3))

	latest, order, err := s.LatestNodes("r")
	require.NoError(t, err)
	require.Len(t, order, 1)
	assert.Equal(t, NodeCompleted, latest["r:root"].Status)
	assert.Equal(t, DecisionLeaf, latest["r:root"].Decision)
}

func TestReadJSONLToleratesMalformedTrailingLine(t *testing.T) {
	s, base := newTestStore(t)
	path := filepath.Join(base, "r", "nodes.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	good := `{"run_id":"r","node_id":"r:root","status":"queued","decision":"undecided"}` + "\n"
	bad := `{"run_id":"r","node_id":"r:roo` // truncated, no closing brace/newline
	require.NoError(t, os.WriteFile(path, []byte(good+bad), 0o644))

	latest, order, err := s.LatestNodes("r")
	require.NoError(t, err)
	require.Len(t, order, 1)
	assert.Equal(t, NodeQueued, latest["r:root"].Status)
}

func TestQueueEventsAppendOrderPreserved(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.AppendQueueEvent(QueueEvent{RunID: "r", Event: EventNodeEnqueued, NodeID: "r:root", Timestamp: time.Now()}))
	require.NoError(t, s.AppendQueueEvent(QueueEvent{RunID: "r", Event: EventNodeDequeued, NodeID: "r:root", Timestamp: time.Now()}))
	require.NoError(t, s.AppendQueueEvent(QueueEvent{RunID: "r", Event: EventNodeStarted, NodeID: "r:root", Timestamp: time.Now()}))

	events, err := s.QueueEvents("r")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventNodeEnqueued, events[0].Event)
	assert.Equal(t, EventNodeDequeued, events[1].Event)
	assert.Equal(t, EventNodeStarted, events[2].Event)
}

func TestAppendResultLatestWins(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.AppendResult(&Result{RunID: "r", NodeID: "r:root", Status: ResultPartial, Summary: "first"}))
	require.NoError(t, s.AppendResult(&Result{RunID: "r", NodeID: "r:root", Status: ResultCompleted, Summary: "final"}))

	latest, err := s.LatestResults("r")
	require.NoError(t, err)
	require.Contains(t, latest, "r:root")
	assert.Equal(t, "final", latest["r:root"].Summary)
	assert.Equal(t, ResultCompleted, latest["r:root"].Status)
}
