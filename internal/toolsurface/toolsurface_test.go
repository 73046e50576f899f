package toolsurface

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-rlm/engine/internal/config"
	"github.com/pi-rlm/engine/internal/runstore"
	"github.com/pi-rlm/engine/internal/scheduler"
	"github.com/pi-rlm/engine/internal/synth"
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	store := runstore.NewStore(t.TempDir())
	cfg := config.Defaults(t.TempDir())
	return Deps{
		Config: &cfg,
		Store:  store,
		Runner: scheduler.NewRunner(store),
		Synth:  synth.NewEngine(store),
	}
}

func TestStartRunAppliesConfigDefaults(t *testing.T) {
	deps := newTestDeps(t)
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.go"), "package a\n")

	_, out, err := deps.startRun(context.Background(), nil, StartRunInput{
		Objective: "audit this directory",
		RootPaths: []string{dir},
	})
	require.NoError(t, err)
	assert.Equal(t, runstore.Mode(deps.Config.Run.Mode), out.Run.Mode)
	assert.Equal(t, runstore.RunRunning, out.Run.Status)
}

func TestStartRunDefaultsRootPathsToCwdWhenEmpty(t *testing.T) {
	deps := newTestDeps(t)

	_, out, err := deps.startRun(context.Background(), nil, StartRunInput{
		Objective: "audit with no explicit root paths",
	})
	require.NoError(t, err)

	_, status, err := deps.status(context.Background(), nil, RunIDInput{RunID: out.Run.RunID})
	require.NoError(t, err)
	require.Len(t, status.Nodes, 1)
	assert.Equal(t, []string{"."}, status.Nodes[0].ScopeRef.Paths)
}

func TestStepAndStatusRoundTrip(t *testing.T) {
	deps := newTestDeps(t)
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.go"), "package a\n")

	_, started, err := deps.startRun(context.Background(), nil, StartRunInput{
		Objective: "audit",
		RootPaths: []string{dir},
	})
	require.NoError(t, err)

	_, stepped, err := deps.step(context.Background(), nil, StepInput{RunID: started.Run.RunID})
	require.NoError(t, err)
	assert.Equal(t, 1, stepped.ProcessedNodes)

	_, status, err := deps.status(context.Background(), nil, RunIDInput{RunID: started.Run.RunID})
	require.NoError(t, err)
	require.Len(t, status.Nodes, 1)
	assert.Equal(t, 1, len(status.DepthHistogram))
	if _, ok := status.DepthHistogram["0"]; !ok {
		t.Fatalf("expected depth_histogram to key depth 0 as a string, got %+v", status.DepthHistogram)
	}
}

func TestRunThenExportWritesMarkdown(t *testing.T) {
	deps := newTestDeps(t)
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.go"), "package a\n")

	_, started, err := deps.startRun(context.Background(), nil, StartRunInput{
		Objective: "audit",
		RootPaths: []string{dir},
	})
	require.NoError(t, err)

	_, _, err = deps.run(context.Background(), nil, StepInput{RunID: started.Run.RunID, MaxNodes: 10})
	require.NoError(t, err)

	_, exported, err := deps.export(context.Background(), nil, ExportInput{RunID: started.Run.RunID, Format: "markdown"})
	require.NoError(t, err)
	assert.Equal(t, "export.md", exported.Path)
}

func TestCancelThenResumeRoundTrip(t *testing.T) {
	deps := newTestDeps(t)
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.go"), "package a\n")

	_, started, err := deps.startRun(context.Background(), nil, StartRunInput{
		Objective: "audit",
		RootPaths: []string{dir},
	})
	require.NoError(t, err)

	_, cancelled, err := deps.cancel(context.Background(), nil, RunIDInput{RunID: started.Run.RunID})
	require.NoError(t, err)
	assert.Equal(t, runstore.RunCancelled, cancelled.Run.Status)

	_, resumed, err := deps.resume(context.Background(), nil, RunIDInput{RunID: started.Run.RunID})
	require.NoError(t, err)
	assert.Equal(t, runstore.RunRunning, resumed.Run.Status)
}

func TestResolveContextPassesThroughRawText(t *testing.T) {
	text, err := resolveContext("plain text context")
	require.NoError(t, err)
	assert.Equal(t, "plain text context", text)
}

func TestResolveContextReadsAbsoluteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	mustWriteFile(t, path, "hello from disk")

	text, err := resolveContext("file:" + path)
	require.NoError(t, err)
	assert.Equal(t, "hello from disk", text)
}

func TestResolveContextRejectsRelativeFile(t *testing.T) {
	_, err := resolveContext("file:relative/path.txt")
	assert.Error(t, err)
}

func TestOrDefaultHelpers(t *testing.T) {
	assert.Equal(t, "fallback", orDefault("", "fallback"))
	assert.Equal(t, "set", orDefault("set", "fallback"))
	assert.Equal(t, 5, orDefaultInt(0, 5))
	assert.Equal(t, 3, orDefaultInt(3, 5))
	assert.Equal(t, int64(5), orDefaultInt64(0, 5))
	assert.Equal(t, int64(3), orDefaultInt64(3, 5))
}
