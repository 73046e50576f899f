package leafexec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-rlm/engine/internal/runstore"
)

func TestExecuteGenericModeNoFindings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))

	store := runstore.NewStore(t.TempDir())
	exec := NewExecutor(store)
	run := &runstore.Run{RunID: "r", Mode: runstore.ModeGeneric}
	node := &runstore.Node{RunID: "r", NodeID: "r:root", ScopeType: runstore.ScopeDir, ScopeRef: runstore.ScopeRef{Paths: []string{dir}}}

	res, err := exec.Execute(run, node)
	require.NoError(t, err)
	assert.Equal(t, runstore.ResultCompleted, res.Status)
	assert.Empty(t, res.Findings)
	assert.Contains(t, res.Summary, "Leaf analysis for node r:root")
}

func TestExecuteReviewModeFindsEvalAndTODO(t *testing.T) {
	dir := t.TempDir()
	content := "line1\nline2\nline3\nline4\nline5\nline6\nconst x = eval(input)\nline8\nline9\nline10\nline11\n// TODO fix this\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "risky.js"), []byte(content), 0o644))

	store := runstore.NewStore(t.TempDir())
	exec := NewExecutor(store)
	run := &runstore.Run{RunID: "r", Mode: runstore.ModeReview}
	node := &runstore.Node{RunID: "r", NodeID: "r:root", ScopeRef: runstore.ScopeRef{Paths: []string{dir}}}

	res, err := exec.Execute(run, node)
	require.NoError(t, err)
	require.Len(t, res.Findings, 2)

	byTitle := map[string]runstore.Finding{}
	for _, f := range res.Findings {
		byTitle[f.Title] = f
	}
	eval := byTitle["Potential dynamic code execution"]
	require.NotEmpty(t, eval.Evidence)
	assert.Equal(t, 7, eval.Evidence[0].LineStart)
	assert.Equal(t, 7, eval.Evidence[0].LineEnd)
	assert.Equal(t, runstore.SeverityHigh, eval.Severity)

	todo := byTitle["Unresolved TODO found"]
	require.NotEmpty(t, todo.Evidence)
	assert.Equal(t, 12, todo.Evidence[0].LineStart)
	assert.Equal(t, runstore.SeverityLow, todo.Severity)
}

func TestExecuteWikiModeWritesNodeArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))

	base := t.TempDir()
	store := runstore.NewStore(base)
	exec := NewExecutor(store)
	run := &runstore.Run{RunID: "r", Mode: runstore.ModeWiki}
	node := &runstore.Node{RunID: "r", NodeID: "r:root:0:pkg", ScopeRef: runstore.ScopeRef{Paths: []string{dir}}}

	res, err := exec.Execute(run, node)
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "wiki_node", res.Artifacts[0].Kind)

	fullPath := filepath.Join(base, "r", "artifacts", res.Artifacts[0].Path)
	_, statErr := os.Stat(fullPath)
	assert.NoError(t, statErr)
}
