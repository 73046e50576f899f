package synth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportRunJSONIncludesDepthHistogram(t *testing.T) {
	store, run := newReviewRun(t)
	engine := NewEngine(store)

	result, err := engine.ExportRun(run.RunID, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "export.json", result.Path)

	base, err := store.ArtifactsDir(run.RunID)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(base, "export.json"))
	require.NoError(t, err)

	var doc exportDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, run.RunID, doc.RunID)
	assert.NotEmpty(t, doc.DepthHistogram)
	assert.Equal(t, 2, doc.ResultCount)
	assert.Equal(t, 3, doc.FindingCount)

	updated, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	var found bool
	for _, o := range updated.OutputIndex {
		if o.Kind == "export_json" && o.Path == "export.json" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExportRunMarkdownWritesFile(t *testing.T) {
	store, run := newReviewRun(t)
	engine := NewEngine(store)

	result, err := engine.ExportRun(run.RunID, FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "export.md", result.Path)

	base, err := store.ArtifactsDir(run.RunID)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(base, "export.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Export: r1")
	assert.Contains(t, string(data), "Depth histogram")
}

func TestExportRunRejectsUnknownFormat(t *testing.T) {
	store, run := newReviewRun(t)
	engine := NewEngine(store)

	_, err := engine.ExportRun(run.RunID, Format("yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export format")
}
