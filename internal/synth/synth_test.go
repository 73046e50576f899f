package synth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-rlm/engine/internal/runstore"
)

func newReviewRun(t *testing.T) (*runstore.Store, *runstore.Run) {
	t.Helper()
	store := runstore.NewStore(t.TempDir())
	run := &runstore.Run{
		RunID:      "r1",
		Objective:  "security review of the repo",
		Mode:       runstore.ModeReview,
		Status:     runstore.RunCompleted,
		RootNodeID: "r1:root",
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, store.SetRun(run))

	leaf1 := &runstore.Node{RunID: "r1", NodeID: "r1:root:0:a", Decision: runstore.DecisionLeaf, Status: runstore.NodeCompleted, ScopeRef: runstore.ScopeRef{Paths: []string{"pkgA"}}}
	leaf2 := &runstore.Node{RunID: "r1", NodeID: "r1:root:1:b", Decision: runstore.DecisionLeaf, Status: runstore.NodeCompleted, ScopeRef: runstore.ScopeRef{Paths: []string{"pkgB"}}}
	require.NoError(t, store.AppendNode(leaf1))
	require.NoError(t, store.AppendNode(leaf2))

	finding1 := runstore.Finding{
		ID: "f1", Domain: runstore.DomainSecurity, Severity: runstore.SeverityHigh, Confidence: 0.8,
		Title: "Potential dynamic code execution", Description: "eval found",
		Evidence: []runstore.Evidence{{Path: "pkgA/risky.js", LineStart: 7, LineEnd: 7, Quote: "eval("}},
	}
	finding1Dup := runstore.Finding{
		ID: "f1dup", Domain: runstore.DomainSecurity, Severity: runstore.SeverityMedium, Confidence: 0.9,
		Title: "Potential dynamic code execution", Description: "eval found again",
		Evidence: []runstore.Evidence{{Path: "pkgA/risky.js", LineStart: 7, LineEnd: 7, Quote: "eval("}},
	}
	finding2 := runstore.Finding{
		ID: "f2", Domain: runstore.DomainQuality, Severity: runstore.SeverityLow, Confidence: 0.6,
		Title: "Unresolved TODO found", Description: "todo found",
		Evidence: []runstore.Evidence{{Path: "pkgB/b.go", LineStart: 3, LineEnd: 3, Quote: "TODO"}},
	}

	res1 := &runstore.Result{RunID: "r1", NodeID: "r1:root:0:a", Status: runstore.ResultCompleted, Summary: "pkgA summary", Findings: []runstore.Finding{finding1, finding1Dup}, CreatedAt: time.Now()}
	res2 := &runstore.Result{RunID: "r1", NodeID: "r1:root:1:b", Status: runstore.ResultCompleted, Summary: "pkgB summary", Findings: []runstore.Finding{finding2}, CreatedAt: time.Now()}
	require.NoError(t, store.AppendResult(res1))
	require.NoError(t, store.AppendResult(res2))

	return store, run
}

func TestSynthesizeReviewDedupesAndRanks(t *testing.T) {
	store, run := newReviewRun(t)
	engine := NewEngine(store)

	report, err := engine.SynthesizeRun(run.RunID, TargetAuto)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DedupedCount) // finding1/finding1Dup collapse to 1, plus finding2 => 2 total
	assert.True(t, report.RiskScore > 0)

	base, err := store.ArtifactsDir(run.RunID)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(base, "review", "findings-ranked.json"))
	require.NoError(t, err)

	var doc rankedFindings
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 3, doc.RawCount) // finding1 + finding1Dup + finding2, before dedupe
	assert.Equal(t, 2, doc.DedupedCount)
	require.Len(t, doc.Findings, 2)
	// higher severity (high) beats the medium duplicate, and sorts first.
	assert.Equal(t, runstore.SeverityHigh, doc.Findings[0].Severity)
	assert.Contains(t, doc.ObjectiveTags, "security")

	updated, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	var paths []string
	for _, o := range updated.OutputIndex {
		paths = append(paths, o.Path)
	}
	assert.Contains(t, paths, "review/findings-ranked.json")
	assert.Contains(t, paths, "review/sarif.json")
}

// TestSynthesizeReviewIsDeterministicAcrossTies covers spec.md's "applying
// synthesis twice with no new data yields byte-identical artifact bodies"
// property for the case that actually exercises it: findings that tie on
// every field sortFindings/sortClusters ranks by (same severity, same
// confidence), which is exactly what leafexec's fixed pattern table
// produces for eval, TODO, and any matches in practice. Go's map iteration order
// is randomized per range, so running this twice against freshly rebuilt
// dedupe/cluster maps is what would catch a lost tiebreak.
func TestSynthesizeReviewIsDeterministicAcrossTies(t *testing.T) {
	store := runstore.NewStore(t.TempDir())
	run := &runstore.Run{
		RunID: "r3", Objective: "quality review", Mode: runstore.ModeReview,
		Status: runstore.RunCompleted, RootNodeID: "r3:root",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.SetRun(run))

	leaf := &runstore.Node{RunID: "r3", NodeID: "r3:root:0:a", Decision: runstore.DecisionLeaf, Status: runstore.NodeCompleted, ScopeRef: runstore.ScopeRef{Paths: []string{"pkg"}}}
	require.NoError(t, store.AppendNode(leaf))

	// Same severity and confidence on every finding, so the only thing that
	// can break ties deterministically is the dedupe/cluster key itself.
	tied := []runstore.Finding{
		{ID: "t1", Domain: runstore.DomainQuality, Severity: runstore.SeverityMedium, Confidence: 0.6, Title: "Unresolved TODO found", Description: "todo a", Evidence: []runstore.Evidence{{Path: "pkg/a.go", LineStart: 1, LineEnd: 1, Quote: "TODO"}}},
		{ID: "t2", Domain: runstore.DomainQuality, Severity: runstore.SeverityMedium, Confidence: 0.6, Title: "Unresolved TODO found", Description: "todo b", Evidence: []runstore.Evidence{{Path: "pkg/b.go", LineStart: 1, LineEnd: 1, Quote: "TODO"}}},
		{ID: "t3", Domain: runstore.DomainQuality, Severity: runstore.SeverityMedium, Confidence: 0.6, Title: "Unresolved TODO found", Description: "todo c", Evidence: []runstore.Evidence{{Path: "pkg/c.go", LineStart: 1, LineEnd: 1, Quote: "TODO"}}},
		{ID: "t4", Domain: runstore.DomainQuality, Severity: runstore.SeverityMedium, Confidence: 0.6, Title: "Loosely typed any used", Description: "any a", Evidence: []runstore.Evidence{{Path: "pkg/d.go", LineStart: 1, LineEnd: 1, Quote: "any"}}},
	}
	res := &runstore.Result{RunID: "r3", NodeID: "r3:root:0:a", Status: runstore.ResultCompleted, Summary: "pkg summary", Findings: tied, CreatedAt: time.Now()}
	require.NoError(t, store.AppendResult(res))

	engine := NewEngine(store)
	base, err := store.ArtifactsDir(run.RunID)
	require.NoError(t, err)

	_, err = engine.SynthesizeRun(run.RunID, TargetAuto)
	require.NoError(t, err)
	rankedFirst, err := os.ReadFile(filepath.Join(base, "review", "findings-ranked.json"))
	require.NoError(t, err)
	clustersFirst, err := os.ReadFile(filepath.Join(base, "review", "findings-clusters.json"))
	require.NoError(t, err)

	_, err = engine.SynthesizeRun(run.RunID, TargetAuto)
	require.NoError(t, err)
	rankedSecond, err := os.ReadFile(filepath.Join(base, "review", "findings-ranked.json"))
	require.NoError(t, err)
	clustersSecond, err := os.ReadFile(filepath.Join(base, "review", "findings-clusters.json"))
	require.NoError(t, err)

	assert.Equal(t, string(rankedFirst), string(rankedSecond))
	assert.Equal(t, string(clustersFirst), string(clustersSecond))
}

func TestSynthesizeWikiGroupsByModule(t *testing.T) {
	store := runstore.NewStore(t.TempDir())
	run := &runstore.Run{RunID: "r2", Objective: "document the repo", Mode: runstore.ModeWiki, Status: runstore.RunCompleted, RootNodeID: "r2:root"}
	require.NoError(t, store.SetRun(run))

	root := &runstore.Node{RunID: "r2", NodeID: "r2:root", Decision: runstore.DecisionSplit, ScopeRef: runstore.ScopeRef{Paths: []string{"/repo"}}}
	child := &runstore.Node{RunID: "r2", NodeID: "r2:root:0:pkgA", Decision: runstore.DecisionLeaf, ScopeRef: runstore.ScopeRef{Paths: []string{"/repo/pkgA"}}}
	require.NoError(t, store.AppendNode(root))
	require.NoError(t, store.AppendNode(child))

	res := &runstore.Result{RunID: "r2", NodeID: "r2:root:0:pkgA", Status: runstore.ResultCompleted, Summary: "pkgA docs", Artifacts: []runstore.Artifact{{Kind: "wiki_node", Path: "wiki/nodes/r2_root_0_pkgA.md"}}}
	require.NoError(t, store.AppendResult(res))

	engine := NewEngine(store)
	report, err := engine.SynthesizeRun(run.RunID, TargetAuto)
	require.NoError(t, err)
	require.Len(t, report.WikiArtifacts, 3)

	base, err := store.ArtifactsDir(run.RunID)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(base, "wiki", "module-index.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "pkgA")
}
