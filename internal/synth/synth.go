// Package synth implements the synthesis engine (C7): wiki synthesis, which
// assembles per-node documentation artifacts into a navigable index, and
// review synthesis, which deterministically dedupes, clusters, scores, and
// exports findings in several downstream formats.
package synth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pi-rlm/engine/internal/runstore"
)

// Target selects which synthesis passes to run.
type Target string

const (
	TargetAuto   Target = "auto"
	TargetWiki   Target = "wiki"
	TargetReview Target = "review"
	TargetAll    Target = "all"
)

// focusKeywords is the fixed keyword table objective tags are derived from.
var focusKeywords = []string{"security", "performance", "quality", "docs", "architecture"}

// Engine runs synthesis passes against a run's latest node/result snapshots.
type Engine struct {
	store *runstore.Store
}

// NewEngine creates a synthesis Engine backed by store.
func NewEngine(store *runstore.Store) *Engine {
	return &Engine{store: store}
}

// Report summarizes what a SynthesizeRun call produced.
type Report struct {
	RunID           string
	WikiArtifacts   []runstore.Artifact
	ReviewArtifacts []runstore.Artifact
	RiskScore       float64
	DedupedCount    int
	ClusterCount    int
}

// SynthesizeRun runs the wiki and/or review passes selected by target, merges
// their artifacts into run.output_index, and persists the run.
func (e *Engine) SynthesizeRun(runID string, target Target) (*Report, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	nodes, order, err := e.store.LatestNodes(runID)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	results, err := e.store.LatestResults(runID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	runWiki, runReview := resolveTargets(target, run.Mode)

	report := &Report{RunID: runID}

	if runWiki {
		artifacts, err := e.synthesizeWiki(run, nodes, order, results)
		if err != nil {
			return nil, fmt.Errorf("wiki synthesis: %w", err)
		}
		report.WikiArtifacts = artifacts
	}
	if runReview {
		artifacts, risk, deduped, clusters, err := e.synthesizeReview(run, nodes, order, results)
		if err != nil {
			return nil, fmt.Errorf("review synthesis: %w", err)
		}
		report.ReviewArtifacts = artifacts
		report.RiskScore = risk
		report.DedupedCount = deduped
		report.ClusterCount = clusters
	}

	mergeOutputIndex(run, append(report.WikiArtifacts, report.ReviewArtifacts...))
	if err := e.store.SetRun(run); err != nil {
		return nil, fmt.Errorf("persist run: %w", err)
	}
	return report, nil
}

// resolveTargets maps the auto target onto the run's mode, per spec.md §4.7
// "Synthesis targets".
func resolveTargets(target Target, mode runstore.Mode) (wiki, review bool) {
	switch target {
	case TargetWiki:
		return true, false
	case TargetReview:
		return false, true
	case TargetAll:
		return true, true
	default: // auto
		switch mode {
		case runstore.ModeWiki:
			return true, false
		case runstore.ModeReview:
			return false, true
		default:
			return false, false
		}
	}
}

// mergeOutputIndex merges fresh artifacts into run.OutputIndex, deduped on
// (kind, path), keeping the list sorted lexicographically by path.
func mergeOutputIndex(run *runstore.Run, fresh []runstore.Artifact) {
	seen := make(map[string]bool, len(run.OutputIndex)+len(fresh))
	var merged []runstore.OutputRef
	for _, existing := range run.OutputIndex {
		key := existing.Kind + "\x00" + existing.Path
		if !seen[key] {
			seen[key] = true
			merged = append(merged, existing)
		}
	}
	for _, a := range fresh {
		key := a.Kind + "\x00" + a.Path
		if !seen[key] {
			seen[key] = true
			merged = append(merged, runstore.OutputRef{Kind: a.Kind, Path: a.Path})
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Path < merged[j].Path })
	run.OutputIndex = merged
}

// objectiveTags returns the subset of focusKeywords that appear (as a
// case-insensitive substring match) in objective.
func objectiveTags(objective string) []string {
	lower := strings.ToLower(objective)
	var tags []string
	for _, kw := range focusKeywords {
		if strings.Contains(lower, kw) {
			tags = append(tags, kw)
		}
	}
	return tags
}
