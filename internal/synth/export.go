package synth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pi-rlm/engine/internal/runstore"
)

// Format selects the export.* file SynthesizeRun's sibling ExportRun writes.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ExportResult is what repo_rlm_export returns: the path it wrote, relative
// to the run's artifacts directory.
type ExportResult struct {
	Path string
}

// exportDoc is the export.json shape: a run snapshot plus the depth
// histogram and result/finding counts original_source's exportRun tests
// assert on.
type exportDoc struct {
	RunID          string            `json:"run_id"`
	Objective      string            `json:"objective"`
	Mode           runstore.Mode     `json:"mode"`
	Status         runstore.RunStatus `json:"status"`
	Progress       runstore.Progress `json:"progress"`
	DepthHistogram map[string]int    `json:"depth_histogram"`
	ResultCount    int               `json:"result_count"`
	FindingCount   int               `json:"finding_count"`
	OutputIndex    []runstore.OutputRef `json:"output_index"`
}

// ExportRun writes artifacts/export.md or artifacts/export.json summarizing
// the run's current latest-snapshot state, per spec.md §6.2
// "repo_rlm_export(run_id, format)".
func (e *Engine) ExportRun(runID string, format Format) (*ExportResult, error) {
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

	hist := map[string]int{}
	findingCount := 0
	for _, id := range order {
		n := nodes[id]
		hist[strconv.Itoa(n.Depth)]++
		if r, ok := results[id]; ok {
			findingCount += len(r.Findings)
		}
	}

	dir, err := e.store.ArtifactsDir(runID)
	if err != nil {
		return nil, err
	}

	var relPath, content string
	switch format {
	case FormatJSON:
		doc := exportDoc{
			RunID:          run.RunID,
			Objective:      run.Objective,
			Mode:           run.Mode,
			Status:         run.Status,
			Progress:       run.Progress,
			DepthHistogram: hist,
			ResultCount:    len(results),
			FindingCount:   findingCount,
			OutputIndex:    run.OutputIndex,
		}
		buf, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal export: %w", err)
		}
		relPath, content = "export.json", string(buf)
	case FormatMarkdown:
		relPath, content = "export.md", renderExportMarkdown(run, hist, len(results), findingCount)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}

	if err := writeArtifactFile(dir, relPath, content); err != nil {
		return nil, fmt.Errorf("write %s: %w", relPath, err)
	}

	run.OutputIndex = mergeOutputRef(run.OutputIndex, runstore.OutputRef{Kind: "export_" + string(format), Path: relPath})
	if err := e.store.SetRun(run); err != nil {
		return nil, fmt.Errorf("persist run: %w", err)
	}

	return &ExportResult{Path: relPath}, nil
}

func renderExportMarkdown(run *runstore.Run, hist map[string]int, resultCount, findingCount int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Export: %s\n\n", run.RunID)
	fmt.Fprintf(&sb, "Objective: %s\n\n", run.Objective)
	fmt.Fprintf(&sb, "Mode: %s · Status: %s\n\n", run.Mode, run.Status)
	fmt.Fprintf(&sb, "Nodes total: %d · completed: %d · failed: %d\n\n",
		run.Progress.NodesTotal, run.Progress.NodesCompleted, run.Progress.NodesFailed)
	fmt.Fprintf(&sb, "Results: %d · Findings: %d\n\n", resultCount, findingCount)

	sb.WriteString("## Depth histogram\n\n| Depth | Nodes |\n|---|---|\n")
	depths := make([]string, 0, len(hist))
	for d := range hist {
		depths = append(depths, d)
	}
	sort.Strings(depths)
	for _, d := range depths {
		fmt.Fprintf(&sb, "| %s | %d |\n", d, hist[d])
	}

	if len(run.OutputIndex) > 0 {
		sb.WriteString("\n## Output index\n\n")
		for _, ref := range run.OutputIndex {
			fmt.Fprintf(&sb, "- %s: %s\n", ref.Kind, ref.Path)
		}
	}
	return sb.String()
}

func mergeOutputRef(existing []runstore.OutputRef, fresh runstore.OutputRef) []runstore.OutputRef {
	for i, ref := range existing {
		if ref.Kind == fresh.Kind && ref.Path == fresh.Path {
			return existing
		}
		if ref.Kind == fresh.Kind {
			existing[i] = fresh
			return existing
		}
	}
	return append(existing, fresh)
}
