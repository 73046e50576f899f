package synth

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pi-rlm/engine/internal/runstore"
)

// synthesizeWiki collects every per-node wiki artifact, dedupes by path,
// groups nodes by module, and emits the three navigational documents
// described in spec.md §4.7 "Wiki synthesis".
func (e *Engine) synthesizeWiki(run *runstore.Run, nodes map[string]*runstore.Node, order []string, results map[string]*runstore.Result) ([]runstore.Artifact, error) {
	dir, err := e.store.ArtifactsDir(run.RunID)
	if err != nil {
		return nil, err
	}

	type docEntry struct {
		nodeID  string
		path    string
		module  string
		summary string
	}

	seenPaths := map[string]bool{}
	var docs []docEntry
	moduleCounts := map[string]int{}
	var resultSummaries []string

	rootPath := ""
	if root, ok := nodes[run.RootNodeID]; ok && len(root.ScopeRef.Paths) > 0 {
		rootPath = root.ScopeRef.Paths[0]
	}

	for _, id := range order {
		node := nodes[id]
		res, ok := results[id]
		if !ok {
			continue
		}
		if res.Summary != "" && len(resultSummaries) < 30 {
			resultSummaries = append(resultSummaries, res.Summary)
		}
		for _, a := range res.Artifacts {
			if a.Kind != "wiki_node" || seenPaths[a.Path] {
				continue
			}
			seenPaths[a.Path] = true
			module := "root"
			if len(node.ScopeRef.Paths) > 0 {
				module = moduleOf(rootPath, node.ScopeRef.Paths[0])
			}
			moduleCounts[module]++
			docs = append(docs, docEntry{nodeID: id, path: a.Path, module: module, summary: res.Summary})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].path < docs[j].path })

	var index strings.Builder
	index.WriteString("# Wiki Index\n\n")
	fmt.Fprintf(&index, "Objective: %s\n\n", run.Objective)
	index.WriteString("See [module index](module-index.md) and [architecture summary](architecture-summary.md).\n\n")
	index.WriteString("## Node documents\n\n")
	for _, d := range docs {
		rel, _ := filepath.Rel("wiki", d.path)
		fmt.Fprintf(&index, "- [%s](%s)\n", d.nodeID, rel)
	}
	if err := writeArtifactFile(dir, "wiki/index.md", index.String()); err != nil {
		return nil, err
	}

	var moduleIdx strings.Builder
	moduleIdx.WriteString("# Module Index\n\n")
	moduleIdx.WriteString("| Module | Node documents |\n|---|---|\n")
	var modNames []string
	for m := range moduleCounts {
		modNames = append(modNames, m)
	}
	sort.Strings(modNames)
	for _, m := range modNames {
		fmt.Fprintf(&moduleIdx, "| %s | %d |\n", m, moduleCounts[m])
	}
	if err := writeArtifactFile(dir, "wiki/module-index.md", moduleIdx.String()); err != nil {
		return nil, err
	}

	var arch strings.Builder
	arch.WriteString("# Architecture Summary\n\n")
	fmt.Fprintf(&arch, "Objective: %s\n\n", run.Objective)
	tags := objectiveTags(run.Objective)
	fmt.Fprintf(&arch, "Focus tags: %s\n\n", strings.Join(tags, ", "))
	fmt.Fprintf(&arch, "Coverage: %d node documents across %d modules.\n\n", len(docs), len(modNames))
	arch.WriteString("## Result summaries\n\n")
	for _, s := range resultSummaries {
		fmt.Fprintf(&arch, "- %s\n", s)
	}
	if err := writeArtifactFile(dir, "wiki/architecture-summary.md", arch.String()); err != nil {
		return nil, err
	}

	return []runstore.Artifact{
		{Kind: "wiki_index", Path: "wiki/index.md"},
		{Kind: "wiki_module_index", Path: "wiki/module-index.md"},
		{Kind: "wiki_architecture_summary", Path: "wiki/architecture-summary.md"},
	}, nil
}

// moduleOf returns the first path segment of nodePath relative to rootPath,
// or the basename of nodePath itself when no meaningful relative path can be
// computed.
func moduleOf(rootPath, nodePath string) string {
	if rootPath != "" {
		if rel, err := filepath.Rel(rootPath, nodePath); err == nil {
			rel = filepath.ToSlash(rel)
			if seg := firstPathSegment(rel); seg != "" && seg != "." && seg != ".." {
				return seg
			}
		}
	}
	return firstPathSegment(filepath.ToSlash(nodePath))
}

func firstPathSegment(p string) string {
	for _, part := range strings.Split(p, "/") {
		if part != "" && part != "." {
			return part
		}
	}
	return "root"
}

func writeArtifactFile(artifactsDir, relPath, content string) error {
	full := filepath.Join(artifactsDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}
