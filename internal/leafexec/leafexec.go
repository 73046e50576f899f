// Package leafexec implements the leaf executor (C3): for a node decided as
// a leaf, collect scope metrics, run review-mode pattern checks, and emit a
// Result plus optional per-node wiki artifact.
package leafexec

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/pi-rlm/engine/internal/runstore"
	"github.com/pi-rlm/engine/internal/scopewalk"
)

const (
	leafSampleCap    = 200
	reviewFileCap    = 40
	reviewFindingCap = 25
	reviewMaxFileSize = 256 * 1024
)

type reviewPattern struct {
	pattern      string
	severity     runstore.Severity
	domain       runstore.Domain
	title        string
	description  string
	suggestedFix string
}

var reviewPatterns = []reviewPattern{
	{
		pattern:      "eval(",
		severity:     runstore.SeverityHigh,
		domain:       runstore.DomainSecurity,
		title:        "Potential dynamic code execution",
		description:  "Potential dynamic code execution",
		suggestedFix: "Avoid eval-like constructs or strictly validate inputs",
	},
	{
		pattern:      "TODO",
		severity:     runstore.SeverityLow,
		domain:       runstore.DomainQuality,
		title:        "Unresolved TODO found",
		description:  "Unresolved TODO found",
		suggestedFix: "Track TODO in issue and resolve or remove",
	},
	{
		pattern:      "any",
		severity:     runstore.SeverityMedium,
		domain:       runstore.DomainQuality,
		title:        "Type safety risk",
		description:  "Type safety risk",
		suggestedFix: "Replace with stricter types",
	},
}

func reviewPatternConfidence(p reviewPattern) float64 {
	switch p.severity {
	case runstore.SeverityHigh:
		return 0.8
	default:
		return 0.6
	}
}

// Executor runs leaf nodes.
type Executor struct {
	store *runstore.Store
}

// NewExecutor creates a leaf Executor writing artifacts through store.
func NewExecutor(store *runstore.Store) *Executor {
	return &Executor{store: store}
}

// Execute collects scope metrics for node, scans for review findings when
// run.Mode is review, writes a per-node wiki artifact when run.Mode is wiki,
// and returns the Result to persist.
func (e *Executor) Execute(run *runstore.Run, node *runstore.Node) (*runstore.Result, error) {
	start := time.Now()

	scope, err := scopewalk.Walk(node.ScopeRef.Paths, leafSampleCap)
	if err != nil {
		return nil, fmt.Errorf("walk scope: %w", err)
	}

	var findings []runstore.Finding
	if run.Mode == runstore.ModeReview {
		findings = scanReview(node, scope.SampledFiles)
	}

	var artifacts []runstore.Artifact
	if run.Mode == runstore.ModeWiki {
		path, werr := e.writeWikiNode(run, node, scope)
		if werr != nil {
			return nil, fmt.Errorf("write wiki node artifact: %w", werr)
		}
		artifacts = append(artifacts, runstore.Artifact{Kind: "wiki_node", Path: path})
	}

	summary := buildSummary(node, scope, findings, time.Since(start))

	return &runstore.Result{
		RunID:     node.RunID,
		NodeID:    node.NodeID,
		Status:    runstore.ResultCompleted,
		Summary:   summary,
		Findings:  findings,
		Artifacts: artifacts,
		CreatedAt: time.Now(),
	}, nil
}

func buildSummary(node *runstore.Node, scope *scopewalk.Result, findings []runstore.Finding, dur time.Duration) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Leaf analysis for node %s | scope=%s | files=%d | bytes=%d | top_extensions=%s | sample_files=%s",
		node.NodeID, node.ScopeType, scope.FileCount, scope.TotalBytes, topExtensions(scope.ExtHistogram), sampleFilesPreview(scope.SampledFiles))
	if len(findings) > 0 {
		fmt.Fprintf(&sb, " | findings=%d", len(findings))
	}
	fmt.Fprintf(&sb, " | duration_ms=%d", dur.Milliseconds())
	return sb.String()
}

func topExtensions(hist map[string]int) string {
	type kv struct {
		ext   string
		count int
	}
	var kvs []kv
	for k, v := range hist {
		kvs = append(kvs, kv{k, v})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].ext < kvs[j].ext
	})
	var parts []string
	for i, kv := range kvs {
		if i >= 5 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s:%d", kv.ext, kv.count))
	}
	return strings.Join(parts, ",")
}

func sampleFilesPreview(files []string) string {
	n := len(files)
	if n > 5 {
		n = 5
	}
	return strings.Join(files[:n], ",")
}

// scanReview scans up to reviewFileCap sampled files for the fixed pattern
// table, stopping once reviewFindingCap findings have been produced.
func scanReview(node *runstore.Node, files []string) []runstore.Finding {
	var findings []runstore.Finding
	scanned := 0
	for _, path := range files {
		if scanned >= reviewFileCap || len(findings) >= reviewFindingCap {
			break
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() > reviewMaxFileSize {
			continue
		}
		scanned++

		firstLine := scanFilePatterns(path)
		for _, rp := range reviewPatterns {
			line, ok := firstLine[rp.pattern]
			if !ok {
				continue
			}
			findings = append(findings, runstore.Finding{
				ID:           findingID(node.NodeID, path, rp.pattern, line),
				Domain:       rp.domain,
				Severity:     rp.severity,
				Confidence:   reviewPatternConfidence(rp),
				Title:        rp.title,
				Description:  rp.description,
				SuggestedFix: rp.suggestedFix,
				Evidence: []runstore.Evidence{{
					Path:      path,
					LineStart: line,
					LineEnd:   line,
					Quote:     rp.pattern,
				}},
			})
			if len(findings) >= reviewFindingCap {
				break
			}
		}
	}
	return findings
}

// scanFilePatterns returns, for each pattern found in path, the 1-based line
// number of its first occurrence. Matching is a literal substring match,
// not word-boundary-aware, so "any" also matches inside longer identifiers.
func scanFilePatterns(path string) map[string]int {
	result := make(map[string]int)
	f, err := os.Open(path)
	if err != nil {
		return result
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		for _, rp := range reviewPatterns {
			if _, found := result[rp.pattern]; found {
				continue
			}
			if strings.Contains(line, rp.pattern) {
				result[rp.pattern] = lineNo
			}
		}
	}
	return result
}

func findingID(nodeID, path, pattern string, line int) string {
	h := xxh3.HashString(fmt.Sprintf("%s|%s|%s|%d", nodeID, path, pattern, line))
	return fmt.Sprintf("finding_%016x", h)
}

func (e *Executor) writeWikiNode(run *runstore.Run, node *runstore.Node, scope *scopewalk.Result) (string, error) {
	dir, err := e.store.ArtifactsDir(run.RunID)
	if err != nil {
		return "", err
	}
	sanitized := sanitizeNodeID(node.NodeID)
	relPath := filepath.Join("wiki", "nodes", sanitized+".md")
	fullPath := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", node.NodeID)
	fmt.Fprintf(&sb, "- scope: %s\n", node.ScopeType)
	fmt.Fprintf(&sb, "- files: %d\n", scope.FileCount)
	fmt.Fprintf(&sb, "- bytes: %d\n\n", scope.TotalBytes)
	sb.WriteString("## Sample files\n\n")
	for _, f := range scope.SampledFiles {
		fmt.Fprintf(&sb, "- %s\n", f)
	}

	if err := os.WriteFile(fullPath, []byte(sb.String()), 0o644); err != nil {
		return "", err
	}
	return relPath, nil
}

var nodeIDSanitizer = strings.NewReplacer(":", "_", "/", "_", "\\", "_")

func sanitizeNodeID(id string) string {
	return nodeIDSanitizer.Replace(id)
}
