package synth

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pi-rlm/engine/internal/runstore"
)

// rankedFinding is the on-disk shape of one entry in findings-ranked.json.
type rankedFinding struct {
	runstore.Finding
	DedupeKey string `json:"dedupe_key"`
}

// rankedFindings is the findings-ranked.json document.
type rankedFindings struct {
	RunID          string          `json:"run_id"`
	Objective      string          `json:"objective"`
	ObjectiveTags  []string        `json:"objective_tags"`
	RawCount       int             `json:"raw_count"`
	DedupedCount   int             `json:"deduped_count"`
	ClusterCount   int             `json:"cluster_count"`
	RiskScore      float64         `json:"risk_score"`
	SeverityCounts map[string]int  `json:"severity_counts"`
	Findings       []rankedFinding `json:"findings"`
}

// cluster is a group of deduped findings sharing domain, evidence path
// prefix, and title prefix.
type cluster struct {
	ID            string              `json:"id"`
	Title         string              `json:"title"`
	Domain        runstore.Domain     `json:"domain"`
	Severity      runstore.Severity   `json:"severity"`
	Confidence    float64             `json:"confidence"`
	Count         int                 `json:"count"`
	AffectedPaths []string            `json:"affected_paths"`
}

type clustersDoc struct {
	RunID    string    `json:"run_id"`
	Clusters []cluster `json:"clusters"`
}

type hotspot struct {
	ClusterID     string   `json:"cluster_id"`
	Title         string   `json:"title"`
	Severity      string   `json:"severity"`
	Count         int      `json:"count"`
	AffectedPaths []string `json:"affected_paths"`
}

type summaryDoc struct {
	RunID     string    `json:"run_id"`
	RiskScore float64   `json:"risk_score"`
	Hotspots  []hotspot `json:"hotspots"`
}

type codeQualityLocation struct {
	Path  string         `json:"path"`
	Lines codeQualityLine `json:"lines"`
}

type codeQualityLine struct {
	Begin int `json:"begin"`
}

type codeQualityIssue struct {
	Description string              `json:"description"`
	CheckName   string              `json:"check_name"`
	Fingerprint string              `json:"fingerprint"`
	Severity    string              `json:"severity"`
	Location    codeQualityLocation `json:"location"`
}

type sarifDocument struct {
	Schema  string      `json:"$schema"`
	Version string      `json:"version"`
	Runs    []sarifRun  `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name  string      `json:"name"`
	Rules []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string            `json:"id"`
	ShortDescription sarifText         `json:"shortDescription"`
}

type sarifText struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifText       `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`
}

// synthesizeReview runs the deterministic extract/dedupe/cluster/score
// pipeline of spec.md §4.7 "Review synthesis (deterministic)".
func (e *Engine) synthesizeReview(run *runstore.Run, nodes map[string]*runstore.Node, order []string, results map[string]*runstore.Result) ([]runstore.Artifact, float64, int, int, error) {
	dir, err := e.store.ArtifactsDir(run.RunID)
	if err != nil {
		return nil, 0, 0, 0, err
	}

	raw := extractFindings(nodes, order, results)
	deduped, dedupeKeys := dedupeFindings(raw)
	sortFindings(deduped)

	clusters := clusterFindings(deduped)
	sortClusters(clusters)

	risk := riskScore(deduped)
	severityCounts := severityCounts(deduped)
	tags := objectiveTags(run.Objective)

	rankedList := make([]rankedFinding, 0, len(deduped))
	for _, f := range deduped {
		rankedList = append(rankedList, rankedFinding{Finding: f, DedupeKey: dedupeKeys[f.ID]})
	}

	doc := rankedFindings{
		RunID:          run.RunID,
		Objective:      run.Objective,
		ObjectiveTags:  tags,
		RawCount:       len(raw),
		DedupedCount:   len(deduped),
		ClusterCount:   len(clusters),
		RiskScore:      risk,
		SeverityCounts: severityCounts,
		Findings:       rankedList,
	}
	if err := writeJSONArtifact(dir, "review/findings-ranked.json", doc); err != nil {
		return nil, 0, 0, 0, err
	}

	cdoc := clustersDoc{RunID: run.RunID, Clusters: clusters}
	if err := writeJSONArtifact(dir, "review/findings-clusters.json", cdoc); err != nil {
		return nil, 0, 0, 0, err
	}

	hotspots := make([]hotspot, 0, 10)
	for i, c := range clusters {
		if i >= 10 {
			break
		}
		hotspots = append(hotspots, hotspot{ClusterID: c.ID, Title: c.Title, Severity: string(c.Severity), Count: c.Count, AffectedPaths: c.AffectedPaths})
	}
	sdoc := summaryDoc{RunID: run.RunID, RiskScore: risk, Hotspots: hotspots}
	if err := writeJSONArtifact(dir, "review/summary.json", sdoc); err != nil {
		return nil, 0, 0, 0, err
	}

	report := buildReportMarkdown(run, severityCounts, risk, clusters, deduped)
	if err := writeArtifactFile(dir, "review/report.md", report); err != nil {
		return nil, 0, 0, 0, err
	}

	cq := make([]codeQualityIssue, 0, len(deduped))
	for _, f := range deduped {
		line := 0
		path := ""
		if len(f.Evidence) > 0 {
			line = f.Evidence[0].LineStart
			path = f.Evidence[0].Path
		}
		cq = append(cq, codeQualityIssue{
			Description: f.Description,
			CheckName:   "pi-rlm-" + string(f.Domain),
			Fingerprint: sha256Hex(dedupeKeys[f.ID]),
			Severity:    codeQualitySeverity(f.Severity),
			Location:    codeQualityLocation{Path: path, Lines: codeQualityLine{Begin: line}},
		})
	}
	if err := writeJSONArtifact(dir, "review/codequality.json", cq); err != nil {
		return nil, 0, 0, 0, err
	}

	sarifDoc := buildSARIF(deduped)
	if err := writeJSONArtifact(dir, "review/sarif.json", sarifDoc); err != nil {
		return nil, 0, 0, 0, err
	}

	return []runstore.Artifact{
		{Kind: "findings_ranked", Path: "review/findings-ranked.json"},
		{Kind: "findings_clusters", Path: "review/findings-clusters.json"},
		{Kind: "review_summary", Path: "review/summary.json"},
		{Kind: "review_report", Path: "review/report.md"},
		{Kind: "codequality", Path: "review/codequality.json"},
		{Kind: "sarif", Path: "review/sarif.json"},
	}, risk, len(deduped), len(clusters), nil
}

// extractFindings collects findings from leaf-decided nodes only: aggregated
// (split) results already contain the union of their children's findings, so
// including both would double-count every finding once per ancestor.
func extractFindings(nodes map[string]*runstore.Node, order []string, results map[string]*runstore.Result) []runstore.Finding {
	var out []runstore.Finding
	for _, id := range order {
		node := nodes[id]
		if node.Decision != runstore.DecisionLeaf {
			continue
		}
		res, ok := results[id]
		if !ok {
			continue
		}
		for _, f := range res.Findings {
			if len(f.Evidence) == 0 {
				continue
			}
			out = append(out, f)
		}
	}
	return out
}

func dedupeKey(f runstore.Finding) string {
	path, ls, le := "", 0, 0
	if len(f.Evidence) > 0 {
		path, ls, le = f.Evidence[0].Path, f.Evidence[0].LineStart, f.Evidence[0].LineEnd
	}
	return strings.Join([]string{string(f.Domain), f.Title, path, fmt.Sprint(ls), fmt.Sprint(le)}, "\x00")
}

// dedupeFindings collapses raw findings sharing a dedupe key, keeping higher
// severity (ties broken by higher confidence). It returns the deduped set
// plus a map from each surviving finding's ID to its dedupe key.
func dedupeFindings(raw []runstore.Finding) ([]runstore.Finding, map[string]string) {
	winners := make(map[string]runstore.Finding)
	keyOf := make(map[string]string)
	for _, f := range raw {
		k := dedupeKey(f)
		existing, ok := winners[k]
		if !ok {
			winners[k] = f
			continue
		}
		if runstore.SeverityRank(f.Severity) > runstore.SeverityRank(existing.Severity) {
			winners[k] = f
		} else if runstore.SeverityRank(f.Severity) == runstore.SeverityRank(existing.Severity) && f.Confidence > existing.Confidence {
			winners[k] = f
		}
	}
	keys := make([]string, 0, len(winners))
	for k := range winners {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	deduped := make([]runstore.Finding, 0, len(winners))
	for _, k := range keys {
		f := winners[k]
		deduped = append(deduped, f)
		keyOf[f.ID] = k
	}
	return deduped, keyOf
}

func sortFindings(findings []runstore.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := runstore.SeverityRank(findings[i].Severity), runstore.SeverityRank(findings[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if findings[i].Confidence != findings[j].Confidence {
			return findings[i].Confidence > findings[j].Confidence
		}
		return dedupeKey(findings[i]) < dedupeKey(findings[j])
	})
}

func clusterKey(f runstore.Finding) string {
	path := ""
	if len(f.Evidence) > 0 {
		path = f.Evidence[0].Path
	}
	return strings.Join([]string{string(f.Domain), firstPathSegment(filepath.ToSlash(path)), normalizedTitleWords(f.Title)}, "\x00")
}

func normalizedTitleWords(title string) string {
	lower := strings.ToLower(title)
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, "_")
}

func clusterFindings(deduped []runstore.Finding) []cluster {
	byKey := make(map[string]*cluster)
	pathSets := make(map[string]map[string]bool)
	for _, f := range deduped {
		ck := clusterKey(f)
		c, ok := byKey[ck]
		if !ok {
			id := "cluster_" + sha1Hex(ck)[:12]
			c = &cluster{ID: id, Title: f.Title, Domain: f.Domain, Severity: f.Severity, Confidence: f.Confidence}
			byKey[ck] = c
			pathSets[ck] = map[string]bool{}
		}
		c.Count++
		if runstore.SeverityRank(f.Severity) > runstore.SeverityRank(c.Severity) {
			c.Severity = f.Severity
			c.Title = f.Title
		}
		if f.Confidence > c.Confidence {
			c.Confidence = f.Confidence
		}
		if len(f.Evidence) > 0 {
			pathSets[ck][f.Evidence[0].Path] = true
		}
	}

	cks := make([]string, 0, len(byKey))
	for ck := range byKey {
		cks = append(cks, ck)
	}
	sort.Strings(cks)

	clusters := make([]cluster, 0, len(byKey))
	for _, ck := range cks {
		c := byKey[ck]
		var paths []string
		for p := range pathSets[ck] {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		c.AffectedPaths = paths
		clusters = append(clusters, *c)
	}
	return clusters
}

func sortClusters(clusters []cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		ri, rj := runstore.SeverityRank(clusters[i].Severity), runstore.SeverityRank(clusters[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		if clusters[i].Confidence != clusters[j].Confidence {
			return clusters[i].Confidence > clusters[j].Confidence
		}
		return clusters[i].ID < clusters[j].ID
	})
}

func riskScore(deduped []runstore.Finding) float64 {
	var sum float64
	for _, f := range deduped {
		conf := f.Confidence
		if conf < 0.2 {
			conf = 0.2
		}
		if conf > 1 {
			conf = 1
		}
		sum += float64(runstore.SeverityRank(f.Severity)) * conf
	}
	return math.Round(sum*100) / 100
}

func severityCounts(deduped []runstore.Finding) map[string]int {
	counts := make(map[string]int)
	for _, f := range deduped {
		counts[string(f.Severity)]++
	}
	return counts
}

func buildReportMarkdown(run *runstore.Run, counts map[string]int, risk float64, clusters []cluster, findings []runstore.Finding) string {
	var sb strings.Builder
	sb.WriteString("# Review Report\n\n")
	fmt.Fprintf(&sb, "Objective: %s\n\n", run.Objective)
	fmt.Fprintf(&sb, "Risk score: %.2f\n\n", risk)

	sb.WriteString("## Severity breakdown\n\n")
	for _, sev := range []runstore.Severity{runstore.SeverityCritical, runstore.SeverityHigh, runstore.SeverityMedium, runstore.SeverityLow, runstore.SeverityInfo} {
		fmt.Fprintf(&sb, "- %s: %d\n", sev, counts[string(sev)])
	}

	sb.WriteString("\n## Top clusters\n\n")
	for i, c := range clusters {
		if i >= 20 {
			break
		}
		fmt.Fprintf(&sb, "%d. [%s] %s (%s, count=%d)\n", i+1, c.Severity, c.Title, c.Domain, c.Count)
	}

	sb.WriteString("\n## Top findings\n\n")
	for i, f := range findings {
		if i >= 50 {
			break
		}
		loc := ""
		if len(f.Evidence) > 0 {
			loc = fmt.Sprintf("%s:%d", f.Evidence[0].Path, f.Evidence[0].LineStart)
		}
		fmt.Fprintf(&sb, "%d. [%s] %s (%s) — %s\n", i+1, f.Severity, f.Title, f.Domain, loc)
	}
	return sb.String()
}

func codeQualitySeverity(s runstore.Severity) string {
	switch s {
	case runstore.SeverityCritical:
		return "blocker"
	case runstore.SeverityHigh:
		return "critical"
	case runstore.SeverityMedium:
		return "major"
	case runstore.SeverityLow:
		return "minor"
	default:
		return "info"
	}
}

func sarifLevel(s runstore.Severity) string {
	switch runstore.SeverityRank(s) {
	case 5, 4:
		return "error"
	case 3:
		return "warning"
	default:
		return "note"
	}
}

func titleSlug(title string) string {
	lower := strings.ToLower(title)
	var sb strings.Builder
	lastDash := false
	for _, r := range lower {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(sb.String(), "-")
}

func buildSARIF(deduped []runstore.Finding) sarifDocument {
	ruleIdx := make(map[string]int)
	var rules []sarifRule
	var sarifResults []sarifResult

	for _, f := range deduped {
		ruleID := string(f.Domain) + ":" + titleSlug(f.Title)
		if _, ok := ruleIdx[ruleID]; !ok {
			ruleIdx[ruleID] = len(rules)
			rules = append(rules, sarifRule{ID: ruleID, ShortDescription: sarifText{Text: f.Title}})
		}
		path, ls, le := "", 0, 0
		if len(f.Evidence) > 0 {
			path, ls, le = f.Evidence[0].Path, f.Evidence[0].LineStart, f.Evidence[0].LineEnd
		}
		sarifResults = append(sarifResults, sarifResult{
			RuleID:  ruleID,
			Level:   sarifLevel(f.Severity),
			Message: sarifText{Text: f.Description},
			Locations: []sarifLocation{{PhysicalLocation: sarifPhysicalLocation{
				ArtifactLocation: sarifArtifactLocation{URI: path},
				Region:           sarifRegion{StartLine: ls, EndLine: le},
			}}},
		})
	}

	return sarifDocument{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool:    sarifTool{Driver: sarifDriver{Name: "pi-rlm", Rules: rules}},
			Results: sarifResults,
		}},
	}
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeJSONArtifact(artifactsDir, relPath string, v any) error {
	full := filepath.Join(artifactsDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}
