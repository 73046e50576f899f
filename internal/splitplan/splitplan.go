// Package splitplan implements the split planner (C4): given a node's scope,
// produce non-overlapping child scopes with distributed budgets.
package splitplan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pi-rlm/engine/internal/runstore"
)

const (
	splitCostLLMCalls = 1
	splitCostTokens   = 4000
	maxFilesPerGroup  = 8
)

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func sanitizeLabel(s string) string {
	s = sanitizeRe.ReplaceAllString(s, "_")
	if s == "" {
		return "scope"
	}
	return s
}

// Plan enumerates the immediate children of every path in parent's scope. If
// any subdirectories are found, it produces one child per subdirectory.
// Otherwise it groups the immediate files into chunks of up to
// maxFilesPerGroup. A parent whose paths are unreadable or empty yields zero
// children, which the caller must treat as a split-with-no-children case.
func Plan(parent *runstore.Node) ([]*runstore.Node, error) {
	var subdirs []string
	var looseFiles []string

	for _, p := range parent.ScopeRef.Paths {
		info, err := os.Stat(p)
		if err != nil {
			continue // unreadable path, silently skipped
		}
		if !info.IsDir() {
			looseFiles = append(looseFiles, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			continue
		}
		for _, e := range entries {
			full := filepath.Join(p, e.Name())
			if e.IsDir() {
				subdirs = append(subdirs, full)
			} else {
				looseFiles = append(looseFiles, full)
			}
		}
	}

	var childScopes []childScope
	if len(subdirs) > 0 {
		for _, d := range subdirs {
			childScopes = append(childScopes, childScope{
				paths:     []string{d},
				scopeType: runstore.ScopeDir,
				label:     sanitizeLabel(filepath.Base(d)),
			})
		}
	} else {
		for i := 0; i < len(looseFiles); i += maxFilesPerGroup {
			end := i + maxFilesPerGroup
			if end > len(looseFiles) {
				end = len(looseFiles)
			}
			childScopes = append(childScopes, childScope{
				paths:     looseFiles[i:end],
				scopeType: runstore.ScopeFileGroup,
				label:     fmt.Sprintf("group-%d", i/maxFilesPerGroup),
			})
		}
	}

	if len(childScopes) == 0 {
		return nil, nil
	}

	budgets := distributeBudgets(parent.Budgets, len(childScopes))

	now := parent.UpdatedAt
	children := make([]*runstore.Node, 0, len(childScopes))
	for i, cs := range childScopes {
		children = append(children, &runstore.Node{
			RunID:     parent.RunID,
			NodeID:    fmt.Sprintf("%s:%d:%s", parent.NodeID, i, cs.label),
			ParentID:  parent.NodeID,
			Depth:     parent.Depth + 1,
			ScopeType: cs.scopeType,
			ScopeRef:  runstore.ScopeRef{Paths: cs.paths},
			Objective: parent.Objective,
			Domain:    parent.Domain,
			Status:    runstore.NodeQueued,
			Decision:  runstore.DecisionUndecided,
			Budgets:   budgets,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return children, nil
}

type childScope struct {
	paths     []string
	scopeType runstore.ScopeType
	label     string
}

// distributeBudgets deducts the fixed cost of splitting from the parent's
// remaining budget, then divides what's left evenly across n children. The
// deadline is inherited verbatim, never redistributed.
func distributeBudgets(parent runstore.Budgets, n int) runstore.Budgets {
	remainingCalls := parent.RemainingLLMCalls - splitCostLLMCalls
	if remainingCalls < 0 {
		remainingCalls = 0
	}
	remainingTokens := parent.RemainingTokens - splitCostTokens
	if remainingTokens < 0 {
		remainingTokens = 0
	}
	return runstore.Budgets{
		MaxDepth:          parent.MaxDepth,
		RemainingLLMCalls: remainingCalls / n,
		RemainingTokens:   remainingTokens / n,
		DeadlineEpochMs:   parent.DeadlineEpochMs,
	}
}

// AssertDisjoint is a test/verification helper enforcing P3: every child's
// file scope must be disjoint from every other child's.
func AssertDisjoint(children []*runstore.Node) error {
	seen := make(map[string]string)
	for _, c := range children {
		for _, p := range c.ScopeRef.Paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				abs = p
			}
			if owner, ok := seen[abs]; ok && owner != c.NodeID {
				return fmt.Errorf("path %s claimed by both %s and %s", abs, owner, c.NodeID)
			}
			seen[abs] = c.NodeID
		}
	}
	return nil
}

// SanitizeNodeIDSegment exposes the label sanitizer for callers constructing
// node ids outside Plan.
func SanitizeNodeIDSegment(s string) string {
	return sanitizeLabel(strings.TrimSpace(s))
}
