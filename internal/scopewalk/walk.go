// Package scopewalk implements the bounded directory traversal used to
// measure a node's scope before the decision engine chooses leaf or split.
package scopewalk

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	ignore "github.com/sabhiram/go-gitignore"
)

// defaultExcludes are glob patterns skipped on every walk regardless of
// .gitignore, matching what a repo-scale scan should never count toward a
// node's scope stats.
var defaultExcludes = []string{
	"**/.git/**",
	"**/vendor/**",
	"**/node_modules/**",
	"**/testdata/**",
}

// Result summarizes the files reachable from a scope's root paths.
type Result struct {
	FileCount     int
	TotalBytes    int64
	SampledFiles  []string
	ExtHistogram  map[string]int
}

// Walk enumerates every regular file under paths (directories are descended,
// files are taken as-is), stopping once maxFiles files have been counted.
// Inaccessible entries are silently skipped. A .gitignore found at the root
// of each path, if any, excludes matching entries before they count toward
// maxFiles; that .gitignore file itself is not counted. Directories are
// visited concurrently, so once maxFiles is reached the set of files counted
// can differ between runs; SampledFiles is returned sorted.
func Walk(paths []string, maxFiles int) (*Result, error) {
	res := &Result{ExtHistogram: make(map[string]int)}
	visited := make(map[string]bool)

	for _, root := range paths {
		if res.FileCount >= maxFiles {
			break
		}
		if err := walkOne(root, maxFiles, visited, res); err != nil {
			return nil, err
		}
	}

	sort.Strings(res.SampledFiles)
	return res, nil
}

func walkOne(root string, maxFiles int, visited map[string]bool, res *Result) error {
	info, err := os.Lstat(root)
	if err != nil {
		// Unreadable root: silently skipped per spec.
		return nil
	}

	matcher := loadGitignore(root)

	if !info.IsDir() {
		addFile(root, info, res)
		return nil
	}

	conf := &fastwalk.Config{
		Follow: false,
	}
	var mu sync.Mutex
	return fastwalk.Walk(conf, root, func(path string, d fs.DirEntry, err error) error {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			return nil // skip unreadable entries, never fatal
		}
		if res.FileCount >= maxFiles {
			return filepath.SkipAll
		}

		abs, aerr := filepath.Abs(path)
		if aerr != nil {
			abs = path
		}
		if visited[abs] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		visited[abs] = true

		if d.IsDir() {
			return nil
		}
		rel := relOrSelf(root, path)
		if rel == ".gitignore" {
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}
		if matchesAnyGlob(defaultExcludes, rel) {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		addFile(path, fi, res)
		return nil
	})
}

func addFile(path string, info os.FileInfo, res *Result) {
	res.FileCount++
	res.TotalBytes += info.Size()
	res.SampledFiles = append(res.SampledFiles, path)
	ext := filepath.Ext(path)
	if ext == "" {
		ext = "(none)"
	}
	res.ExtHistogram[ext]++
}

func relOrSelf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

func matchesAnyGlob(patterns []string, rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}
