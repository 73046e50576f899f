package interp

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed bootstrap.py
var embeddedBootstrap []byte

// extractEmbeddedBootstrap writes the embedded driver script to a fresh temp
// directory and returns its path.
func extractEmbeddedBootstrap() (string, error) {
	if len(embeddedBootstrap) == 0 {
		return "", fmt.Errorf("embedded bootstrap.py is empty")
	}

	tmpDir, err := os.MkdirTemp("", "pirlm-interp-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	path := filepath.Join(tmpDir, "bootstrap.py")
	if err := os.WriteFile(path, embeddedBootstrap, 0o644); err != nil {
		os.RemoveAll(tmpDir)
		return "", fmt.Errorf("write bootstrap.py: %w", err)
	}
	return path, nil
}
