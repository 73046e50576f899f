package interactive

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeContextFile writes content to a fresh scratch file and returns the
// REPL snippet that loads it into the `context` namespace variable, per
// spec.md §4.8 step 1: the controller hands the interpreter a file to read
// rather than streaming a potentially large context through the execute
// request's JSON payload.
func writeContextFile(scratchDir, content string) (string, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	path := filepath.Join(scratchDir, "context.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write context file: %w", err)
	}

	return fmt.Sprintf("with open(%q, \"r\") as _context_fh:\n    context = _context_fh.read()\n", path), nil
}
