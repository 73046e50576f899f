package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pi-rlm/engine/internal/toolsurface"
)

var (
	rlmContext       string
	rlmMaxIterations int
	rlmMaxLLMCalls   int
	rlmMaxDepth      int
	rlmQuiet         bool
	rlmStats         bool
)

func init() {
	rlmCmd.Flags().StringVar(&rlmContext, "context", "", "raw text or file:<absolute path> to load as context")
	rlmCmd.Flags().IntVar(&rlmMaxIterations, "max-iterations", 0, "override the configured max iterations")
	rlmCmd.Flags().IntVar(&rlmMaxLLMCalls, "max-llm-calls", 0, "override the configured max LLM call budget")
	rlmCmd.Flags().IntVar(&rlmMaxDepth, "max-depth", 0, "override the configured max recursion depth")
	rlmCmd.Flags().BoolVarP(&rlmQuiet, "quiet", "q", false, "suppress progress output")
	rlmCmd.Flags().BoolVarP(&rlmStats, "stats", "s", false, "print budget usage after the answer")
	rootCmd.AddCommand(rlmCmd)
}

var rlmCmd = &cobra.Command{
	Use:   "rlm [query...]",
	Short: "Run the interactive RLM controller on a single query",
	Long: `rlm drives the interactive controller through a REPL loop against one
query and optional context, recursing into child engines whenever the
model calls rlm_query.

The query can be provided as arguments or piped from stdin.`,
	Example: `
# Ask a question with no context
pirlm rlm "what does the scheduler package do?"

# Pipe a file's content in as context
cat scheduler.go | pirlm rlm "summarize this file" --context -

# Load context from a file instead
pirlm rlm "audit this module" --context file:/repo/internal/scheduler/runner.go
`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		var err error
		if rlmContext != "-" {
			query, err = maybePrependStdin(query)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
		}
		if query == "" {
			return fmt.Errorf("no query provided")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		deps, err := buildDeps()
		if err != nil {
			return err
		}

		if !rlmQuiet {
			fmt.Fprintln(os.Stderr, "Running interactive RLM...")
		}

		engine, budget, err := deps.Engines.NewRootEngine(ctx, toolsurface.InteractiveRLMInput{
			Query:         query,
			Context:       rlmContext,
			MaxIterations: rlmMaxIterations,
			MaxLLMCalls:   rlmMaxLLMCalls,
			MaxDepth:      rlmMaxDepth,
		})
		if err != nil {
			return err
		}
		defer engine.Close()

		contextContent, err := resolveRLMContext(rlmContext)
		if err != nil {
			return err
		}

		result, err := engine.Run(ctx, query, contextContent)
		if err != nil {
			return fmt.Errorf("rlm execution failed: %w", err)
		}

		fmt.Println(result.Answer)

		if result.EarlyTerminated && !rlmQuiet {
			fmt.Fprintf(os.Stderr, "\n(terminated early: %s)\n", result.TerminationReason)
		}

		if rlmStats {
			usage := budget.Usage()
			fmt.Fprintf(os.Stderr, "\n--- Stats ---\n")
			fmt.Fprintf(os.Stderr, "Iterations: %d\n", result.Iterations)
			fmt.Fprintf(os.Stderr, "LLM calls:  %d\n", usage.CallsUsed)
			fmt.Fprintf(os.Stderr, "Tokens:     %d\n", usage.TokensUsed)
		}

		return nil
	},
}

// resolveRLMContext loads the context the same way toolsurface.resolveContext
// resolves file:<path>, plus a CLI-only "-" convention for piping context
// in directly on stdin.
func resolveRLMContext(raw string) (string, error) {
	if raw == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin context: %w", err)
		}
		return string(data), nil
	}
	const filePrefix = "file:"
	if !strings.HasPrefix(raw, filePrefix) {
		return raw, nil
	}
	path := strings.TrimPrefix(raw, filePrefix)
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("context file path must be absolute: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read context file: %w", err)
	}
	return string(data), nil
}

// maybePrependStdin reads piped stdin and joins it ahead of an explicit
// query argument, matching the lineage's rlm command.
func maybePrependStdin(query string) (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return query, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	piped := strings.TrimSpace(string(data))
	if piped == "" {
		return query, nil
	}
	if query == "" {
		return piped, nil
	}
	return piped + "\n\n" + query, nil
}
