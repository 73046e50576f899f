// Command pirlm runs the repo-scale and interactive Recursive Language
// Model engine, either as an MCP server or as a direct CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dataDir string
	debug   bool

	rootCmd = &cobra.Command{
		Use:   "pirlm",
		Short: "Recursive Language Model execution engine",
		Long: `pirlm runs recursive-decomposition analysis over a repository or a
single interactive query, exposing both an MCP tool surface for coding
agents and a direct CLI for scripting and local use.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (defaults to <cwd>/.pi/rlm)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveCwd returns the working directory the config and run store are
// rooted at. There is no --cwd flag to override it; every path pirlm takes
// is relative to however the process was invoked.
func resolveCwd() (string, error) {
	return os.Getwd()
}
