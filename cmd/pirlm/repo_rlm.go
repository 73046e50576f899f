package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pi-rlm/engine/internal/runstore"
	"github.com/pi-rlm/engine/internal/scheduler"
	"github.com/pi-rlm/engine/internal/synth"
)

var (
	startObjective string
	startMode      string
	startDomain    string
	startPaths     []string
	startMaxDepth  int
	startMaxCalls  int
	startScheduler string

	stepRunID    string
	stepMaxNodes int
	runMaxNodes  int

	synthTarget string
	exportFmt   string
)

func init() {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a repo-scale recursive run",
		RunE:  runRepoStart,
	}
	startCmd.Flags().StringVar(&startObjective, "objective", "", "what the run should accomplish (required)")
	startCmd.Flags().StringVar(&startMode, "mode", "", "generic, wiki, or review")
	startCmd.Flags().StringVar(&startDomain, "domain", "", "review sub-domain: security, quality, performance, docs, architecture")
	startCmd.Flags().StringSliceVar(&startPaths, "path", nil, "root scope path (repeatable); defaults to cwd")
	startCmd.Flags().IntVar(&startMaxDepth, "max-depth", 0, "override the configured max recursion depth")
	startCmd.Flags().IntVar(&startMaxCalls, "max-llm-calls", 0, "override the configured max LLM call budget")
	startCmd.Flags().StringVar(&startScheduler, "scheduler", "", "bfs, dfs, or hybrid")

	stepCmd := &cobra.Command{
		Use:   "step [run-id]",
		Short: "Process queued nodes of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoStep,
	}
	stepCmd.Flags().IntVar(&stepMaxNodes, "max-nodes", 1, "number of queued nodes to process")

	runCmd := &cobra.Command{
		Use:   "run [run-id]",
		Short: "Drive a run to completion via repeated stepping",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoRun,
	}
	runCmd.Flags().IntVar(&runMaxNodes, "max-nodes", 200, "node budget for this call")

	statusCmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run's latest status",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoStatus,
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [run-id]",
		Short: "Cancel a non-terminal run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoCancel,
	}

	resumeCmd := &cobra.Command{
		Use:   "resume [run-id]",
		Short: "Resume a cancelled run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoResume,
	}

	synthCmd := &cobra.Command{
		Use:   "synthesize [run-id]",
		Short: "Run the wiki/review synthesis passes over a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoSynthesize,
	}
	synthCmd.Flags().StringVar(&synthTarget, "target", "auto", "auto, wiki, review, or all")

	exportCmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Export a run to artifacts/export.md or artifacts/export.json",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoExport,
	}
	exportCmd.Flags().StringVar(&exportFmt, "format", "markdown", "markdown or json")

	repoRLMCmd.AddCommand(startCmd, stepCmd, runCmd, statusCmd, cancelCmd, resumeCmd, synthCmd, exportCmd)
	rootCmd.AddCommand(repoRLMCmd)
}

var repoRLMCmd = &cobra.Command{
	Use:   "repo-rlm",
	Short: "Drive the repo-scale recursive runner directly, without MCP",
	Long:  "repo-rlm operates the same state machine the repo_rlm_* tools expose, printing JSON to stdout.",
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRepoStart(cmd *cobra.Command, args []string) error {
	if startObjective == "" {
		return fmt.Errorf("--objective is required")
	}
	deps, err := buildDeps()
	if err != nil {
		return err
	}
	defaults := deps.Config.Run

	paths := startPaths
	if len(paths) == 0 {
		cwd, err := resolveCwd()
		if err != nil {
			return err
		}
		paths = []string{cwd}
	}

	mode := startMode
	if mode == "" {
		mode = defaults.Mode
	}
	sched := startScheduler
	if sched == "" {
		sched = defaults.Scheduler
	}
	maxDepth := startMaxDepth
	if maxDepth == 0 {
		maxDepth = defaults.MaxDepth
	}
	maxCalls := startMaxCalls
	if maxCalls == 0 {
		maxCalls = defaults.MaxLLMCalls
	}

	run, err := deps.Runner.StartRun(scheduler.StartConfig{
		Objective:      startObjective,
		Mode:           runstore.Mode(mode),
		Domain:         runstore.Domain(startDomain),
		RootScopePaths: paths,
		MaxDepth:       maxDepth,
		MaxLLMCalls:    maxCalls,
		MaxTokens:      defaults.MaxTokens,
		MaxWallClockMs: defaults.MaxWallClockMs,
		Scheduler:      runstore.Scheduler(sched),
	})
	if err != nil {
		return err
	}
	return printJSON(run)
}

func runRepoStep(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps()
	if err != nil {
		return err
	}
	result, err := deps.Runner.ExecuteStep(args[0], stepMaxNodes)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runRepoRun(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps()
	if err != nil {
		return err
	}
	result, err := deps.Runner.RunUntil(args[0], runMaxNodes)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runRepoStatus(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps()
	if err != nil {
		return err
	}
	status, err := deps.Runner.GetStatus(args[0])
	if err != nil {
		return err
	}
	return printJSON(status)
}

func runRepoCancel(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps()
	if err != nil {
		return err
	}
	run, err := deps.Runner.CancelRun(args[0])
	if err != nil {
		return err
	}
	return printJSON(run)
}

func runRepoResume(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps()
	if err != nil {
		return err
	}
	run, err := deps.Runner.ResumeRun(args[0])
	if err != nil {
		return err
	}
	return printJSON(run)
}

func runRepoSynthesize(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps()
	if err != nil {
		return err
	}
	report, err := deps.Synth.SynthesizeRun(args[0], synth.Target(synthTarget))
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runRepoExport(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps()
	if err != nil {
		return err
	}
	result, err := deps.Synth.ExportRun(args[0], synth.Format(exportFmt))
	if err != nil {
		return err
	}
	return printJSON(result)
}
