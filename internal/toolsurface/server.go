// Package toolsurface registers the repo-scale recursive runner's
// repo_rlm_* tools and the interactive rlm() tool against an MCP server,
// the external interface spec.md §6.2 and §7 describe.
package toolsurface

import (
	"context"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pi-rlm/engine/internal/config"
	"github.com/pi-rlm/engine/internal/llm"
	"github.com/pi-rlm/engine/internal/runstore"
	"github.com/pi-rlm/engine/internal/scheduler"
	"github.com/pi-rlm/engine/internal/synth"
)

// Deps are the components Register wires every tool handler against.
type Deps struct {
	Config  *config.Config
	Store   *runstore.Store
	Runner  *scheduler.Runner
	Synth   *synth.Engine
	Client  llm.Client
	Engines *EngineFactory
}

// NewServer builds an MCP server carrying the pi-rlm implementation
// metadata, ready for Register.
func NewServer(version string) *mcp.Server {
	return mcp.NewServer(&mcp.Implementation{Name: "pi-rlm", Version: version}, nil)
}

// Register wires every repo_rlm_* tool plus the interactive rlm() tool onto
// server.
func Register(server *mcp.Server, deps Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "repo_rlm_start",
		Description: "Start a repo-scale recursive run against an objective and root paths.",
	}, deps.startRun)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "repo_rlm_step",
		Description: "Process at most max_nodes queued nodes of a run, plus a trailing aggregation pass.",
	}, deps.step)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "repo_rlm_run",
		Description: "Drive a run via repeated repo_rlm_step until terminal or idle.",
	}, deps.run)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "repo_rlm_status",
		Description: "Report a run's latest nodes, queue events, result count, depth histogram, and active branches.",
	}, deps.status)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "repo_rlm_cancel",
		Description: "Cancel a non-terminal run, terminalizing every queued or running node.",
	}, deps.cancel)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "repo_rlm_resume",
		Description: "Resume a cancelled run, requeuing its cancelled nodes.",
	}, deps.resume)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "repo_rlm_synthesize",
		Description: "Run the wiki and/or review synthesis passes and merge their artifacts into the run's output index.",
	}, deps.synthesize)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "repo_rlm_export",
		Description: "Export a run to artifacts/export.md or artifacts/export.json.",
	}, deps.export)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "rlm",
		Description: "Run the interactive RLM controller on one query against optional context, recursing into child engines on rlm_query.",
	}, deps.interactiveRLM)
}

func (d Deps) startRun(ctx context.Context, req *mcp.CallToolRequest, in StartRunInput) (*mcp.CallToolResult, RunOutput, error) {
	defaults := d.Config.Run
	mode := runstore.Mode(orDefault(in.Mode, defaults.Mode))
	sched := runstore.Scheduler(orDefault(in.Scheduler, defaults.Scheduler))
	rootPaths := in.RootPaths
	if len(rootPaths) == 0 {
		rootPaths = []string{"."}
	}

	run, err := d.Runner.StartRun(scheduler.StartConfig{
		Objective:      in.Objective,
		Mode:           mode,
		Domain:         runstore.Domain(in.Domain),
		RootScopePaths: rootPaths,
		MaxDepth:       orDefaultInt(in.MaxDepth, defaults.MaxDepth),
		MaxLLMCalls:    orDefaultInt(in.MaxLLMCalls, defaults.MaxLLMCalls),
		MaxTokens:      orDefaultInt(in.MaxTokens, defaults.MaxTokens),
		MaxWallClockMs: orDefaultInt64(in.MaxWallClockMs, defaults.MaxWallClockMs),
		Scheduler:      sched,
	})
	if err != nil {
		return nil, RunOutput{}, err
	}
	return nil, RunOutput{Run: run}, nil
}

func (d Deps) step(ctx context.Context, req *mcp.CallToolRequest, in StepInput) (*mcp.CallToolResult, StepOutput, error) {
	maxNodes := orDefaultInt(in.MaxNodes, 1)
	result, err := d.Runner.ExecuteStep(in.RunID, maxNodes)
	if err != nil {
		return nil, StepOutput{}, err
	}
	return nil, StepOutput{
		Run:             result.Run,
		ProcessedNodes:  result.ProcessedNodes,
		AggregatedNodes: result.AggregatedNodes,
		Notes:           result.Notes,
	}, nil
}

func (d Deps) run(ctx context.Context, req *mcp.CallToolRequest, in StepInput) (*mcp.CallToolResult, StepOutput, error) {
	maxNodes := orDefaultInt(in.MaxNodes, 200)
	result, err := d.Runner.RunUntil(in.RunID, maxNodes)
	if err != nil {
		return nil, StepOutput{}, err
	}
	return nil, StepOutput{Run: result.Run}, nil
}

func (d Deps) status(ctx context.Context, req *mcp.CallToolRequest, in RunIDInput) (*mcp.CallToolResult, StatusOutput, error) {
	result, err := d.Runner.GetStatus(in.RunID)
	if err != nil {
		return nil, StatusOutput{}, err
	}

	hist := make(map[string]int, len(result.DepthHistogram))
	for depth, count := range result.DepthHistogram {
		hist[strconv.Itoa(depth)] = count
	}
	active := make([]ActiveBranch, 0, len(result.ActivePreview))
	for _, a := range result.ActivePreview {
		active = append(active, ActiveBranch{NodeID: a.NodeID, Depth: a.Depth, Status: string(a.Status), Decision: string(a.Decision)})
	}

	return nil, StatusOutput{
		Run:            result.Run,
		Nodes:          result.Nodes,
		QueueEvents:    result.QueueEvents,
		ResultCount:    result.ResultCount,
		DepthHistogram: hist,
		ActivePreview:  active,
	}, nil
}

func (d Deps) cancel(ctx context.Context, req *mcp.CallToolRequest, in RunIDInput) (*mcp.CallToolResult, RunOutput, error) {
	run, err := d.Runner.CancelRun(in.RunID)
	if err != nil {
		return nil, RunOutput{}, err
	}
	return nil, RunOutput{Run: run}, nil
}

func (d Deps) resume(ctx context.Context, req *mcp.CallToolRequest, in RunIDInput) (*mcp.CallToolResult, RunOutput, error) {
	run, err := d.Runner.ResumeRun(in.RunID)
	if err != nil {
		return nil, RunOutput{}, err
	}
	return nil, RunOutput{Run: run}, nil
}

func (d Deps) synthesize(ctx context.Context, req *mcp.CallToolRequest, in SynthesizeInput) (*mcp.CallToolResult, SynthesizeOutput, error) {
	target := synth.Target(orDefault(in.Target, string(synth.TargetAuto)))
	report, err := d.Synth.SynthesizeRun(in.RunID, target)
	if err != nil {
		return nil, SynthesizeOutput{}, err
	}
	run, err := d.Store.GetRun(in.RunID)
	if err != nil {
		return nil, SynthesizeOutput{}, err
	}
	return nil, SynthesizeOutput{
		Run:             run,
		WikiArtifacts:   report.WikiArtifacts,
		ReviewArtifacts: report.ReviewArtifacts,
		RiskScore:       report.RiskScore,
		DedupedCount:    report.DedupedCount,
		ClusterCount:    report.ClusterCount,
	}, nil
}

func (d Deps) export(ctx context.Context, req *mcp.CallToolRequest, in ExportInput) (*mcp.CallToolResult, ExportOutput, error) {
	result, err := d.Synth.ExportRun(in.RunID, synth.Format(in.Format))
	if err != nil {
		return nil, ExportOutput{}, err
	}
	return nil, ExportOutput{Path: result.Path}, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func orDefaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func orDefaultInt64(value, fallback int64) int64 {
	if value == 0 {
		return fallback
	}
	return value
}
