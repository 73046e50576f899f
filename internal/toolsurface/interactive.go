package toolsurface

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pi-rlm/engine/internal/config"
	"github.com/pi-rlm/engine/internal/interactive"
	"github.com/pi-rlm/engine/internal/interp"
	"github.com/pi-rlm/engine/internal/llm"
	"github.com/pi-rlm/engine/internal/subcall"
)

// EngineFactory builds complete interactive RLM stacks: one interp.Host
// child process, its loopback subcall.Router, and the root
// interactive.Controller that drives them, wired so rlm_query recursion
// spawns a fresh stack of its own up to the configured depth, per
// spec.md §4.10.
type EngineFactory struct {
	Config *config.Config
	Client llm.Client
}

// Engine is one running interactive stack, returned by NewRootEngine or a
// ChildFactory invocation.
type Engine struct {
	host       *interp.Host
	router     *subcall.Router
	controller *interactive.Controller
}

// NewRootEngine starts a fresh interpreter process and wires a root
// controller over it, honoring the per-call overrides in in (falling back
// to config.Interactive defaults).
func (f *EngineFactory) NewRootEngine(ctx context.Context, in InteractiveRLMInput) (*Engine, *interactive.BudgetTracker, error) {
	maxIterations := orDefaultInt(in.MaxIterations, f.Config.Interactive.MaxIterations)
	maxLLMCalls := orDefaultInt(in.MaxLLMCalls, f.Config.Interactive.MaxLLMCalls)
	maxDepth := orDefaultInt(in.MaxDepth, f.Config.Interactive.MaxDepth)

	budget := interactive.NewBudgetTracker(maxLLMCalls, 0, 0)
	engine, err := f.newEngine(ctx, 0, maxDepth, maxIterations, budget)
	if err != nil {
		return nil, nil, err
	}
	return engine, budget, nil
}

func (f *EngineFactory) newEngine(ctx context.Context, depth, maxDepth, maxIterations int, budget *interactive.BudgetTracker) (*Engine, error) {
	host, err := interp.NewHost(interp.Options{PythonPath: f.Config.PythonPath})
	if err != nil {
		return nil, fmt.Errorf("build interpreter host: %w", err)
	}

	router := subcall.NewRouter(subcall.Config{
		Client:       f.Client,
		DefaultModel: f.Config.LLM.DefaultModel,
		MaxDepth:     maxDepth,
	})

	if _, err := host.Start(ctx, router.Handler()); err != nil {
		return nil, fmt.Errorf("start interpreter: %w", err)
	}

	scratch, err := os.MkdirTemp("", "pirlm-scratch-*")
	if err != nil {
		host.Stop()
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	controller := interactive.NewController(interactive.Config{
		Client:        f.Client,
		Model:         f.Config.LLM.DefaultModel,
		ScratchDir:    scratch,
		MaxIterations: maxIterations,
		Depth:         depth,
		MaxDepth:      maxDepth,
		Budget:        budget,
		SpawnChild: func(ctx context.Context, childDepth int, budget *interactive.BudgetTracker) (*interactive.Controller, func(), error) {
			child, err := f.newEngine(ctx, childDepth, maxDepth, maxIterations, budget)
			if err != nil {
				return nil, nil, err
			}
			return child.controller, func() { child.Close() }, nil
		},
	}, host)

	router.SetRecursiveInvoker(controller)

	return &Engine{host: host, router: router, controller: controller}, nil
}

// Run drives the engine's controller to completion for one query.
func (e *Engine) Run(ctx context.Context, query, contextContent string) (*interactive.Result, error) {
	return e.controller.Run(ctx, query, contextContent)
}

// Close stops the interpreter process and its loopback server.
func (e *Engine) Close() {
	e.host.Stop()
}

func (d Deps) interactiveRLM(ctx context.Context, req *mcp.CallToolRequest, in InteractiveRLMInput) (*mcp.CallToolResult, InteractiveRLMOutput, error) {
	contextContent, err := resolveContext(in.Context)
	if err != nil {
		return nil, InteractiveRLMOutput{}, err
	}

	engine, _, err := d.Engines.NewRootEngine(ctx, in)
	if err != nil {
		return nil, InteractiveRLMOutput{}, err
	}
	defer engine.Close()

	result, err := engine.Run(ctx, in.Query, contextContent)
	if err != nil {
		return nil, InteractiveRLMOutput{}, err
	}

	return nil, InteractiveRLMOutput{
		Answer:            result.Answer,
		Iterations:        result.Iterations,
		EarlyTerminated:   result.EarlyTerminated,
		TerminationReason: result.TerminationReason,
	}, nil
}

// resolveContext implements the file: prefix convention of spec.md §6.2.
func resolveContext(raw string) (string, error) {
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
