package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/pi-rlm/engine/internal/config"
	"github.com/pi-rlm/engine/internal/llm"
	"github.com/pi-rlm/engine/internal/runstore"
	"github.com/pi-rlm/engine/internal/scheduler"
	"github.com/pi-rlm/engine/internal/synth"
	"github.com/pi-rlm/engine/internal/toolsurface"
)

const engineVersion = "0.1.0"

var schemaDocPath string

func init() {
	serveCmd.Flags().StringVar(&schemaDocPath, "schema-doc", "", "write the tool surface's JSON Schema to this path and exit")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server exposing repo_rlm_* and rlm over stdio",
	Long: `serve starts an MCP server on stdin/stdout, registering the repo-scale
recursive runner's repo_rlm_start/step/run/status/cancel/resume/synthesize/
export tools plus the interactive rlm() tool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		server := toolsurface.NewServer(engineVersion)
		toolsurface.Register(server, deps)

		if schemaDocPath != "" {
			return toolsurface.WriteSchemaDoc(schemaDocPath)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return server.Run(ctx, &mcp.StdioTransport{})
	},
}

// buildDeps wires the full dependency graph every serve/repo-rlm/rlm
// subcommand needs: config, on-disk run store, scheduler, synthesis engine,
// LLM client, and the interactive engine factory.
func buildDeps() (toolsurface.Deps, error) {
	cwd, err := resolveCwd()
	if err != nil {
		return toolsurface.Deps{}, err
	}
	cfg, err := config.Init(cwd, dataDir, debug)
	if err != nil {
		return toolsurface.Deps{}, fmt.Errorf("load config: %w", err)
	}

	store := runstore.NewStore(cfg.DataDirectory)
	runner := scheduler.NewRunner(store)
	synthEngine := synth.NewEngine(store)

	client, err := llm.NewOpenAICompatClient(llm.Config{APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL})
	if err != nil {
		return toolsurface.Deps{}, fmt.Errorf("build LLM client: %w", err)
	}

	return toolsurface.Deps{
		Config:  cfg,
		Store:   store,
		Runner:  runner,
		Synth:   synthEngine,
		Client:  client,
		Engines: &toolsurface.EngineFactory{Config: cfg, Client: client},
	}, nil
}
