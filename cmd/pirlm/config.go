package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pi-rlm/engine/internal/config"
)

func init() {
	configShowCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	configShowCmd.Flags().BoolP("yaml", "y", false, "Output as YAML")

	configCmd.AddCommand(configShowCmd, configEditCmd, configValidateCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for inspecting and editing pirlm's effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Display the current effective configuration after merging defaults, config file, and environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		cwd, err := resolveCwd()
		if err != nil {
			return err
		}
		cfg, err := config.Init(cwd, dataDir, debug)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if asJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(cfg)
		}

		if asYAML {
			encoder := yaml.NewEncoder(os.Stdout)
			encoder.SetIndent(2)
			return encoder.Encode(cfg)
		}

		fmt.Println("Effective Configuration")
		fmt.Println("=======================")
		fmt.Println()

		fmt.Println("General:")
		fmt.Printf("  Data Directory:    %s\n", cfg.DataDirectory)
		fmt.Printf("  Debug:             %v\n", cfg.Debug)
		fmt.Printf("  Python Path:       %s\n", cfg.PythonPath)
		fmt.Println()

		fmt.Println("LLM:")
		fmt.Printf("  Base URL:          %s\n", cfg.LLM.BaseURL)
		fmt.Printf("  Default Model:     %s\n", cfg.LLM.DefaultModel)
		if cfg.LLM.APIKey != "" {
			keyLen := len(cfg.LLM.APIKey)
			if keyLen > 8 {
				keyLen = 8
			}
			fmt.Printf("  API Key:           %s...\n", cfg.LLM.APIKey[:keyLen])
		} else {
			fmt.Printf("  API Key:           (not set)\n")
		}
		fmt.Println()

		fmt.Println("Run defaults:")
		fmt.Printf("  Mode:              %s\n", cfg.Run.Mode)
		fmt.Printf("  Max Depth:         %d\n", cfg.Run.MaxDepth)
		fmt.Printf("  Max LLM Calls:     %d\n", cfg.Run.MaxLLMCalls)
		fmt.Printf("  Max Tokens:        %d\n", cfg.Run.MaxTokens)
		fmt.Printf("  Max Wall Clock:    %dms\n", cfg.Run.MaxWallClockMs)
		fmt.Printf("  Scheduler:         %s\n", cfg.Run.Scheduler)
		fmt.Println()

		fmt.Println("Interactive defaults:")
		fmt.Printf("  Max Iterations:    %d\n", cfg.Interactive.MaxIterations)
		fmt.Printf("  Max LLM Calls:     %d\n", cfg.Interactive.MaxLLMCalls)
		fmt.Printf("  Max Depth:         %d\n", cfg.Interactive.MaxDepth)
		fmt.Println()

		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	Long:  "Open the configuration file in $EDITOR (falling back to $VISUAL, then vi)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := resolveCwd()
		if err != nil {
			return err
		}
		cfg, err := config.Init(cwd, dataDir, debug)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		configPaths := []string{
			filepath.Join(cwd, ".pirlm.yaml"),
			filepath.Join(cwd, ".pirlm.yml"),
			filepath.Join(cfg.DataDirectory, "config.yaml"),
		}

		var target string
		for _, p := range configPaths {
			if _, err := os.Stat(p); err == nil {
				target = p
				break
			}
		}

		if target == "" {
			if err := os.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
				return fmt.Errorf("create data directory: %w", err)
			}
			target = filepath.Join(cfg.DataDirectory, "config.yaml")
			defaultConfig := `# pirlm configuration
# See DESIGN.md for the full set of available keys.

# llm:
#   base_url: https://openrouter.ai/api/v1
#   default_model: openrouter/auto

# run:
#   mode: generic
#   max_depth: 4
#   scheduler: bfs

# interactive:
#   max_iterations: 15
`
			if err := os.WriteFile(target, []byte(defaultConfig), 0o644); err != nil {
				return fmt.Errorf("create default config: %w", err)
			}
			fmt.Printf("Created new config file: %s\n", target)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			editor = "vi"
		}

		execCmd := exec.Command(editor, target)
		execCmd.Stdin = os.Stdin
		execCmd.Stdout = os.Stdout
		execCmd.Stderr = os.Stderr
		return execCmd.Run()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Check the effective configuration for errors and warnings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := resolveCwd()
		if err != nil {
			return err
		}
		cfg, err := config.Init(cwd, dataDir, debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ Configuration error: %v\n", err)
			return err
		}

		var warnings, errs []string

		if cfg.LLM.APIKey == "" {
			errs = append(errs, "no LLM API key configured (set llm.api_key, OPENROUTER_API_KEY, or OPENAI_API_KEY)")
		}
		if cfg.DataDirectory == "" {
			errs = append(errs, "data directory not set")
		} else if _, err := os.Stat(cfg.DataDirectory); os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("data directory does not exist: %s (will be created)", cfg.DataDirectory))
		}
		if _, err := exec.LookPath(cfg.PythonPath); err != nil {
			warnings = append(warnings, fmt.Sprintf("python interpreter %q not found on PATH", cfg.PythonPath))
		}

		if len(errs) > 0 {
			fmt.Println("Errors:")
			for _, e := range errs {
				fmt.Printf("  ✗ %s\n", e)
			}
		}
		if len(warnings) > 0 {
			fmt.Println("Warnings:")
			for _, w := range warnings {
				fmt.Printf("  ⚠ %s\n", w)
			}
		}

		switch {
		case len(errs) == 0 && len(warnings) == 0:
			fmt.Println("✓ Configuration is valid")
		case len(errs) == 0:
			fmt.Println("\n✓ Configuration is valid with warnings")
		}

		if len(errs) > 0 {
			return fmt.Errorf("configuration has %d error(s)", len(errs))
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file paths",
	Long:  "Display the paths pirlm checks for a config file, in order of precedence",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := resolveCwd()
		if err != nil {
			return err
		}
		cfg, err := config.Init(cwd, dataDir, debug)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		fmt.Println("Configuration Paths (in order of precedence):")
		fmt.Println()

		paths := []struct {
			name string
			path string
		}{
			{"Project config", filepath.Join(cwd, ".pirlm.yaml")},
			{"Project config (alt)", filepath.Join(cwd, ".pirlm.yml")},
			{"Data directory config", filepath.Join(cfg.DataDirectory, "config.yaml")},
		}

		for _, p := range paths {
			status := "✗"
			if _, err := os.Stat(p.path); err == nil {
				status = "✓"
			}
			fmt.Printf("  %s %s\n    %s\n", status, p.name, p.path)
		}

		fmt.Println()
		fmt.Printf("Data directory: %s\n", cfg.DataDirectory)
		return nil
	},
}
