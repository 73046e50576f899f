// Package config loads pi-rlm's layered configuration: built-in defaults,
// then an optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pi-rlm/engine/internal/runstore"
)

// RunDefaults mirrors the repo_rlm_start defaults of spec.md §6.2.
type RunDefaults struct {
	Mode           string `yaml:"mode"`
	MaxDepth       int    `yaml:"max_depth"`
	MaxLLMCalls    int    `yaml:"max_llm_calls"`
	MaxTokens      int    `yaml:"max_tokens"`
	MaxWallClockMs int64  `yaml:"max_wall_clock_ms"`
	Scheduler      string `yaml:"scheduler"`
}

// InteractiveDefaults mirrors the interactive rlm() tool defaults of
// spec.md §6.2.
type InteractiveDefaults struct {
	MaxIterations int `yaml:"max_iterations"`
	MaxLLMCalls   int `yaml:"max_llm_calls"`
	MaxDepth      int `yaml:"max_depth"`
}

// LLM holds the OpenAI-compatible sub-model client settings.
type LLM struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// Config is the effective, fully-merged configuration for one pi-rlm
// process.
type Config struct {
	DataDirectory string              `yaml:"data_directory"`
	Debug         bool                `yaml:"debug"`
	PythonPath    string              `yaml:"python_path"`
	LLM           LLM                 `yaml:"llm"`
	Run           RunDefaults         `yaml:"run"`
	Interactive   InteractiveDefaults `yaml:"interactive"`
}

// Defaults returns the built-in configuration, before any YAML file or
// environment override is applied.
func Defaults(dataDir string) Config {
	return Config{
		DataDirectory: dataDir,
		PythonPath:    "python3",
		LLM: LLM{
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: "openrouter/auto",
		},
		Run: RunDefaults{
			Mode:           string(runstore.ModeGeneric),
			MaxDepth:       4,
			MaxLLMCalls:    300,
			MaxTokens:      500000,
			MaxWallClockMs: 1800000,
			Scheduler:      string(runstore.SchedulerBFS),
		},
		Interactive: InteractiveDefaults{
			MaxIterations: 15,
			MaxLLMCalls:   50,
			MaxDepth:      1,
		},
	}
}

// Init loads the effective configuration for cwd: defaults, then the first
// of .pirlm.yaml/.pirlm.yml/<dataDir>/config.yaml that exists, then
// environment overrides (.env via godotenv, then the process environment).
func Init(cwd, dataDir string, debug bool) (*Config, error) {
	if dataDir == "" {
		dataDir = filepath.Join(cwd, ".pi", "rlm")
	}
	cfg := Defaults(dataDir)
	cfg.Debug = debug

	for _, candidate := range configPaths(cwd, dataDir) {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := mergeYAMLFile(&cfg, candidate); err != nil {
			return nil, fmt.Errorf("load %s: %w", candidate, err)
		}
		break
	}

	_ = godotenv.Load(filepath.Join(cwd, ".env"))
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func configPaths(cwd, dataDir string) []string {
	return []string{
		filepath.Join(cwd, ".pirlm.yaml"),
		filepath.Join(cwd, ".pirlm.yml"),
		filepath.Join(dataDir, "config.yaml"),
	}
}

func mergeYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("PI_RLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("PI_RLM_DEFAULT_MODEL"); v != "" {
		cfg.LLM.DefaultModel = v
	}
	if v := os.Getenv("PI_RLM_DATA_DIR"); v != "" {
		cfg.DataDirectory = v
	}
	if v := os.Getenv("PI_RLM_PYTHON"); v != "" {
		cfg.PythonPath = v
	}
	if os.Getenv("PI_RLM_DEBUG") == "true" {
		cfg.Debug = true
	}
}
