package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAppliesBuiltinDefaults(t *testing.T) {
	tmp := t.TempDir()
	cfg, err := Init(tmp, "", false)
	require.NoError(t, err)

	assert.Equal(t, "generic", cfg.Run.Mode)
	assert.Equal(t, 4, cfg.Run.MaxDepth)
	assert.Equal(t, 300, cfg.Run.MaxLLMCalls)
	assert.Equal(t, 15, cfg.Interactive.MaxIterations)
	assert.Equal(t, filepath.Join(tmp, ".pi", "rlm"), cfg.DataDirectory)
}

func TestInitMergesProjectYAMLOverDefaults(t *testing.T) {
	tmp := t.TempDir()
	yamlContent := "run:\n  max_depth: 6\n  scheduler: dfs\nllm:\n  default_model: anthropic/claude-sonnet\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmp, ".pirlm.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Init(tmp, "", false)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Run.MaxDepth)
	assert.Equal(t, "dfs", cfg.Run.Scheduler)
	assert.Equal(t, "anthropic/claude-sonnet", cfg.LLM.DefaultModel)
	// values untouched by the file keep their built-in default.
	assert.Equal(t, 300, cfg.Run.MaxLLMCalls)
}

func TestInitEnvOverridesBeatYAML(t *testing.T) {
	tmp := t.TempDir()
	yamlContent := "llm:\n  default_model: from-yaml\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmp, ".pirlm.yaml"), []byte(yamlContent), 0o644))

	t.Setenv("PI_RLM_DEFAULT_MODEL", "from-env")
	t.Setenv("OPENROUTER_API_KEY", "sk-test-key")

	cfg, err := Init(tmp, "", false)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.LLM.DefaultModel)
	assert.Equal(t, "sk-test-key", cfg.LLM.APIKey)
}
