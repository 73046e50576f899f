package llm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAICompatClientRequiresAPIKey(t *testing.T) {
	os.Unsetenv("OPENROUTER_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")

	_, err := NewOpenAICompatClient(Config{})
	assert.Error(t, err)
}

func TestNewOpenAICompatClientUsesEnvFallback(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "test-key")

	client, err := NewOpenAICompatClient(Config{})
	require.NoError(t, err)
	assert.NotNil(t, client)
}
