package interactive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodeFencedRepl(t *testing.T) {
	resp := "Let me check.\n```repl\nprint(1 + 1)\n```\nDone."
	got := extractCode(resp)
	require.True(t, got.Found)
	assert.Equal(t, "print(1 + 1)", got.Code)
	assert.Contains(t, got.Reasoning, "Let me check.")
	assert.Contains(t, got.Reasoning, "Done.")
}

func TestExtractCodeFencedPython(t *testing.T) {
	resp := "```python\nx = 1\nprint(x)\n```"
	got := extractCode(resp)
	require.True(t, got.Found)
	assert.Equal(t, "x = 1\nprint(x)", got.Code)
}

func TestExtractCodeCombinesReplTagAndPythonFence(t *testing.T) {
	resp := "<repl>FINAL(1)</repl>\n```python\nprint('unused')\n```"
	got := extractCode(resp)
	require.True(t, got.Found)
	assert.Contains(t, got.Code, "FINAL(1)")
	assert.Contains(t, got.Code, "print('unused')")
}

func TestExtractCodeRlmQueryTag(t *testing.T) {
	resp := "<rlm_query>summarize module foo</rlm_query>"
	got := extractCode(resp)
	require.True(t, got.Found)
	assert.Equal(t, `rlm_query("summarize module foo")`, got.Code)
}

func TestExtractCodeLlmQueryTag(t *testing.T) {
	resp := "<llm_query>what does this do?</llm_query>"
	got := extractCode(resp)
	require.True(t, got.Found)
	assert.Equal(t, `llm_query("what does this do?")`, got.Code)
}

func TestExtractCodeToolCallSinglePrompt(t *testing.T) {
	resp := `<tool_call>{"name":"llm_query","prompt":"explain this"}</tool_call>`
	got := extractCode(resp)
	require.True(t, got.Found)
	assert.Equal(t, `llm_query("explain this")`, got.Code)
}

func TestExtractCodeToolCallBatchedPrompts(t *testing.T) {
	resp := `<invoke name="llm_query_batched">{"prompts":["a","b"]}</invoke>`
	got := extractCode(resp)
	require.True(t, got.Found)
	assert.Equal(t, `llm_query_batched(["a","b"])`, got.Code)
}

func TestExtractCodeNoCodeBlock(t *testing.T) {
	resp := "Just some prose with no code at all."
	got := extractCode(resp)
	assert.False(t, got.Found)
	assert.Equal(t, resp, got.Reasoning)
}

func TestExtractCodeConcatenatesMultipleBlocks(t *testing.T) {
	resp := "```repl\na = 1\n```\nsome prose\n```repl\nb = 2\n```"
	got := extractCode(resp)
	require.True(t, got.Found)
	parts := strings.Split(got.Code, "\n\n")
	require.Len(t, parts, 2)
	assert.Equal(t, "a = 1", parts[0])
	assert.Equal(t, "b = 2", parts[1])
}
