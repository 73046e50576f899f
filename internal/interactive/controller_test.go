package interactive

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-rlm/engine/internal/interp"
)

type fakeLLMClient struct {
	responses []string
	call      int
}

func (f *fakeLLMClient) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	if f.call >= len(f.responses) {
		return "", fmt.Errorf("no more fake responses configured")
	}
	r := f.responses[f.call]
	f.call++
	return r, nil
}

type fakeInterpreter struct {
	responses []*interp.ExecuteResponse
	call      int
	executed  []string
}

func (f *fakeInterpreter) Execute(ctx context.Context, code string) (*interp.ExecuteResponse, error) {
	f.executed = append(f.executed, code)
	if code[:5] == "with " { // context-load snippet
		return &interp.ExecuteResponse{Result: interp.Result{}}, nil
	}
	if f.call >= len(f.responses) {
		return nil, fmt.Errorf("no more fake responses configured")
	}
	r := f.responses[f.call]
	f.call++
	return r, nil
}

func strPtr(s string) *string { return &s }

func TestControllerRunReturnsFinalAnswerOnFirstIteration(t *testing.T) {
	client := &fakeLLMClient{responses: []string{"```repl\nFINAL(42)\n```"}}
	interpr := &fakeInterpreter{responses: []*interp.ExecuteResponse{
		{Result: interp.Result{Submitted: true, FinalAnswer: strPtr("42")}},
	}}

	ctrl := NewController(Config{Client: client, Model: "test-model"}, interpr)
	result, err := ctrl.Run(context.Background(), "what is 6*7?", "")
	require.NoError(t, err)
	assert.Equal(t, "42", result.Answer)
	assert.Equal(t, 1, result.Iterations)
	assert.False(t, result.EarlyTerminated)
}

func TestControllerRunReturnsFinalVarOnFirstIteration(t *testing.T) {
	client := &fakeLLMClient{responses: []string{"```repl\nanswer = 6*7\nFINAL_VAR(\"answer\")\n```"}}
	interpr := &fakeInterpreter{responses: []*interp.ExecuteResponse{
		{Result: interp.Result{Submitted: true, FinalVar: strPtr("42")}},
	}}

	ctrl := NewController(Config{Client: client, Model: "test-model"}, interpr)
	result, err := ctrl.Run(context.Background(), "what is 6*7?", "")
	require.NoError(t, err)
	assert.Equal(t, "42", result.Answer)
	assert.Equal(t, 1, result.Iterations)
	assert.False(t, result.EarlyTerminated)
}

func TestControllerRunContinuesWhenNoCodeBlock(t *testing.T) {
	client := &fakeLLMClient{responses: []string{
		"just thinking out loud, no code yet",
		"```repl\nFINAL(\"done\")\n```",
	}}
	interpr := &fakeInterpreter{responses: []*interp.ExecuteResponse{
		{Result: interp.Result{Submitted: true, FinalAnswer: strPtr("done")}},
	}}

	ctrl := NewController(Config{Client: client, Model: "test-model"}, interpr)
	result, err := ctrl.Run(context.Background(), "query", "")
	require.NoError(t, err)
	assert.Equal(t, "done", result.Answer)
	assert.Equal(t, 2, result.Iterations)
}

func TestControllerRunFallsBackAfterMaxIterations(t *testing.T) {
	client := &fakeLLMClient{responses: []string{
		"```repl\nprint('still thinking')\n```",
		"```repl\nprint('still thinking')\n```",
		"this is my best summary answer",
	}}
	interpr := &fakeInterpreter{responses: []*interp.ExecuteResponse{
		{Result: interp.Result{Stdout: "still thinking\n"}},
		{Result: interp.Result{Stdout: "still thinking\n"}},
	}}

	ctrl := NewController(Config{Client: client, Model: "test-model", MaxIterations: 2}, interpr)
	result, err := ctrl.Run(context.Background(), "query", "")
	require.NoError(t, err)
	assert.Equal(t, "this is my best summary answer", result.Answer)
	assert.True(t, result.EarlyTerminated)
	assert.Equal(t, "max_iterations_reached", result.TerminationReason)
}

func TestControllerRunAbortsAfterMaxConsecutiveErrors(t *testing.T) {
	client := &fakeLLMClient{responses: []string{
		"```repl\nraise ValueError('boom')\n```",
		"```repl\nraise ValueError('boom')\n```",
		"fallback answer after errors",
	}}
	interpr := &fakeInterpreter{responses: []*interp.ExecuteResponse{
		{Result: interp.Result{Error: strPtr("ValueError: boom")}},
		{Result: interp.Result{Error: strPtr("ValueError: boom")}},
	}}

	ctrl := NewController(Config{Client: client, Model: "test-model", MaxIterations: 5, MaxErrors: 2}, interpr)
	result, err := ctrl.Run(context.Background(), "query", "")
	require.NoError(t, err)
	assert.Equal(t, "fallback answer after errors", result.Answer)
	assert.Equal(t, "max_consecutive_errors", result.TerminationReason)
}

func TestControllerRunLoadsContextBeforeFirstIteration(t *testing.T) {
	client := &fakeLLMClient{responses: []string{"```repl\nFINAL(1)\n```"}}
	interpr := &fakeInterpreter{responses: []*interp.ExecuteResponse{
		{Result: interp.Result{Submitted: true, FinalAnswer: strPtr("1")}},
	}}

	scratch := t.TempDir()
	ctrl := NewController(Config{Client: client, Model: "test-model", ScratchDir: scratch}, interpr)
	_, err := ctrl.Run(context.Background(), "query", "some long context")
	require.NoError(t, err)
	require.Len(t, interpr.executed, 2)
	assert.Contains(t, interpr.executed[0], "context.txt")
}

func TestControllerInvokeSpawnsChildAndReturnsAnswer(t *testing.T) {
	parentClient := &fakeLLMClient{}
	parentInterp := &fakeInterpreter{}
	budget := NewBudgetTracker(0, 0, 0)

	childClient := &fakeLLMClient{responses: []string{"```repl\nFINAL(\"child answer\")\n```"}}
	childInterp := &fakeInterpreter{responses: []*interp.ExecuteResponse{
		{Result: interp.Result{Submitted: true, FinalAnswer: strPtr("child answer")}},
	}}

	spawnChild := func(ctx context.Context, depth int, b *BudgetTracker) (*Controller, func(), error) {
		child := NewController(Config{Client: childClient, Model: "test-model", Depth: depth, Budget: b}, childInterp)
		return child, func() {}, nil
	}

	ctrl := NewController(Config{Client: parentClient, Model: "test-model", Budget: budget, SpawnChild: spawnChild}, parentInterp)
	answer, err := ctrl.Invoke(context.Background(), "recurse please", "", 1)
	require.NoError(t, err)
	assert.Equal(t, "child answer", answer)
}

func TestControllerInvokeWithoutFactoryErrors(t *testing.T) {
	ctrl := NewController(Config{Client: &fakeLLMClient{}, Model: "test-model"}, &fakeInterpreter{})
	_, err := ctrl.Invoke(context.Background(), "recurse", "", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no child factory")
}

func TestControllerRunBudgetExhaustedFailsRootCall(t *testing.T) {
	client := &fakeLLMClient{responses: []string{"should not be reached"}}
	interpr := &fakeInterpreter{}

	capped := NewBudgetTracker(1, 0, 0)
	capped.ReserveCall() // consume the only call before Run starts

	ctrl := NewController(Config{Client: client, Model: "test-model", Budget: capped}, interpr)
	_, err := ctrl.Run(context.Background(), "query", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget exhausted")
}
