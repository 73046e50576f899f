package subcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	calls    int64
	response string
	err      error
}

func (f *fakeClient) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeInvoker struct {
	result string
	err    error
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt, model string, depth int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func postJSON(t *testing.T, router *Router, path string, body any) queryResponse {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, req)

	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleLLMQuerySuccess(t *testing.T) {
	client := &fakeClient{response: "hello"}
	router := NewRouter(Config{Client: client, DefaultModel: "test-model"})

	resp := postJSON(t, router, "/llm_query", llmQueryRequest{Prompt: "hi"})
	assert.Empty(t, resp.Error)
	assert.Equal(t, "hello", resp.Result)
	assert.EqualValues(t, 1, router.CallsUsed())

	snapshot := router.CallTree().Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, StatusSucceeded, snapshot[0].Status)
	assert.Equal(t, "llm", snapshot[0].Type)
}

func TestHandleLLMQueryBudgetExhausted(t *testing.T) {
	client := &fakeClient{response: "hello"}
	budget := int64(1)
	router := NewRouter(Config{Client: client, DefaultModel: "test-model", MaxLLMCalls: &budget})

	first := postJSON(t, router, "/llm_query", llmQueryRequest{Prompt: "hi"})
	assert.Empty(t, first.Error)

	second := postJSON(t, router, "/llm_query", llmQueryRequest{Prompt: "hi again"})
	assert.Contains(t, second.Error, "budget exhausted")
}

func TestHandleRLMQueryDegradesWithoutInvoker(t *testing.T) {
	client := &fakeClient{response: "direct answer"}
	router := NewRouter(Config{Client: client, DefaultModel: "test-model"})

	resp := postJSON(t, router, "/rlm_query", rlmQueryRequest{Prompt: "recurse", Depth: 0})
	assert.Empty(t, resp.Error)
	assert.Equal(t, "direct answer", resp.Result)

	snapshot := router.CallTree().Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "rlm_degraded", snapshot[0].Type)
}

func TestHandleRLMQueryDegradesAtMaxDepth(t *testing.T) {
	client := &fakeClient{response: "direct answer"}
	router := NewRouter(Config{Client: client, DefaultModel: "test-model", MaxDepth: 2})
	router.SetRecursiveInvoker(&fakeInvoker{result: "should not be used"})

	resp := postJSON(t, router, "/rlm_query", rlmQueryRequest{Prompt: "recurse", Depth: 2})
	assert.Equal(t, "direct answer", resp.Result)
}

func TestHandleRLMQueryInvokesChildController(t *testing.T) {
	client := &fakeClient{response: "should not be used"}
	router := NewRouter(Config{Client: client, DefaultModel: "test-model", MaxDepth: 5})
	router.SetRecursiveInvoker(&fakeInvoker{result: "child answer"})

	resp := postJSON(t, router, "/rlm_query", rlmQueryRequest{Prompt: "recurse", Depth: 0})
	assert.Empty(t, resp.Error)
	assert.Equal(t, "child answer", resp.Result)

	snapshot := router.CallTree().Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "rlm", snapshot[0].Type)
}

func TestHandleLLMQueryPropagatesClientError(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("unauthorized")}
	router := NewRouter(Config{Client: client, DefaultModel: "test-model"})

	resp := postJSON(t, router, "/llm_query", llmQueryRequest{Prompt: "hi"})
	assert.Contains(t, resp.Error, "unauthorized")
}
