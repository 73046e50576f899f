// Package subcall implements the loopback HTTP surface the interpreter
// host's injected helpers call back into: /llm_query for sub-model
// completions and /rlm_query for recursive child-engine invocations.
package subcall

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	"github.com/pi-rlm/engine/internal/llm"
	"github.com/pi-rlm/engine/internal/resilience"
)

// RecursiveInvoker runs a child interactive engine for an rlm_query call.
// internal/interactive.Controller implements this; subcall never imports
// that package, avoiding an import cycle (the controller owns a Router).
type RecursiveInvoker interface {
	Invoke(ctx context.Context, prompt, model string, depth int) (string, error)
}

// Config configures a Router.
type Config struct {
	Client llm.Client

	// DefaultModel is used when a request omits its model field.
	DefaultModel string

	// MaxDepth bounds rlm_query recursion; at or past this depth a
	// recursive call degrades to a plain completion.
	MaxDepth int

	// MaxLLMCalls is the shared budget across this router and every child
	// controller it spawns. Nil disables the limit.
	MaxLLMCalls *int64

	// LLMConcurrency / RLMConcurrency cap how many llm_query / rlm_query
	// callbacks the host services at once, per spec.md's "10 threads for
	// llm, 5 for rlm". Zero uses the spec defaults.
	LLMConcurrency int
	RLMConcurrency int

	Breakers resilience.BreakerConfig
}

// Router services sub-call HTTP callbacks from one interpreter process tree.
type Router struct {
	client       llm.Client
	defaultModel string
	maxDepth     int
	maxLLMCalls  *int64
	callsUsed    int64

	llmSem *semaphore.Weighted
	rlmSem *semaphore.Weighted

	breakers *resilience.Registry
	invoker  RecursiveInvoker

	tree *CallTree
}

// NewRouter creates a Router. Call SetRecursiveInvoker before the first request if
// rlm_query support is needed; without one, rlm_query always degrades to a
// plain completion.
func NewRouter(cfg Config) *Router {
	llmConcurrency := cfg.LLMConcurrency
	if llmConcurrency <= 0 {
		llmConcurrency = 10
	}
	rlmConcurrency := cfg.RLMConcurrency
	if rlmConcurrency <= 0 {
		rlmConcurrency = 5
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}

	return &Router{
		client:       cfg.Client,
		defaultModel: cfg.DefaultModel,
		maxDepth:     maxDepth,
		maxLLMCalls:  cfg.MaxLLMCalls,
		llmSem:       semaphore.NewWeighted(int64(llmConcurrency)),
		rlmSem:       semaphore.NewWeighted(int64(rlmConcurrency)),
		breakers:     resilience.NewRegistry(cfg.Breakers),
		tree:         newCallTree(),
	}
}

// SetRecursiveInvoker wires the callback used to service rlm_query.
func (r *Router) SetRecursiveInvoker(inv RecursiveInvoker) {
	r.invoker = inv
}

// CallsUsed returns the number of sub-calls serviced so far.
func (r *Router) CallsUsed() int64 {
	return atomic.LoadInt64(&r.callsUsed)
}

// CallTree returns the live call tree for observers.
func (r *Router) CallTree() *CallTree {
	return r.tree
}

// Handler builds the mux the interpreter host's loopback server should
// serve, ready to pass to interp.Host.Start.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/llm_query", r.handleLLMQuery)
	mux.HandleFunc("/rlm_query", r.handleRLMQuery)
	return mux
}

type llmQueryRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type queryResponse struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r *Router) handleLLMQuery(w http.ResponseWriter, req *http.Request) {
	var body llmQueryRequest
	if !decodeJSONBody(w, req, &body) {
		return
	}

	if err := r.llmSem.Acquire(req.Context(), 1); err != nil {
		writeJSON(w, http.StatusOK, queryResponse{Error: "request cancelled"})
		return
	}
	defer r.llmSem.Release(1)

	if !r.reserveCall() {
		writeJSON(w, http.StatusOK, queryResponse{Error: "llm call budget exhausted"})
		return
	}

	model := resolveModel(body.Model, r.defaultModel)
	call := r.tree.start("llm", body.Prompt, model, 0)
	result, err := r.completeWithBreaker(req.Context(), model, body.Prompt)
	if err != nil {
		r.tree.fail(call, err)
		writeJSON(w, http.StatusOK, queryResponse{Error: err.Error()})
		return
	}
	r.tree.succeed(call, result)
	writeJSON(w, http.StatusOK, queryResponse{Result: result})
}

type rlmQueryRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Depth  int    `json:"depth"`
}

func (r *Router) handleRLMQuery(w http.ResponseWriter, req *http.Request) {
	var body rlmQueryRequest
	if !decodeJSONBody(w, req, &body) {
		return
	}

	if err := r.rlmSem.Acquire(req.Context(), 1); err != nil {
		writeJSON(w, http.StatusOK, queryResponse{Error: "request cancelled"})
		return
	}
	defer r.rlmSem.Release(1)

	if !r.reserveCall() {
		writeJSON(w, http.StatusOK, queryResponse{Error: "llm call budget exhausted"})
		return
	}

	model := resolveModel(body.Model, r.defaultModel)

	// Past max depth, or with no recursive invoker wired, degrade to a
	// plain completion rather than failing the call outright.
	if r.invoker == nil || body.Depth >= r.maxDepth {
		call := r.tree.start("rlm_degraded", body.Prompt, model, body.Depth)
		result, err := r.completeWithBreaker(req.Context(), model, body.Prompt)
		if err != nil {
			r.tree.fail(call, err)
			writeJSON(w, http.StatusOK, queryResponse{Error: err.Error()})
			return
		}
		r.tree.succeed(call, result)
		writeJSON(w, http.StatusOK, queryResponse{Result: result})
		return
	}

	call := r.tree.start("rlm", body.Prompt, model, body.Depth)
	result, err := r.invoker.Invoke(req.Context(), body.Prompt, model, body.Depth+1)
	if err != nil {
		r.tree.fail(call, err)
		writeJSON(w, http.StatusOK, queryResponse{Error: err.Error()})
		return
	}
	r.tree.succeed(call, result)
	writeJSON(w, http.StatusOK, queryResponse{Result: result})
}

// completeWithBreaker wraps the client call with a per-model circuit
// breaker and a bounded retry of transient (non-budget) errors.
func (r *Router) completeWithBreaker(ctx context.Context, model, prompt string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("llm client not configured")
	}

	breaker := r.breakers.Get(model)
	var result string

	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	err := breaker.Call(func() error {
		return retry.Do(ctx, backoff, func(ctx context.Context) error {
			out, err := r.client.Complete(ctx, model, prompt, 1024)
			if err != nil {
				if isTransient(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			result = out
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (r *Router) reserveCall() bool {
	if r.maxLLMCalls == nil {
		atomic.AddInt64(&r.callsUsed, 1)
		return true
	}
	for {
		used := atomic.LoadInt64(&r.callsUsed)
		if used >= *r.maxLLMCalls {
			return false
		}
		if atomic.CompareAndSwapInt64(&r.callsUsed, used, used+1) {
			return true
		}
	}
}

func resolveModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

// isTransient classifies network/5xx-shaped errors as retryable, per
// spec.md §7: budget exhaustion must never be retried.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "connection reset", "eof", "503", "502", "429", "temporarily unavailable"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
