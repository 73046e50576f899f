// Package interactive implements the Interactive RLM Controller (C8): a
// per-query loop that drives an interpreter process through model-proposed
// code, detects a final answer, and recurses into child engines on
// rlm_query sub-calls.
package interactive

import (
	"context"
	"fmt"
	"strings"

	"github.com/pi-rlm/engine/internal/interp"
	"github.com/pi-rlm/engine/internal/llm"
)

const (
	defaultMaxIterations = 10
	defaultMaxErrors     = 3
	defaultMaxOutputChars = 4000
	contextPreviewChars   = 500
)

// Interpreter is the subset of interp.Host the controller depends on,
// narrowed to a pure request/response contract so tests can substitute a
// fake without spawning a real interpreter process.
type Interpreter interface {
	Execute(ctx context.Context, code string) (*interp.ExecuteResponse, error)
}

// Config configures a Controller.
type Config struct {
	Client   llm.Client
	Model    string
	ScratchDir string

	MaxIterations int
	MaxErrors     int
	MaxOutputChars int

	Depth    int
	MaxDepth int

	// Budget is shared across the root controller and every child it
	// spawns via rlm_query. The caller constructs it once for the root
	// and the controller threads it through recursive Invoke calls.
	Budget *BudgetTracker

	// SpawnChild builds a child Controller plus its cleanup func for one
	// rlm_query recursion. Required only if Invoke will be called (i.e.
	// this controller is wired as a subcall.RecursiveInvoker).
	SpawnChild ChildFactory
}

// Controller runs one interactive RLM query to completion.
type Controller struct {
	client   llm.Client
	model    string
	scratch  string

	maxIterations  int
	maxErrors      int
	maxOutputChars int

	depth      int
	maxDepth   int
	budget     *BudgetTracker
	spawnChild ChildFactory

	interp Interpreter
	events *emitter
}

// NewController creates a Controller. interpreter is injected so the root
// caller can wire a real interp.Host while tests substitute a fake.
func NewController(cfg Config, interpreter Interpreter) *Controller {
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	maxErrors := cfg.MaxErrors
	if maxErrors <= 0 {
		maxErrors = defaultMaxErrors
	}
	maxOutputChars := cfg.MaxOutputChars
	if maxOutputChars <= 0 {
		maxOutputChars = defaultMaxOutputChars
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	budget := cfg.Budget
	if budget == nil {
		budget = NewBudgetTracker(0, 0, 0)
	}

	return &Controller{
		client:         cfg.Client,
		model:          cfg.Model,
		scratch:        cfg.ScratchDir,
		maxIterations:  maxIterations,
		maxErrors:      maxErrors,
		maxOutputChars: maxOutputChars,
		depth:          cfg.Depth,
		maxDepth:       maxDepth,
		budget:         budget,
		spawnChild:     cfg.SpawnChild,
		interp:         interpreter,
		events:         newEmitter(maxIterations),
	}
}

// Events returns the controller's progress channel. Must be drained
// concurrently with Run if the caller wants live updates; the channel is
// buffered and drops events rather than blocking if unread.
func (c *Controller) Events() <-chan Event {
	return c.events.ch
}

// Result is the outcome of one Run.
type Result struct {
	Answer           string
	Iterations       int
	EarlyTerminated  bool
	TerminationReason string
}

// Run drives the iteration loop of spec.md §4.8 for one query against
// context, returning the final answer.
func (c *Controller) Run(ctx context.Context, query, contextContent string) (*Result, error) {
	defer c.events.close()

	if err := c.loadContext(ctx, contextContent); err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}

	var trajectory []step
	consecutiveErrors := 0

	for iteration := 1; iteration <= c.maxIterations; iteration++ {
		c.events.emit(Event{Type: EventIterationStart, Iteration: iteration})

		if c.budget.DeadlineExceeded() {
			answer, err := c.fallbackAnswer(ctx, query, contextContent, trajectory)
			if err != nil {
				return nil, err
			}
			return &Result{Answer: answer, Iterations: iteration - 1, EarlyTerminated: true, TerminationReason: "wall_clock_deadline_exceeded"}, nil
		}

		prompt := buildIterationPrompt(query, contextContent, trajectory, iteration == 1)

		c.events.emit(Event{Type: EventLLMStart, Iteration: iteration})
		response, err := c.completeRoot(ctx, prompt)
		if err != nil {
			c.events.emit(Event{Type: EventError, Iteration: iteration, Error: err.Error()})
			return nil, fmt.Errorf("root model call failed: %w", err)
		}
		c.events.emit(Event{Type: EventLLMEnd, Iteration: iteration, TokensUsed: len(response) / 4})

		extracted := extractCode(response)
		if !extracted.Found {
			trajectory = append(trajectory, step{
				Iteration: iteration,
				Reasoning: extracted.Reasoning,
				Output:    "No code block found in response.",
			})
			continue
		}

		c.events.emit(Event{Type: EventREPLStart, Iteration: iteration, Code: extracted.Code})
		execResp, err := c.interp.Execute(ctx, extracted.Code)
		if err != nil {
			c.events.emit(Event{Type: EventREPLEnd, Iteration: iteration, Error: err.Error()})
			consecutiveErrors++
			trajectory = append(trajectory, step{
				Iteration: iteration,
				Reasoning: extracted.Reasoning,
				Code:      extracted.Code,
				Output:    "Execution failed: " + err.Error(),
			})
			if consecutiveErrors >= c.maxErrors {
				answer, ferr := c.fallbackAnswer(ctx, query, contextContent, trajectory)
				if ferr != nil {
					return nil, ferr
				}
				return &Result{Answer: answer, Iterations: iteration, EarlyTerminated: true, TerminationReason: "max_consecutive_errors"}, nil
			}
			continue
		}

		if execResp.Result.FinalAnswer != nil {
			c.events.emit(Event{Type: EventFinal, Iteration: iteration, FinalOutput: *execResp.Result.FinalAnswer})
			c.events.emit(Event{Type: EventComplete, Iteration: iteration})
			return &Result{Answer: *execResp.Result.FinalAnswer, Iterations: iteration}, nil
		}
		if execResp.Result.FinalVar != nil {
			c.events.emit(Event{Type: EventFinal, Iteration: iteration, FinalOutput: *execResp.Result.FinalVar})
			c.events.emit(Event{Type: EventComplete, Iteration: iteration})
			return &Result{Answer: *execResp.Result.FinalVar, Iterations: iteration}, nil
		}

		output := formatStepOutput(execResp, c.maxOutputChars)
		c.events.emit(Event{Type: EventREPLEnd, Iteration: iteration, Output: output, Error: derefOrEmpty(execResp.Result.Error)})

		trajectory = append(trajectory, step{
			Iteration: iteration,
			Reasoning: extracted.Reasoning,
			Code:      extracted.Code,
			Output:    output,
		})

		if execResp.Result.Error != nil {
			consecutiveErrors++
			if consecutiveErrors >= c.maxErrors {
				answer, ferr := c.fallbackAnswer(ctx, query, contextContent, trajectory)
				if ferr != nil {
					return nil, ferr
				}
				return &Result{Answer: answer, Iterations: iteration, EarlyTerminated: true, TerminationReason: "max_consecutive_errors"}, nil
			}
		} else {
			consecutiveErrors = 0
		}
	}

	answer, err := c.fallbackAnswer(ctx, query, contextContent, trajectory)
	if err != nil {
		return nil, err
	}
	c.events.emit(Event{Type: EventComplete, Iteration: c.maxIterations, FinalOutput: answer})
	return &Result{Answer: answer, Iterations: c.maxIterations, EarlyTerminated: true, TerminationReason: "max_iterations_reached"}, nil
}

// ChildFactory builds a child Controller plus a cleanup func for one
// rlm_query recursion at depth, sharing the parent's budget tracker. The
// caller (cmd/pirlm or the toolsurface) supplies this because spawning a
// real interp.Host is an I/O-bound concern this package doesn't own
// directly.
type ChildFactory func(ctx context.Context, depth int, budget *BudgetTracker) (*Controller, func(), error)

// Invoke implements subcall.RecursiveInvoker: it runs a fresh child
// Controller sharing this controller's budget tracker, per spec.md §4.8's
// shared-counter semantics, and returns its final answer. Requires
// Config.SpawnChild to have been set at construction.
func (c *Controller) Invoke(ctx context.Context, prompt, model string, depth int) (string, error) {
	if c.spawnChild == nil {
		return "", fmt.Errorf("controller has no child factory configured")
	}

	child, cleanup, err := c.spawnChild(ctx, depth, c.budget)
	if err != nil {
		return "", fmt.Errorf("spawn child engine: %w", err)
	}
	defer cleanup()

	if model != "" {
		child.model = model
	}

	result, err := child.Run(ctx, prompt, "")
	if err != nil {
		return "", err
	}
	return result.Answer, nil
}

func (c *Controller) completeRoot(ctx context.Context, prompt string) (string, error) {
	if !c.budget.ReserveCall() {
		return "", fmt.Errorf("llm call budget exhausted")
	}
	resp, err := c.client.Complete(ctx, c.model, prompt, 2048)
	if err != nil {
		return "", err
	}
	c.budget.RecordTokens(len(resp) / 4)
	return resp, nil
}

func (c *Controller) loadContext(ctx context.Context, content string) error {
	if content == "" {
		return nil
	}
	snippet, err := writeContextFile(c.scratch, content)
	if err != nil {
		return err
	}
	_, err = c.interp.Execute(ctx, snippet)
	return err
}

func (c *Controller) fallbackAnswer(ctx context.Context, query, contextContent string, trajectory []step) (string, error) {
	prompt := buildFallbackPrompt(query, contextContent, trajectory)
	return c.completeRoot(ctx, prompt)
}

type step struct {
	Iteration int
	Reasoning string
	Code      string
	Output    string
}

func buildIterationPrompt(query, contextContent string, trajectory []step, firstIteration bool) string {
	var sb strings.Builder
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Context length: %d characters\n", len(contextContent)))
	if len(contextContent) > 0 {
		preview := contextContent
		if len(preview) > contextPreviewChars {
			preview = preview[:contextPreviewChars]
		}
		sb.WriteString("Context preview:\n")
		sb.WriteString(preview)
		sb.WriteString("\n\n")
	}

	if len(trajectory) > 0 {
		sb.WriteString("Trajectory so far:\n")
		for _, s := range trajectory {
			sb.WriteString(fmt.Sprintf("--- iteration %d ---\n", s.Iteration))
			if s.Reasoning != "" {
				sb.WriteString(s.Reasoning)
				sb.WriteString("\n")
			}
			if s.Code != "" {
				sb.WriteString("```repl\n")
				sb.WriteString(s.Code)
				sb.WriteString("\n```\n")
			}
			sb.WriteString("Output: ")
			sb.WriteString(s.Output)
			sb.WriteString("\n\n")
		}
	}

	if firstIteration {
		sb.WriteString("Explore the context with code before answering. ")
	}
	sb.WriteString("Call FINAL(answer) or SUBMIT(answer) once you have the final answer.\n")
	return sb.String()
}

func buildFallbackPrompt(query, contextContent string, trajectory []step) string {
	var sb strings.Builder
	sb.WriteString("You ran out of iterations without calling FINAL(). ")
	sb.WriteString("Based on the trajectory below, give the single best answer to the query.\n\n")
	sb.WriteString(buildIterationPrompt(query, contextContent, trajectory, false))
	return sb.String()
}

func formatStepOutput(resp *interp.ExecuteResponse, maxChars int) string {
	var sb strings.Builder
	if resp.UserStdout != "" {
		sb.WriteString(resp.UserStdout)
	}
	if resp.Result.Stdout != "" {
		sb.WriteString(resp.Result.Stdout)
	}
	if len(resp.Result.ShowVars) > 0 {
		sb.WriteString("\nVariables:\n")
		for name, repr := range resp.Result.ShowVars {
			sb.WriteString(name)
			sb.WriteString(" = ")
			sb.WriteString(repr)
			sb.WriteString("\n")
		}
	}
	if resp.Result.Stderr != "" {
		sb.WriteString("\nstderr:\n")
		sb.WriteString(resp.Result.Stderr)
	}

	out := sb.String()
	if len(out) > maxChars {
		out = out[:maxChars] + "\n[output truncated]"
	}
	if out == "" {
		out = "(no output)"
	}
	return out
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
