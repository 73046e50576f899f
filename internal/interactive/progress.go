package interactive

import (
	"fmt"
	"time"
)

// EventType is the kind of progress event emitted during a Run.
type EventType string

const (
	EventIterationStart EventType = "iteration_start"
	EventIterationEnd   EventType = "iteration_end"
	EventLLMStart       EventType = "llm_start"
	EventLLMEnd         EventType = "llm_end"
	EventREPLStart      EventType = "repl_start"
	EventREPLEnd        EventType = "repl_end"
	EventFinal          EventType = "final"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// Event is one point-in-time notification about controller progress,
// exposed over Controller.Events() so a CLI or MCP tool can render live
// iteration progress, per spec.md §5.6.
type Event struct {
	Type          EventType
	Timestamp     time.Time
	Iteration     int
	MaxIterations int
	Message       string
	Duration      time.Duration
	TokensUsed    int
	Code          string
	Output        string
	Error         string
	FinalOutput   string
}

// emitter fans events out to a buffered channel, dropping events rather
// than blocking the controller loop if nobody is draining Events().
type emitter struct {
	ch            chan Event
	maxIterations int
}

func newEmitter(maxIterations int) *emitter {
	return &emitter{ch: make(chan Event, 64), maxIterations: maxIterations}
}

func (e *emitter) emit(ev Event) {
	if e == nil {
		return
	}
	ev.Timestamp = time.Now()
	ev.MaxIterations = e.maxIterations
	select {
	case e.ch <- ev:
	default:
	}
}

func (e *emitter) close() {
	if e == nil {
		return
	}
	close(e.ch)
}

// FormatEvent renders an Event as a single human-readable line. Handles
// multi-digit iteration counts.
func FormatEvent(ev Event) string {
	prefix := fmt.Sprintf("[%d/%d] ", ev.Iteration, ev.MaxIterations)
	if ev.MaxIterations <= 0 {
		prefix = "[interactive] "
	}

	switch ev.Type {
	case EventIterationStart:
		return prefix + "starting iteration"
	case EventIterationEnd:
		return prefix + ev.Duration.Round(time.Millisecond).String()
	case EventLLMStart:
		return prefix + "calling model..."
	case EventLLMEnd:
		return prefix + fmt.Sprintf("model responded (%d tokens)", ev.TokensUsed)
	case EventREPLStart:
		return prefix + "executing: " + firstLine(ev.Code)
	case EventREPLEnd:
		if ev.Error != "" {
			return prefix + "error: " + firstLine(ev.Error)
		}
		return prefix + "executed"
	case EventFinal:
		return prefix + "final answer: " + firstLine(ev.FinalOutput)
	case EventError:
		return prefix + "error: " + ev.Error
	case EventComplete:
		return prefix + "complete in " + ev.Duration.Round(time.Millisecond).String()
	default:
		return prefix + ev.Message
	}
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' || c == '\r' {
			if i > 80 {
				return s[:80] + "..."
			}
			return s[:i]
		}
	}
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
