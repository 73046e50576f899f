// Package obslog wires log/slog, the lineage's logging library of choice,
// to a rotating per-run file sink under <base>/<run_id>/logs/engine.log.
package obslog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a run logger.
type Options struct {
	// LogsDir is the run's logs/ directory (created if missing).
	LogsDir string
	// Debug enables slog.LevelDebug; otherwise slog.LevelInfo is the floor.
	Debug bool
	// AlsoStderr mirrors every record to os.Stderr in addition to the file,
	// useful for CLI invocations (cmd/pirlm) that want live output.
	AlsoStderr bool
}

// RunLogger pairs a *slog.Logger scoped to one run with the rotating sink
// backing it, so callers can Close it when the run finishes.
type RunLogger struct {
	*slog.Logger
	sink io.Closer
}

// New opens (creating LogsDir if needed) a RunLogger writing
// engine.log, rotated by lumberjack at 10 MiB / 5 backups / 28 days, per
// the lineage's logging posture of always rotating run-scoped log files.
func New(opts Options, runID string) (*RunLogger, error) {
	if err := os.MkdirAll(opts.LogsDir, 0o755); err != nil {
		return nil, err
	}

	sink := &lumberjack.Logger{
		Filename:   filepath.Join(opts.LogsDir, "engine.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}

	var writer io.Writer = sink
	if opts.AlsoStderr {
		writer = io.MultiWriter(sink, os.Stderr)
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(slog.String("run_id", runID))

	return &RunLogger{Logger: logger, sink: sink}, nil
}

// Close flushes and closes the underlying rotating file sink.
func (r *RunLogger) Close() error {
	if r == nil || r.sink == nil {
		return nil
	}
	return r.sink.Close()
}

// Node returns a child logger with node_id bound, for per-node structured
// fields rather than formatted strings.
func (r *RunLogger) Node(nodeID string) *slog.Logger {
	return r.Logger.With(slog.String("node_id", nodeID))
}

// Iteration returns a child logger with iteration bound, for the
// interactive controller's per-iteration logging.
func (r *RunLogger) Iteration(n int) *slog.Logger {
	return r.Logger.With(slog.Int("iteration", n))
}
