// Package logging defines the engine's only view of a log sink. spec.md §1
// lists logging as an external collaborator reachable through a specified
// interface only; this mirrors golang.org/x/tools/internal/mcp/logging.go's
// LoggingHandler, which wraps log/slog behind the package's own
// level-translation rather than importing a concrete backend directly.
package logging

import (
	"context"
	"log/slog"
)

// Logger is the engine's logging seam. Implementations backed by zerolog,
// zap, or logrus are all equally valid; Slog is provided as the default
// because it is what the teacher itself reaches for (internal/mcp/logging.go).
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, err error, kv ...any)
}

// Slog adapts a *slog.Logger to Logger.
type Slog struct {
	L *slog.Logger
}

// NewSlog returns a Logger backed by slog.Default() if l is nil.
func NewSlog(l *slog.Logger) Slog {
	if l == nil {
		l = slog.Default()
	}
	return Slog{L: l}
}

func (s Slog) Debug(ctx context.Context, msg string, kv ...any) {
	s.L.DebugContext(ctx, msg, kv...)
}

func (s Slog) Info(ctx context.Context, msg string, kv ...any) {
	s.L.InfoContext(ctx, msg, kv...)
}

func (s Slog) Warn(ctx context.Context, msg string, kv ...any) {
	s.L.WarnContext(ctx, msg, kv...)
}

func (s Slog) Error(ctx context.Context, msg string, err error, kv ...any) {
	args := append([]any{"error", err}, kv...)
	s.L.ErrorContext(ctx, msg, args...)
}

// Nop discards everything; useful as a zero-value-safe default so callers
// of engine.Options never need a nil check.
type Nop struct{}

func (Nop) Debug(context.Context, string, ...any)        {}
func (Nop) Info(context.Context, string, ...any)         {}
func (Nop) Warn(context.Context, string, ...any)         {}
func (Nop) Error(context.Context, string, error, ...any) {}
