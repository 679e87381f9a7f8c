// Package log configures slog for vecmatch and carries run correlation ids.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/helixml/vecmatch/internal/config"
)

type contextKey struct{}

// CorrelationIDAttr is the attribute key under which the run id is logged.
const CorrelationIDAttr = "run_id"

// New creates a logger writing to w in the given format and level. Records
// logged with a context carrying a correlation id are tagged with it.
func New(w io.Writer, format config.LogFormat, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch format {
	case config.LogFormatJSON:
		handler = correlationHandler{next: slog.NewJSONHandler(w, opts)}
	case config.LogFormatText:
		handler = newTerminalHandler(w, opts, false)
	default:
		handler = newTerminalHandler(w, opts, true)
	}
	return slog.New(handler)
}

// Configure builds the logger described by cfg, writing to stderr, and
// installs it as the slog default.
func Configure(cfg config.AppConfig) *slog.Logger {
	l := New(os.Stderr, cfg.LogFormat(), cfg.LogLevel())
	slog.SetDefault(l)
	return l
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewCorrelationID returns a fresh run id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// CorrelationID extracts the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// correlationHandler adds the context's correlation id to each record.
type correlationHandler struct {
	next slog.Handler
}

func (h correlationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h correlationHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := CorrelationID(ctx); id != "" {
		r.AddAttrs(slog.String(CorrelationIDAttr, id))
	}
	return h.next.Handle(ctx, r)
}

func (h correlationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return correlationHandler{next: h.next.WithAttrs(attrs)}
}

func (h correlationHandler) WithGroup(name string) slog.Handler {
	return correlationHandler{next: h.next.WithGroup(name)}
}
