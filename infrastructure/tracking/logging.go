package tracking

import (
	"context"
	"log/slog"

	"github.com/helixml/vecmatch/domain/task"
)

// LoggingReporter implements Reporter by logging status changes.
type LoggingReporter struct {
	logger *slog.Logger
}

// NewLoggingReporter creates a new LoggingReporter.
func NewLoggingReporter(logger *slog.Logger) *LoggingReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingReporter{logger: logger}
}

// OnChange logs the status change.
func (r *LoggingReporter) OnChange(ctx context.Context, status task.Status) error {
	msg := status.Message()
	if msg == "" {
		msg = string(status.State())
	}

	attrs := []any{
		slog.String("operation", status.Operation().String()),
		slog.String("state", string(status.State())),
	}
	if status.Subject() != "" {
		attrs = append(attrs, slog.String("subject", status.Subject()))
	}
	if status.Total() > 0 {
		attrs = append(attrs,
			slog.Int("current", status.Current()),
			slog.Int("total", status.Total()),
			slog.Float64("percent", status.CompletionPercent()),
		)
	}
	attrs = append(attrs, slog.Duration("elapsed", status.Elapsed()))

	switch status.State() {
	case task.ReportingStateFailed:
		r.logger.ErrorContext(ctx, msg, append(attrs, slog.String("error", status.Error()))...)
	case task.ReportingStateSkipped:
		r.logger.WarnContext(ctx, msg, attrs...)
	default:
		r.logger.InfoContext(ctx, msg, attrs...)
	}
	return nil
}
