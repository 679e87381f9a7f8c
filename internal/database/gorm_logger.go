package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slogGormLogger routes GORM's logging through slog. SQL tracing is emitted
// at Debug so the query text is only formatted when debug logging is on.
type slogGormLogger struct {
	log *slog.Logger
}

func newSlogGormLogger(log *slog.Logger) slogGormLogger {
	if log == nil {
		log = slog.Default()
	}
	return slogGormLogger{log: log.With("component", "gorm")}
}

// LogMode is a no-op; level filtering is handled by slog.
func (l slogGormLogger) LogMode(logger.LogLevel) logger.Interface { return l }

// Info logs informational messages from GORM.
func (l slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	l.log.InfoContext(ctx, fmt.Sprintf(msg, args...))
}

// Warn logs warning messages from GORM.
func (l slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.log.WarnContext(ctx, fmt.Sprintf(msg, args...))
}

// Error logs error messages from GORM.
func (l slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	l.log.ErrorContext(ctx, fmt.Sprintf(msg, args...))
}

const maxSQLLength = 200

// truncateSQL keeps the head and tail of long statements; batch inserts
// otherwise flood the log with vector literals.
func truncateSQL(sql string) string {
	if len(sql) <= maxSQLLength {
		return sql
	}
	half := (maxSQLLength - 3) / 2
	return sql[:half] + "..." + sql[len(sql)-half:]
}

// Trace is called by GORM after every SQL operation.
// ErrRecordNotFound is a normal outcome and is traced like a success.
func (l slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		sql, rows := fc()
		l.log.ErrorContext(ctx, "query failed",
			"sql", truncateSQL(sql),
			"rows", rows,
			"duration", elapsed,
			"error", err,
		)
		return
	}

	if !l.log.Enabled(ctx, slog.LevelDebug) {
		return
	}

	sql, rows := fc()
	l.log.DebugContext(ctx, "query",
		"sql", truncateSQL(sql),
		"rows", rows,
		"duration", elapsed,
	)
}
