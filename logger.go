package annex

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with catalog-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))}
}

// WithMediaID adds a media_id field to the logger.
func (l *Logger) WithMediaID(mediaID string) *Logger {
	return &Logger{Logger: l.With("media_id", mediaID)}
}

// WithRowID adds a row_id field to the logger.
func (l *Logger) WithRowID(rowID uint32) *Logger {
	return &Logger{Logger: l.With("row_id", rowID)}
}

// WithK adds a k (neighbor count) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{Logger: l.With("k", k)}
}

// LogIngest logs an embedding ingest.
func (l *Logger) LogIngest(ctx context.Context, mediaID string, rowID uint32, deduplicated bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingest failed",
			"media_id", mediaID,
			"error", err,
		)
		return
	}
	if deduplicated {
		l.DebugContext(ctx, "ingest deduplicated",
			"media_id", mediaID,
			"row_id", rowID,
		)
		return
	}
	l.DebugContext(ctx, "ingest completed",
		"media_id", mediaID,
		"row_id", rowID,
	)
}

// LogSearch logs a search.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogRebuild logs an index rebuild.
func (l *Logger) LogRebuild(ctx context.Context, rows uint32, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"rows", rows,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebuild completed",
			"rows", rows,
			"duration", duration,
		)
	}
}

// LogDelete logs a media delete.
func (l *Logger) LogDelete(ctx context.Context, mediaID string, freedRows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"media_id", mediaID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "delete completed",
			"media_id", mediaID,
			"freed_rows", freedRows,
		)
	}
}

// LogSnapshot logs a snapshot publish or restore.
func (l *Logger) LogSnapshot(ctx context.Context, op, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"op", op,
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot completed",
			"op", op,
			"name", name,
		)
	}
}
