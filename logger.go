package faceindex

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with operation-level helpers that keep field
// names consistent across the pipeline.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger over the given handler. A nil handler falls
// back to an info-level text handler on stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger emitting JSON lines to stderr at the
// given minimum level.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger emitting human-readable lines to stderr
// at the given minimum level.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards everything.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithCollection adds a collection_id field to the logger.
func (l *Logger) WithCollection(collectionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection_id", collectionID),
	}
}

// WithRecord adds a record_id field to the logger.
func (l *Logger) WithRecord(recordID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("record_id", recordID),
	}
}

// LogIndex logs an indexing operation.
func (l *Logger) LogIndex(ctx context.Context, recordID, subjectID, collectionID string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index failed",
			"record_id", recordID,
			"subject_id", subjectID,
			"collection_id", collectionID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "index completed",
			"record_id", recordID,
			"subject_id", subjectID,
			"collection_id", collectionID,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, collectionID string, maxResults, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"collection_id", collectionID,
			"max_results", maxResults,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"collection_id", collectionID,
			"max_results", maxResults,
			"results", found,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, recordID string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"record_id", recordID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"record_id", recordID,
		)
	}
}

// LogBatch logs a completed batch run.
func (l *Logger) LogBatch(ctx context.Context, op string, processed, failed, unmigrable int64) {
	if failed > 0 {
		l.WarnContext(ctx, "batch completed with failures",
			"operation", op,
			"processed", processed,
			"failed", failed,
			"unmigrable", unmigrable,
		)
	} else {
		l.InfoContext(ctx, "batch completed",
			"operation", op,
			"processed", processed,
		)
	}
}

// LogDrift logs an inconsistency detected between stores.
func (l *Logger) LogDrift(ctx context.Context, recordID, detail string) {
	l.WarnContext(ctx, "store drift detected",
		"record_id", recordID,
		"detail", detail,
	)
}
