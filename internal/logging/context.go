package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldNodeID is the standardized structured logging key for pipeline node identifiers.
	FieldNodeID = "node_id"
	// FieldStage is the standardized structured logging key for stage kinds.
	FieldStage = "stage"
	// FieldEngine is the standardized structured logging key for TTS engine identifiers.
	FieldEngine = "engine"
	// FieldEventType is the standardized structured logging key for lifecycle event names.
	FieldEventType = "event_type"
	// FieldAttempt is the standardized structured logging key for retry attempt counters.
	FieldAttempt = "attempt"
	// FieldArtifactKey is the standardized structured logging key for artifact store keys.
	FieldArtifactKey = "artifact_key"
)

type contextKey int

const (
	ctxKeyJobID contextKey = iota
	ctxKeyStage
	ctxKeyNodeID
)

// WithJob attaches a job identifier to the context for downstream loggers.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ctxKeyJobID, jobID)
}

// WithStage attaches a stage kind to the context for downstream loggers.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ctxKeyStage, stage)
}

// WithNode attaches a pipeline node identifier to the context.
func WithNode(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, ctxKeyNodeID, nodeID)
}

// JobFromContext extracts the job identifier carried by ctx, if any.
func JobFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(ctxKeyJobID).(string)
	return value, ok && value != ""
}

// StageFromContext extracts the stage kind carried by ctx, if any.
func StageFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(ctxKeyStage).(string)
	return value, ok && value != ""
}

// NodeFromContext extracts the node identifier carried by ctx, if any.
func NodeFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(ctxKeyNodeID).(string)
	return value, ok && value != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := JobFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if stage, ok := StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if node, ok := NodeFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldNodeID, node))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
