// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package logging contains the logging functionality for the session lifecycle service.
package logging

import (
	"context"
	"log"
	"log/slog"
	"os"

	slogotel "github.com/remychantenay/slog-otel"
)

type ctxKey string

// Public constants
const (
	ErrKey = "error"
)

// Private constants
const (
	slogFields      ctxKey = "slog_fields"
	logLevelDefault        = slog.LevelInfo

	// Log levels
	debug = "debug"
	warn  = "warn"
	err   = "error"
	info  = "info"

	// Log field for critical errors, such as ledger integrity violations.
	priorityCritical = "critical"
)

var level = new(slog.LevelVar)

type contextHandler struct {
	slog.Handler
}

// Handle adds contextual attributes to the Record before calling the underlying handler
func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		for _, v := range attrs {
			r.AddAttrs(v)
		}
	}

	return h.Handler.Handle(ctx, r)
}

// NewContextHandler wraps h so records include the attributes added with
// AppendCtx.
func NewContextHandler(h slog.Handler) slog.Handler {
	return contextHandler{h}
}

// AppendCtx adds an slog attribute to the provided context so that it will be
// included in any Record created with such context
func AppendCtx(parent context.Context, attr slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if v, ok := parent.Value(slogFields).([]slog.Attr); ok {
		// copy so sibling contexts never share a backing array
		next := make([]slog.Attr, len(v), len(v)+1)
		copy(next, v)
		next = append(next, attr)
		return context.WithValue(parent, slogFields, next)
	}

	return context.WithValue(parent, slogFields, []slog.Attr{attr})
}

// WithOperation tags every record logged with ctx with the batch operation name.
func WithOperation(parent context.Context, operation string) context.Context {
	return AppendCtx(parent, slog.String("operation", operation))
}

// InitStructureLogConfig sets the structured log behavior. Records carry the
// active trace and span ids when a span is present on the context.
func InitStructureLogConfig() slog.Handler {
	logOptions := &slog.HandlerOptions{Level: level}
	var h slog.Handler

	// Configure log level
	switch os.Getenv("LOG_LEVEL") {
	case debug:
		level.Set(slog.LevelDebug)
	case warn:
		level.Set(slog.LevelWarn)
	case err:
		level.Set(slog.LevelError)
	case info:
		level.Set(slog.LevelInfo)
	default:
		level.Set(logLevelDefault)
	}

	// Configure source information
	addSource := os.Getenv("LOG_ADD_SOURCE")
	logOptions.AddSource = addSource == "true" || addSource == "t" || addSource == "1"

	h = slog.NewJSONHandler(os.Stdout, logOptions)
	h = slogotel.OtelHandler{Next: h}
	log.SetFlags(log.Llongfile)
	slog.SetDefault(slog.New(NewContextHandler(h)))

	slog.Info("log config",
		"logLevel", level.Level(),
		"addSource", logOptions.AddSource,
	)

	return h
}

// SetVerbose lowers the level to debug, used by the -verbose batch option.
func SetVerbose(verbose bool) {
	if verbose {
		level.Set(slog.LevelDebug)
	}
}

// Level returns the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// Priority creates a slog.Attr for error priority classification
func Priority(level string) slog.Attr {
	return slog.String("priority", level)
}

// PriorityCritical creates a slog.Attr for critical errors
// this is used to identify critical errors in the logs
// the ones that should be escalated to the team
func PriorityCritical() slog.Attr {
	return Priority(priorityCritical)
}
