// Package logctx carries a zerolog logger through context.Context.
//
// The ingest run attaches a run-scoped logger once, and each stage narrows
// it with the fields it knows about:
//
//	ctx, runID := logctx.WithRunID(ctx, baseLogger)
//	ctx = logctx.WithFile(ctx, "state-2012-03-15.csv")
//	log := logctx.FromContext(ctx)
//	log.Info().Msg("file started") // carries run_id and file
package logctx

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type loggerKey struct{}

var (
	defaultLogger     zerolog.Logger
	defaultLoggerOnce sync.Once
)

func initDefaultLogger() {
	defaultLoggerOnce.Do(func() {
		defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
}

// DefaultLogger returns the logger used when a context carries none.
func DefaultLogger() zerolog.Logger {
	initDefaultLogger()
	return defaultLogger
}

// SetDefaultLogger overrides the default logger. Call it from main before
// any goroutines start.
func SetDefaultLogger(l zerolog.Logger) {
	initDefaultLogger()
	defaultLogger = l
}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the context's logger, or the default logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// WithRunID attaches base enriched with a fresh run_id and returns the id.
func WithRunID(ctx context.Context, base zerolog.Logger) (context.Context, string) {
	id := uuid.NewString()
	return WithLogger(ctx, base.With().Str("run_id", id).Logger()), id
}

// WithFile adds the input file name to the context logger.
func WithFile(ctx context.Context, name string) context.Context {
	return WithStr(ctx, "file", name)
}

// WithStr adds a string field to the context logger.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithInt adds an int field to the context logger.
func WithInt(ctx context.Context, key string, value int) context.Context {
	logger := FromContext(ctx).With().Int(key, value).Logger()
	return WithLogger(ctx, logger)
}
