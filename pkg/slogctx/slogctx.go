// Package slogctx carries a *slog.Logger in a context.Context so library code
// can log without taking a logger parameter.
package slogctx

import (
	"context"
	"log/slog"
)

type _ctxKey struct{}

// ContextWithLogger returns a new context carrying the given logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, _ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default() if none.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(_ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// With returns a context whose logger is the current one extended with attrs.
// Every record logged through the returned context carries them.
func With(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return ContextWithLogger(ctx, FromContext(ctx).With(args...))
}
