// Package logger provides the process-wide structured logger shared by every
// package in llmrouter. It mirrors the teacher's common/logger convention: a
// package-level *zap.Logger built once at startup and a context accessor for
// handlers that run outside of a gin request.
package logger

import (
	"context"
	"os"

	"github.com/Laisky/zap"
)

// Logger is the process-wide structured logger. Init replaces it; until
// Init is called it is a usable development-mode logger so packages that
// log during tests never see a nil pointer.
var Logger = mustDevelopment()

func mustDevelopment() *zap.Logger {
	lg, err := zap.NewDevelopment()
	if err != nil {
		// zap's development config is static and cannot fail in practice;
		// fall back to a no-op logger rather than panic at import time.
		return zap.NewNop()
	}
	return lg
}

// Init rebuilds the global logger for the given level ("debug", "info",
// "warn", "error") and output format. It is called once from cmd/llmrouter
// after the environment has been loaded.
func Init(level string, jsonFormat bool) error {
	var cfg zap.Config
	if jsonFormat {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	zapLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		Logger.Warn("invalid log level, defaulting to info", zap.String("level", level))
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = zapLevel
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	lg, err := cfg.Build()
	if err != nil {
		return err
	}
	Logger = lg
	return nil
}

type ctxKey struct{}

// WithLogger attaches a logger to ctx for downstream retrieval via FromContext.
func WithLogger(ctx context.Context, lg *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, lg)
}

// FromContext returns the logger attached to ctx, or the global Logger if none
// was attached.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Logger
	}
	if lg, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && lg != nil {
		return lg
	}
	return Logger
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = Logger.Sync()
}

// FatalOnInitError is used by cmd/llmrouter when a start-up dependency is
// missing; kept here so the exit-code convention lives next to the logger.
func FatalOnInitError(msg string, err error) {
	if err == nil {
		return
	}
	Logger.Fatal(msg, zap.Error(err))
	os.Exit(1)
}
