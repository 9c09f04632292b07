// Package logging provides the structured logger used by every
// adapter and stage (spec.md §4.1 "structured logger"), built on
// go.uber.org/zap.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style zap.Logger at the given level
// ("DEBUG", "INFO", "WARN", "ERROR" — spec.md §6.4 LOG_LEVEL).
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// StageLogger returns a child logger tagged with the owning stage name,
// so every log line carries its origin without callers repeating it.
func StageLogger(base *zap.Logger, stage string) *zap.Logger {
	return base.With(zap.String("stage", stage))
}
