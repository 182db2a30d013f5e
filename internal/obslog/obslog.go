// Package obslog builds the gateway's zap-backed structured logger and
// bridges pkg/shared/logging.Fields into zap.Field slices, so every
// component that assembles a Fields value the shared way can hand it
// straight to a *zap.Logger without re-deriving the field names.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/priorauth/pagw/pkg/shared/logging"
)

// Config controls the logger's encoding and verbosity.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Development selects a human-readable console encoder instead of JSON.
	Development bool
}

// New builds a *zap.Logger per Config. An unrecognized Level falls back to
// info rather than failing startup over a typo in an operator's config file.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapCfg.Build()
}

// ToZapFields converts a logging.Fields map into a zap.Field slice. Value
// types outside zap's Any-supported set still log correctly via zap.Any;
// this exists so callers never hand-roll the conversion per call site.
func ToZapFields(f logging.Fields) []zap.Field {
	fields := make([]zap.Field, 0, len(f))
	for k, v := range f {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

// With returns a child logger with the given Fields attached, the
// zap-backed equivalent of logrus's WithFields used elsewhere in the
// gateway (internal/database).
func With(logger *zap.Logger, f logging.Fields) *zap.Logger {
	return logger.With(ToZapFields(f)...)
}
