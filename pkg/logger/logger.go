// Package logger builds the zap logger shared by the signer binary and
// its collaborators. It mirrors the structured, Sugar()-based logging
// idiom used throughout the teacher's node: one process-wide logger,
// built once at startup and threaded through every component via
// dependency injection rather than a package-level global.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the process logger is built.
type Config struct {
	// Debug enables debug-level logging and a human-readable console
	// encoder instead of the production JSON encoder.
	Debug bool
}

// New builds a zap.Logger from cfg. A nil cfg is treated as the
// production default (Debug: false).
func New(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.Debug {
		zcfg := zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		l, err := zcfg.Build()
		if err != nil {
			return nil, fmt.Errorf("logger: building development logger: %w", err)
		}
		return l, nil
	}

	l, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logger: building production logger: %w", err)
	}
	return l, nil
}

// NewNop returns a logger that discards everything, for use in tests
// and library callers that don't want signer logs on stderr.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
