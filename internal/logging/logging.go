// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/h1v3-io/swarm/internal/logbuf"
)

// Options selects the logger configuration.
type Options struct {
	Level string // debug, info, warn or error; default info
	Dev   bool   // human-readable console output
	// Buffer, when set, also receives every entry regardless of Level.
	Buffer *logbuf.Buffer
}

// New builds the root logger. Callers should Sync it on shutdown.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Dev {
		cfg = zap.NewDevelopmentConfig()
	}
	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	var buildOpts []zap.Option
	if opts.Buffer != nil {
		buf := opts.Buffer
		buildOpts = append(buildOpts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, logbuf.NewCore(buf))
		}))
	}
	log, err := cfg.Build(buildOpts...)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return log, nil
}
