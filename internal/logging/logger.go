// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/glossifier-terms/internal/config"
)

// New builds a zap.Logger that appends one plain-text line per entry to the
// shared glossifier log file, optionally mirrored to stderr.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.Sampling = nil
	}
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zcfg.DisableStacktrace = true

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	outputs := make([]string, 0, 2)
	if cfg.File != "" {
		outputs = append(outputs, cfg.File)
	}
	if cfg.Stderr || len(outputs) == 0 {
		outputs = append(outputs, "stderr")
	}
	zcfg.OutputPaths = outputs
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
