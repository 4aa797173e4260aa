// Package logging constructs the structured logger shared by every binary.
// The teacher's cmd entrypoints import a pkg/logger package with this exact
// call shape (logger.Sugar().Infow(...)) but that package was not part of
// the retrieved source; it is reconstructed here from its call sites.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Development enables human-readable console output instead of JSON.
	Development bool
}

// New builds a *zap.Logger per cfg, defaulting to info/JSON.
func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(orDefault(cfg.Level, "info"))); err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// Named wraps New and also tags the logger with a "component" field, the
// way each cmd binary names its own module.
func Named(cfg Config, component string) (*zap.Logger, error) {
	logger, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("component", component)), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
