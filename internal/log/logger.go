package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line.
const ServiceName = "tickerboard"

// NewConfig returns the zap configuration for env: JSON at info level in
// prod, coloured console at debug level otherwise. A non-empty level
// overrides the env default.
func NewConfig(env, level string) (zap.Config, error) {
	var config zap.Config

	if env == "prod" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return config, fmt.Errorf("log level: %w", err)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	config.InitialFields = map[string]any{"service": ServiceName}

	return config, nil
}

func NewLogger(env, level string) (*zap.Logger, error) {
	config, err := NewConfig(env, level)
	if err != nil {
		return nil, err
	}
	return config.Build()
}

func NewSugar(env, level string) (*zap.SugaredLogger, error) {
	logger, err := NewLogger(env, level)
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Component names a sub-logger, e.g. "stream" or "publisher".
func Component(logger *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return logger.Named(name).With("component", name)
}
