package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewConfig(t *testing.T) {
	prod, err := NewConfig("prod", "")
	require.NoError(t, err)
	assert.Equal(t, "json", prod.Encoding)
	assert.Equal(t, zapcore.InfoLevel, prod.Level.Level())
	assert.Equal(t, ServiceName, prod.InitialFields["service"])

	dev, err := NewConfig("dev", "")
	require.NoError(t, err)
	assert.Equal(t, "console", dev.Encoding)
	assert.Equal(t, zapcore.DebugLevel, dev.Level.Level())
	assert.Equal(t, "timestamp", dev.EncoderConfig.TimeKey)
}

func TestNewConfigLevelOverride(t *testing.T) {
	cfg, err := NewConfig("dev", "warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, cfg.Level.Level())

	_, err = NewConfig("prod", "chatty")
	assert.Error(t, err)
	_, err = NewSugar("prod", "chatty")
	assert.Error(t, err)
}

func TestNewSugar(t *testing.T) {
	for _, env := range []string{"dev", "prod"} {
		logger, err := NewSugar(env, "")
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Debugw("built", "env", env)
	}
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Component(zap.New(core).Sugar(), "stream").Infow("connected")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "stream", entries[0].LoggerName)
	assert.Equal(t, "stream", entries[0].ContextMap()["component"])
}
