package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	prev := globalLogger
	defer func() { globalLogger = prev }()

	require.NoError(t, Init(&Config{Level: "warn", Format: "console", ServiceName: "test"}))
	assert.False(t, L().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, L().Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, Init(&Config{Level: "bogus", ServiceName: "test"}))
	assert.True(t, L().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, L().Core().Enabled(zapcore.DebugLevel))
}

func TestNewContext_CarriesFields(t *testing.T) {
	prev := globalLogger
	defer func() { globalLogger = prev }()

	core, logs := observer.New(zapcore.DebugLevel)
	globalLogger = zap.New(core)

	ctx := NewContext(context.Background(), zap.String("message_id", "m1"))
	ctx = NewContext(ctx, zap.String("topic", "t1"))
	WithContext(ctx).Info("handled")
	WithContext(context.Background()).Info("plain")

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "m1", fields["message_id"])
	assert.Equal(t, "t1", fields["topic"])
	assert.Empty(t, entries[1].ContextMap())
}
