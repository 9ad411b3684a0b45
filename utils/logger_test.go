package utils

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerCarriesContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetDefault(zap.New(core))

	ctx := WithClientID(WithCorrelationID(context.Background(), "corr-1"), "client-9")
	Info(ctx, "transaction created", map[string]interface{}{
		"unique_id": "TX1",
		"error":     errors.New("ignored"),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "transaction created", entries[0].Message)
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.Equal(t, "client-9", fields["client_id"])
	assert.Equal(t, "TX1", fields["unique_id"])
	assert.Equal(t, "ignored", fields["error"])
}

func TestNamedLoggerAddsComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetDefault(zap.New(core))

	logger := NewLogger("dispatcher")
	logger.Debug(context.Background(), "dropped below level")
	logger.Warn(context.Background(), "provider slow")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "dispatcher", entries[0].ContextMap()["component"])
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestContextAccessorsOnEmptyContext(t *testing.T) {
	assert.Empty(t, GetCorrelationID(context.Background()))
	assert.Empty(t, GetClientID(context.Background()))
}
