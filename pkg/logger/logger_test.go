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

func newObservedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{zap.New(core)}, logs
}

func TestFieldHelpers(t *testing.T) {
	log, logs := newObservedLogger()
	log.Info("quote",
		StringField("code", "600519"),
		IntField("score", 35),
		Float64Field("price", 1712.5),
	)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "600519", fields["code"])
	assert.Equal(t, int64(35), fields["score"])
	assert.Equal(t, 1712.5, fields["price"])
}

func TestContextLoggingDropsCancelled(t *testing.T) {
	log, logs := newObservedLogger()

	ctx, cancel := context.WithCancel(context.Background())
	log.InfoContext(ctx, "live")
	log.DebugContext(ctx, "live debug")

	cancel()
	log.InfoContext(ctx, "dead")
	log.DebugContext(ctx, "dead debug")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "live", logs.All()[0].Message)
	assert.Equal(t, "live debug", logs.All()[1].Message)
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)

	log, err := New("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, log)
}
