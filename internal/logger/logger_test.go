package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	log, err := New(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	log.Info("bill committed", zap.String("bill_number", "INV000001"))
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"bill_number":"INV000001"`)
}

func TestNewRejectsUnwritableOutput(t *testing.T) {
	_, err := New(Config{Output: filepath.Join(t.TempDir(), "missing", "app.log")})
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	attached := zap.New(core).With(zap.String("request_id", "r-1"))

	ctx := WithContext(context.Background(), attached)
	FromContext(ctx, nil).Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "r-1", logs.All()[0].ContextMap()["request_id"])
	assert.NotNil(t, FromContext(context.Background(), nil))
}
