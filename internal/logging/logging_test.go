package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultLevel(t *testing.T) {
	logger := New("", "text")
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNew_DebugLevel(t *testing.T) {
	logger := New("debug", "text")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNew_ErrorLevel(t *testing.T) {
	logger := New("error", "text")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo), "info should be disabled at error level")
}

func TestNewWithWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	logger.Info("session opened", "session_id", "sess_1")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"), "expected JSON output, got %q", out)
	assert.Contains(t, out, `"session_id":"sess_1"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestWithSessionID_And_SessionID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, SessionID(ctx))

	ctx = WithSessionID(ctx, "sess_123")
	assert.Equal(t, "sess_123", SessionID(ctx))

	ctx = WithSessionID(ctx, "sess_456")
	assert.Equal(t, "sess_456", SessionID(ctx))
}

func TestWithLogger_And_FromContext(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, FromContext(ctx))

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	assert.Same(t, custom, FromContext(ctx))
}

func TestL_DecoratesSessionID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "text"))
	ctx = WithSessionID(ctx, "sess_789")

	L(ctx).Info("observed")

	assert.Contains(t, buf.String(), "session_id=sess_789")
}

func TestL_WithoutSessionID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "text"))

	L(ctx).Info("observed")

	assert.NotContains(t, buf.String(), "session_id")
}
