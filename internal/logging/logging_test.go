package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	ctx := context.Background()

	assert.True(t, New("debug", "text").Enabled(ctx, slog.LevelDebug))
	assert.False(t, New("error", "text").Enabled(ctx, slog.LevelInfo))

	// Unknown level falls back to info.
	fallback := New("chatty", "text")
	assert.True(t, fallback.Enabled(ctx, slog.LevelInfo))
	assert.False(t, fallback.Enabled(ctx, slog.LevelDebug))
}

func TestNew_JSONFormat(t *testing.T) {
	require.NotNil(t, New("info", "json"))
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "a3f9c2e1")
	assert.Equal(t, "a3f9c2e1", RequestID(ctx))

	// The middleware re-stamps on retries; the latest ID wins.
	ctx = WithRequestID(ctx, "b7d4e802")
	assert.Equal(t, "b7d4e802", RequestID(ctx))
}

func TestFromContext_DefaultAndCustom(t *testing.T) {
	ctx := context.Background()
	require.NotNil(t, FromContext(ctx), "no logger in context falls back to the default")

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	assert.Same(t, custom, FromContext(ctx))
}

func TestL_AttachesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "a3f9c2e1")

	L(ctx).Info("escrow released")
	assert.Contains(t, buf.String(), "request_id=a3f9c2e1")
}

func TestL_WithoutRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	L(ctx).Info("sweep finished")
	assert.NotContains(t, buf.String(), "request_id")
}
