package faceindex

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger(t *testing.T) {
	ctx := context.Background()

	t.Run("NoopDiscardsAllLevels", func(t *testing.T) {
		l := NoopLogger()

		assert.False(t, l.Enabled(ctx, slog.LevelDebug))
		assert.False(t, l.Enabled(ctx, slog.LevelError))

		// Safe to call through the operation helpers.
		l.LogSearch(ctx, "", 10, 0, nil)
		l.LogDrift(ctx, "rec-1", "test")
	})

	t.Run("NilHandlerFallsBack", func(t *testing.T) {
		l := NewLogger(nil)
		assert.True(t, l.Enabled(ctx, slog.LevelInfo))
		assert.False(t, l.Enabled(ctx, slog.LevelDebug))
	})
}
