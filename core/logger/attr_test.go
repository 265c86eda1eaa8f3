package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/ssekit/core/logger"
)

func TestError(t *testing.T) {
	t.Parallel()

	t.Run("wraps non-nil errors", func(t *testing.T) {
		t.Parallel()

		attr := logger.Error(errors.New("boom"))
		assert.Equal(t, "error", attr.Key)
		assert.Equal(t, "boom", attr.Value.Any().(error).Error())
	})

	t.Run("returns empty attr for nil", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, slog.Attr{}, logger.Error(nil))
	})
}

func TestIdentifierAttrs(t *testing.T) {
	t.Parallel()

	t.Run("populated values", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, slog.String("conn_id", "c1"), logger.ConnID("c1"))
		assert.Equal(t, slog.String("user_id", "u1"), logger.UserID("u1"))
		assert.Equal(t, slog.String("room", "news"), logger.Room("news"))
		assert.Equal(t, slog.String("channel", "bus"), logger.Channel("bus"))
		assert.Equal(t, slog.String("origin", "i1"), logger.Origin("i1"))
	})

	t.Run("empty values elide", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, slog.Attr{}, logger.ConnID(""))
		assert.Equal(t, slog.Attr{}, logger.UserID(""))
		assert.Equal(t, slog.Attr{}, logger.Room(""))
		assert.Equal(t, slog.Attr{}, logger.Channel(""))
		assert.Equal(t, slog.Attr{}, logger.Origin(""))
	})
}

func TestGenericAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.String("component", "hub"), logger.Component("hub"))
	assert.Equal(t, slog.String("scope", "user"), logger.Scope("user"))
	assert.Equal(t, slog.Int("delivered", 3), logger.Count("delivered", 3))
	assert.Equal(t, slog.Attr{}, logger.Key("meta", nil))
}
