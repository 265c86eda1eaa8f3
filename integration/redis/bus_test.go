package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/ssekit/integration/redis"
)

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("rejects an empty connection url", func(t *testing.T) {
		t.Parallel()

		_, err := redis.Connect(context.Background(), redis.Config{})
		assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
	})

	t.Run("rejects malformed connection urls", func(t *testing.T) {
		t.Parallel()

		cfg := redis.Config{ConnectionURL: "http://not-redis:6379"}
		_, err := redis.Connect(context.Background(), cfg)
		assert.ErrorIs(t, err, redis.ErrFailedToParseConnString)
	})

	t.Run("reports not ready when the server is unreachable", func(t *testing.T) {
		t.Parallel()

		cfg := redis.Config{
			ConnectionURL:  "redis://127.0.0.1:1/0",
			RetryAttempts:  1,
			ConnectTimeout: 500 * time.Millisecond,
		}
		_, err := redis.Connect(context.Background(), cfg)
		assert.ErrorIs(t, err, redis.ErrNotReady)
	})
}
