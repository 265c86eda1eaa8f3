package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/ssekit/core/logger"
)

// Config holds Redis connection settings with environment variable mapping.
type Config struct {
	ConnectionURL  string        `env:"SSEKIT_REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"SSEKIT_REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"SSEKIT_REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"SSEKIT_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

// Bus is a Redis-backed pub/sub adapter. It implements the hub's Bus
// contract, the sequence package's Counter contract, and io.Closer.
type Bus struct {
	client *redis.Client
	logger *slog.Logger

	mu      sync.Mutex
	pubsubs []*redis.PubSub
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the structured logger. Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Connect validates the connection URL, establishes a Redis client with
// retry logic, and verifies connectivity with a ping before returning the
// bus.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Bus, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}

	redisOpts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToParseConnString, err)
	}

	client := redis.NewClient(redisOpts)

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && cfg.RetryInterval > 0 {
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
			case <-time.After(cfg.RetryInterval):
			}
		}

		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			b := &Bus{
				client: client,
				logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
			}
			for _, opt := range opts {
				opt(b)
			}
			return b, nil
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("%w: %w", ErrNotReady, lastErr)
}

// Healthcheck returns a probe function that pings Redis, suitable for
// readiness and liveness endpoints.
func Healthcheck(b *Bus) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if b.closed.Load() {
			return fmt.Errorf("%w: %w", ErrHealthcheckFailed, ErrBusClosed)
		}
		if err := b.client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrHealthcheckFailed, err)
		}
		return nil
	}
}

// Publish sends one message on the channel and returns the receiver count
// reported by Redis.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if b.closed.Load() {
		return 0, ErrBusClosed
	}
	n, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publishing to channel %q: %w", channel, err)
	}
	return n, nil
}

// Subscribe opens a dedicated subscription for the channel and pumps
// messages into the handler from a background goroutine until the context
// ends or the bus is closed. It returns once the subscription is confirmed
// by Redis.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler func(channel string, payload []byte)) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribing to channel %q: %w", channel, err)
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		_ = pubsub.Close()
		return ErrBusClosed
	}
	b.pubsubs = append(b.pubsubs, pubsub)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Channel, []byte(msg.Payload))
			}
		}
	}()

	b.logger.Debug("subscribed to redis channel", logger.Channel(channel))
	return nil
}

// Incr implements the distributed-counter capability: it atomically
// increments the key and returns the new value (1 on first use).
func (b *Bus) Incr(ctx context.Context, key string) (int64, error) {
	if b.closed.Load() {
		return 0, ErrBusClosed
	}
	return b.client.Incr(ctx, key).Result()
}

// Expire sets the key's TTL. Used to bound distributed counter state.
func (b *Bus) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	return b.client.Expire(ctx, key, ttl).Err()
}

// Close ends all subscriptions, waits for their receive loops, and closes
// the client. Safe to call more than once.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	pubsubs := b.pubsubs
	b.pubsubs = nil
	b.mu.Unlock()

	for _, ps := range pubsubs {
		_ = ps.Close()
	}
	b.wg.Wait()

	return b.client.Close()
}
