package sequence_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/ssekit/core/sequence"
)

func newTestEnhancer(t *testing.T, opts ...sequence.Option) *sequence.Enhancer {
	t.Helper()
	e := sequence.NewEnhancer(opts...)
	t.Cleanup(func() {
		_ = e.Close()
	})
	return e
}

// fakeCounter is an in-memory stand-in for a distributed counter store.
type fakeCounter struct {
	mu      sync.Mutex
	values  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{
		values:  make(map[string]int64),
		expires: make(map[string]time.Duration),
	}
}

func (c *fakeCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.values[key]++
	return c.values[key], nil
}

func (c *fakeCounter) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.expires[key] = ttl
	return nil
}

func (c *fakeCounter) expireFor(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expires[key]
}

func TestEnhanceSequencing(t *testing.T) {
	t.Parallel()

	t.Run("assigns strictly increasing numbers per key", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		for i := 1; i <= 5; i++ {
			payload := map[string]any{"request_id": "req-1"}
			require.NoError(t, e.Enhance(payload))
			assert.Equal(t, int64(i), payload["seq"])
		}
	})

	t.Run("keys count independently", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		a := map[string]any{"request_id": "req-a"}
		b := map[string]any{"request_id": "req-b"}
		require.NoError(t, e.Enhance(a))
		require.NoError(t, e.Enhance(b))
		assert.Equal(t, int64(1), a["seq"])
		assert.Equal(t, int64(1), b["seq"])
	})

	t.Run("honors the configured start value", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t, sequence.WithStartValue(100))
		payload := map[string]any{"request_id": "req-1"}
		require.NoError(t, e.Enhance(payload))
		assert.Equal(t, int64(100), payload["seq"])
	})

	t.Run("final payload restarts the stream", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		for i := 1; i <= 3; i++ {
			payload := map[string]any{"request_id": "req-1"}
			require.NoError(t, e.Enhance(payload))
		}
		final := map[string]any{"request_id": "req-1", "done": true}
		require.NoError(t, e.Enhance(final))
		assert.Equal(t, int64(4), final["seq"])

		restarted := map[string]any{"request_id": "req-1"}
		require.NoError(t, e.Enhance(restarted))
		assert.Equal(t, int64(1), restarted["seq"])
	})

	t.Run("error payloads are final too", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		failed := map[string]any{"request_id": "req-1", "error": "boom"}
		require.NoError(t, e.Enhance(failed))

		restarted := map[string]any{"request_id": "req-1"}
		require.NoError(t, e.Enhance(restarted))
		assert.Equal(t, int64(1), restarted["seq"])
	})

	t.Run("falls back to the stream_id field", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		payload := map[string]any{"stream_id": "st-1"}
		require.NoError(t, e.Enhance(payload))
		assert.Equal(t, int64(1), payload["seq"])
	})

	t.Run("skips payloads without a correlation key", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		payload := map[string]any{"other": "field"}
		require.NoError(t, e.Enhance(payload))
		_, hasSeq := payload["seq"]
		assert.False(t, hasSeq)
	})

	t.Run("keeps caller-supplied sequence numbers", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		payload := map[string]any{"request_id": "req-1", "seq": int64(42)}
		require.NoError(t, e.Enhance(payload))
		assert.Equal(t, int64(42), payload["seq"])

		next := map[string]any{"request_id": "req-1"}
		require.NoError(t, e.Enhance(next))
		assert.Equal(t, int64(1), next["seq"])
	})

	t.Run("custom extractor", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t, sequence.WithKeyExtractor(func(p map[string]any) (string, bool) {
			v, ok := p["job"].(string)
			return v, ok
		}))
		payload := map[string]any{"job": "batch-7"}
		require.NoError(t, e.Enhance(payload))
		assert.Equal(t, int64(1), payload["seq"])
	})

	t.Run("nil payload is a no-op", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		require.NoError(t, e.Enhance(nil))
	})
}

func TestEnhanceFields(t *testing.T) {
	t.Parallel()

	t.Run("fills a missing timestamp", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		payload := map[string]any{}
		require.NoError(t, e.Enhance(payload))
		ts, ok := payload["ts"].(int64)
		require.True(t, ok)
		assert.InDelta(t, time.Now().UnixMilli(), ts, float64(time.Minute.Milliseconds()))
	})

	t.Run("keeps an existing timestamp", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		payload := map[string]any{"ts": int64(123)}
		require.NoError(t, e.Enhance(payload))
		assert.Equal(t, int64(123), payload["ts"])
	})

	t.Run("backfills a trace id in fill mode", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t, sequence.WithTraceMode(sequence.FillIfMissing))
		payload := map[string]any{}
		require.NoError(t, e.Enhance(payload))
		trace, ok := payload["trace_id"].(string)
		require.True(t, ok)
		assert.NotEmpty(t, trace)
	})

	t.Run("require mode fails on a missing trace id", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t, sequence.WithTraceMode(sequence.Require))
		err := e.Enhance(map[string]any{})
		assert.ErrorIs(t, err, sequence.ErrMissingTraceField)
	})

	t.Run("off mode leaves the trace field alone", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		payload := map[string]any{}
		require.NoError(t, e.Enhance(payload))
		_, ok := payload["trace_id"]
		assert.False(t, ok)
	})

	t.Run("custom field names", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t,
			sequence.WithTimestampField("created_at"),
			sequence.WithSequenceField("offset"),
		)
		payload := map[string]any{"request_id": "req-1"}
		require.NoError(t, e.Enhance(payload))
		_, hasTS := payload["created_at"]
		assert.True(t, hasTS)
		assert.Equal(t, int64(1), payload["offset"])
	})
}

func TestEnhanceContext(t *testing.T) {
	t.Parallel()

	t.Run("uses the distributed counter when attached", func(t *testing.T) {
		t.Parallel()

		counter := newFakeCounter()
		e := newTestEnhancer(t, sequence.WithCounter(counter))

		for i := 1; i <= 3; i++ {
			payload := map[string]any{"request_id": "req-1"}
			require.NoError(t, e.EnhanceContext(context.Background(), payload))
			assert.Equal(t, int64(i), payload["seq"])
		}

		s := e.Stats()
		assert.Equal(t, int64(3), s.DistributedSequences)
		assert.Zero(t, s.LocalSequences)
	})

	t.Run("applies the ttl to distributed keys", func(t *testing.T) {
		t.Parallel()

		counter := newFakeCounter()
		e := newTestEnhancer(t,
			sequence.WithCounter(counter),
			sequence.WithKeyTTL(time.Hour),
			sequence.WithCounterKeyPrefix("test:seq:"),
		)

		payload := map[string]any{"request_id": "req-1"}
		require.NoError(t, e.EnhanceContext(context.Background(), payload))
		assert.Equal(t, time.Hour, counter.expireFor("test:seq:req-1"))
	})

	t.Run("final payload shortens the distributed expiry", func(t *testing.T) {
		t.Parallel()

		counter := newFakeCounter()
		e := newTestEnhancer(t,
			sequence.WithCounter(counter),
			sequence.WithCounterKeyPrefix("test:seq:"),
		)

		payload := map[string]any{"request_id": "req-1", "done": true}
		require.NoError(t, e.EnhanceContext(context.Background(), payload))
		assert.Equal(t, time.Second, counter.expireFor("test:seq:req-1"))
	})

	t.Run("degrades to local counting on counter errors", func(t *testing.T) {
		t.Parallel()

		counter := newFakeCounter()
		counter.err = errors.New("store unavailable")
		e := newTestEnhancer(t, sequence.WithCounter(counter))

		for i := 1; i <= 3; i++ {
			payload := map[string]any{"request_id": "req-1"}
			require.NoError(t, e.EnhanceContext(context.Background(), payload))
			assert.Equal(t, int64(i), payload["seq"])
		}

		s := e.Stats()
		assert.Equal(t, int64(3), s.Fallbacks)
		assert.Equal(t, int64(3), s.LocalSequences)
		assert.Zero(t, s.DistributedSequences)
	})

	t.Run("without a counter behaves like Enhance", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		payload := map[string]any{"request_id": "req-1"}
		require.NoError(t, e.EnhanceContext(context.Background(), payload))
		assert.Equal(t, int64(1), payload["seq"])
		assert.Equal(t, int64(1), e.Stats().LocalSequences)
	})
}

func TestFrameID(t *testing.T) {
	t.Parallel()

	t.Run("derives ids from the instance id and sequence", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t, sequence.WithFrameIDSynthesis("inst-1"))
		payload := map[string]any{"request_id": "req-1"}
		require.NoError(t, e.Enhance(payload))

		id, ok := e.FrameID(payload)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("inst-1:%d", payload["seq"]), id)
	})

	t.Run("disabled without an instance id", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		payload := map[string]any{"request_id": "req-1"}
		require.NoError(t, e.Enhance(payload))

		_, ok := e.FrameID(payload)
		assert.False(t, ok)
	})

	t.Run("reports false without a sequence", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t, sequence.WithFrameIDSynthesis("inst-1"))
		_, ok := e.FrameID(map[string]any{"other": 1})
		assert.False(t, ok)
	})
}

func TestEnhancerLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("close is idempotent and blocks further use", func(t *testing.T) {
		t.Parallel()

		e := sequence.NewEnhancer()
		require.NoError(t, e.Close())
		require.NoError(t, e.Close())

		err := e.Enhance(map[string]any{"request_id": "req-1"})
		assert.ErrorIs(t, err, sequence.ErrEnhancerClosed)
	})

	t.Run("stats track active keys", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		require.NoError(t, e.Enhance(map[string]any{"request_id": "a"}))
		require.NoError(t, e.Enhance(map[string]any{"request_id": "b"}))
		assert.Equal(t, 2, e.Stats().ActiveKeys)

		require.NoError(t, e.Enhance(map[string]any{"request_id": "a", "done": true}))
		assert.Equal(t, 1, e.Stats().ActiveKeys)
		assert.Equal(t, int64(1), e.Stats().Evictions)
	})

	t.Run("ttl sweep evicts idle keys and restarts their numbering", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t, sequence.WithKeyTTL(time.Minute))
		require.NoError(t, e.Enhance(map[string]any{"request_id": "req-1"}))
		require.NoError(t, e.Enhance(map[string]any{"request_id": "req-1"}))

		// A fresh key survives a sweep at the current time.
		e.SweepOnce(time.Now())
		assert.Equal(t, 1, e.Stats().ActiveKeys)

		// Once idle past the TTL the key is evicted.
		e.SweepOnce(time.Now().Add(2 * time.Minute))
		assert.Zero(t, e.Stats().ActiveKeys)
		assert.Equal(t, int64(1), e.Stats().Evictions)

		payload := map[string]any{"request_id": "req-1"}
		require.NoError(t, e.Enhance(payload))
		assert.Equal(t, int64(1), payload["seq"])
	})

	t.Run("concurrent enhancement stays monotonic", func(t *testing.T) {
		t.Parallel()

		e := newTestEnhancer(t)
		var wg sync.WaitGroup
		seen := make(chan int64, 100)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				payload := map[string]any{"request_id": "shared"}
				assert.NoError(t, e.Enhance(payload))
				seen <- payload["seq"].(int64)
			}()
		}
		wg.Wait()
		close(seen)

		unique := make(map[int64]struct{})
		for seq := range seen {
			unique[seq] = struct{}{}
		}
		assert.Len(t, unique, 100)
	})
}
