package sequence

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/ssekit/core/logger"
)

// Counter is the distributed-counter capability an adapter may expose (for
// Redis: INCR and EXPIRE). Incr must return 1 on the first call for a key
// and strictly increasing values after.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// FieldMode governs how an automatic field is applied to a payload.
type FieldMode int

const (
	// Off leaves the field alone.
	Off FieldMode = iota

	// FillIfMissing injects a value when the payload lacks the field.
	FillIfMissing

	// Require fails the enhancement when the payload lacks the field.
	Require
)

const (
	// DefaultSequenceField is the payload field receiving sequence numbers.
	DefaultSequenceField = "seq"

	// DefaultTimestampField is the payload field receiving timestamps.
	DefaultTimestampField = "ts"

	// DefaultTraceField is the payload field receiving trace ids.
	DefaultTraceField = "trace_id"

	// DefaultKeyTTL evicts idle per-key counter state.
	DefaultKeyTTL = 30 * time.Minute

	// finalKeyTTL is the shortened distributed-counter expiry applied once a
	// stream's final payload is observed.
	finalKeyTTL = time.Second
)

// KeyExtractor derives the correlation key grouping a payload into a
// sequence-numbered stream. Returning false skips sequencing for the
// payload.
type KeyExtractor func(payload map[string]any) (string, bool)

// FinalPredicate reports whether a payload terminates its stream, releasing
// the key's counter state.
type FinalPredicate func(payload map[string]any) bool

type localSeq struct {
	next       int64
	lastActive time.Time
}

// Enhancer applies automatic fields and sequence numbers to structured
// payloads. Safe for concurrent use. Close releases the TTL sweeper.
type Enhancer struct {
	seqField       string
	timestampField string
	timestampMode  FieldMode
	traceField     string
	traceMode      FieldMode
	extractor      KeyExtractor
	finalPred      FinalPredicate
	start          int64
	ttl            time.Duration
	counter        Counter
	keyPrefix      string
	frameIDOrigin  string
	logger         *slog.Logger

	mu     sync.Mutex
	local  map[string]*localSeq
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fallbackWarn sync.Once

	localSeqs       atomic.Int64
	distributedSeqs atomic.Int64
	fallbacks       atomic.Int64
	evictions       atomic.Int64
}

// Option configures an Enhancer.
type Option func(*Enhancer)

// WithSequenceField renames the sequence field.
func WithSequenceField(name string) Option {
	return func(e *Enhancer) {
		if name != "" {
			e.seqField = name
		}
	}
}

// WithTimestampMode sets how the timestamp field is applied. Default is
// FillIfMissing with Unix-millisecond values.
func WithTimestampMode(mode FieldMode) Option {
	return func(e *Enhancer) {
		e.timestampMode = mode
	}
}

// WithTimestampField renames the timestamp field.
func WithTimestampField(name string) Option {
	return func(e *Enhancer) {
		if name != "" {
			e.timestampField = name
		}
	}
}

// WithTraceMode sets how the trace field is applied. Default is Off;
// FillIfMissing backfills a UUID.
func WithTraceMode(mode FieldMode) Option {
	return func(e *Enhancer) {
		e.traceMode = mode
	}
}

// WithTraceField renames the trace field.
func WithTraceField(name string) Option {
	return func(e *Enhancer) {
		if name != "" {
			e.traceField = name
		}
	}
}

// WithKeyExtractor replaces the correlation-key extractor. The default looks
// for a "request_id" field, then a "stream_id" field.
func WithKeyExtractor(fn KeyExtractor) Option {
	return func(e *Enhancer) {
		if fn != nil {
			e.extractor = fn
		}
	}
}

// WithFinalPredicate replaces the stream-termination predicate. The default
// treats a payload as final when its "done" field is true or it carries an
// "error" field.
func WithFinalPredicate(fn FinalPredicate) Option {
	return func(e *Enhancer) {
		if fn != nil {
			e.finalPred = fn
		}
	}
}

// WithStartValue sets the first sequence number per stream. Default 1.
func WithStartValue(n int64) Option {
	return func(e *Enhancer) {
		e.start = n
	}
}

// WithKeyTTL sets the idle TTL for per-key counter state, local and
// distributed alike. Zero disables local sweeping and distributed expiry.
func WithKeyTTL(ttl time.Duration) Option {
	return func(e *Enhancer) {
		e.ttl = ttl
	}
}

// WithCounter attaches a distributed counter used by EnhanceContext.
func WithCounter(c Counter) Option {
	return func(e *Enhancer) {
		e.counter = c
	}
}

// WithCounterKeyPrefix namespaces distributed counter keys. Default
// "ssekit:seq:".
func WithCounterKeyPrefix(prefix string) Option {
	return func(e *Enhancer) {
		if prefix != "" {
			e.keyPrefix = prefix
		}
	}
}

// WithFrameIDSynthesis enables FrameID, deriving frame ids from the given
// instance id and the payload's sequence number.
func WithFrameIDSynthesis(instanceID string) Option {
	return func(e *Enhancer) {
		e.frameIDOrigin = instanceID
	}
}

// WithLogger sets the structured logger. Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enhancer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEnhancer creates an Enhancer and starts its key-TTL sweeper when a TTL
// is set. Call Close to release it.
func NewEnhancer(opts ...Option) *Enhancer {
	e := &Enhancer{
		seqField:       DefaultSequenceField,
		timestampField: DefaultTimestampField,
		timestampMode:  FillIfMissing,
		traceField:     DefaultTraceField,
		traceMode:      Off,
		extractor:      defaultKeyExtractor,
		finalPred:      defaultFinalPredicate,
		start:          1,
		ttl:            DefaultKeyTTL,
		keyPrefix:      "ssekit:seq:",
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		local:          make(map[string]*localSeq),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())

	if e.ttl > 0 {
		e.wg.Add(1)
		go e.sweep()
	}

	return e
}

// Enhance applies automatic fields and a locally counted sequence number to
// the payload, in place. Nil payloads are a no-op.
func (e *Enhancer) Enhance(payload map[string]any) error {
	return e.enhance(nil, payload, false)
}

// EnhanceContext is Enhance for the asynchronous publish path: when a
// distributed counter is attached the sequence number comes from it, keeping
// streams monotonic across processes. Counter errors degrade to the local
// counter with a one-time warning.
func (e *Enhancer) EnhanceContext(ctx context.Context, payload map[string]any) error {
	return e.enhance(ctx, payload, true)
}

func (e *Enhancer) enhance(ctx context.Context, payload map[string]any, distributed bool) error {
	if payload == nil {
		return nil
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEnhancerClosed
	}

	if err := e.applyField(payload, e.timestampField, e.timestampMode, func() any {
		return time.Now().UnixMilli()
	}, ErrMissingTimestampField); err != nil {
		return err
	}
	if err := e.applyField(payload, e.traceField, e.traceMode, func() any {
		return uuid.NewString()
	}, ErrMissingTraceField); err != nil {
		return err
	}

	if _, ok := payload[e.seqField]; ok {
		return nil
	}
	key, ok := e.extractor(payload)
	if !ok || key == "" {
		return nil
	}

	final := e.finalPred(payload)

	var seq int64
	if distributed && e.counter != nil {
		n, err := e.nextDistributed(ctx, key, final)
		if err != nil {
			e.fallbacks.Add(1)
			e.fallbackWarn.Do(func() {
				e.logger.Warn("distributed counter unavailable, falling back to local sequencing",
					logger.Error(err),
				)
			})
			seq = e.nextLocal(key, final)
		} else {
			seq = n
		}
	} else {
		seq = e.nextLocal(key, final)
	}

	payload[e.seqField] = seq
	return nil
}

func (e *Enhancer) applyField(payload map[string]any, field string, mode FieldMode, gen func() any, missing error) error {
	if mode == Off || field == "" {
		return nil
	}
	if _, ok := payload[field]; ok {
		return nil
	}
	if mode == Require {
		return missing
	}
	payload[field] = gen()
	return nil
}

func (e *Enhancer) nextLocal(key string, final bool) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.local[key]
	if !ok {
		s = &localSeq{next: e.start}
		e.local[key] = s
	}
	seq := s.next
	s.next++
	s.lastActive = time.Now()

	if final {
		delete(e.local, key)
		e.evictions.Add(1)
	}

	e.localSeqs.Add(1)
	return seq
}

func (e *Enhancer) nextDistributed(ctx context.Context, key string, final bool) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	fullKey := e.keyPrefix + key

	n, err := e.counter.Incr(ctx, fullKey)
	if err != nil {
		return 0, fmt.Errorf("incrementing distributed counter: %w", err)
	}

	// Expiry is best-effort: a missed expire only delays eviction.
	ttl := e.ttl
	if final {
		ttl = finalKeyTTL
		e.evictions.Add(1)
	}
	if ttl > 0 {
		if err := e.counter.Expire(ctx, fullKey, ttl); err != nil {
			e.logger.Debug("failed to set counter expiry",
				logger.Key("key", fullKey),
				logger.Error(err),
			)
		}
	}

	e.distributedSeqs.Add(1)
	return e.start - 1 + n, nil
}

// FrameID derives a protocol frame id from the configured instance id and
// the payload's sequence number. It reports false when synthesis is disabled
// or the payload has no sequence.
func (e *Enhancer) FrameID(payload map[string]any) (string, bool) {
	if e.frameIDOrigin == "" || payload == nil {
		return "", false
	}
	seq, ok := payload[e.seqField]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s:%v", e.frameIDOrigin, seq), true
}

// sweep evicts local counter state idle longer than the TTL.
func (e *Enhancer) sweep() {
	defer e.wg.Done()

	interval := e.ttl / 4
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			e.sweepOnce(now)
		}
	}
}

// sweepOnce evicts every local counter idle longer than the TTL, as of the
// given instant.
func (e *Enhancer) sweepOnce(now time.Time) {
	e.mu.Lock()
	for key, s := range e.local {
		if now.Sub(s.lastActive) > e.ttl {
			delete(e.local, key)
			e.evictions.Add(1)
		}
	}
	e.mu.Unlock()
}

// Stats is a snapshot of the enhancer's sequence-source counters.
type Stats struct {
	LocalSequences       int64 // numbers issued by local counters
	DistributedSequences int64 // numbers issued by the distributed counter
	Fallbacks            int64 // distributed attempts degraded to local
	Evictions            int64 // key states released (final or TTL)
	ActiveKeys           int   // local keys currently tracked
}

// Stats returns a snapshot of the sequence-source counters.
func (e *Enhancer) Stats() Stats {
	e.mu.Lock()
	active := len(e.local)
	e.mu.Unlock()

	return Stats{
		LocalSequences:       e.localSeqs.Load(),
		DistributedSequences: e.distributedSeqs.Load(),
		Fallbacks:            e.fallbacks.Load(),
		Evictions:            e.evictions.Load(),
		ActiveKeys:           active,
	}
}

// Close stops the sweeper and releases all local counter state. Subsequent
// enhancements fail with ErrEnhancerClosed.
func (e *Enhancer) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.local = make(map[string]*localSeq)
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	return nil
}

func defaultKeyExtractor(payload map[string]any) (string, bool) {
	for _, field := range []string{"request_id", "stream_id"} {
		if v, ok := payload[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func defaultFinalPredicate(payload map[string]any) bool {
	if done, ok := payload["done"].(bool); ok && done {
		return true
	}
	_, hasErr := payload["error"]
	return hasErr
}
