package hub_test

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrymomot/ssekit/core/hub"
)

// fakeSink is a scriptable Sink: mode controls the result of the next
// writes, drain flips a buffered sink back to accepting and fires the armed
// drained callback.
type fakeSink struct {
	mu      sync.Mutex
	mode    hub.WriteResult
	err     error
	frames  [][]byte
	drained func()
	closed  bool
}

func (s *fakeSink) Write(p []byte) (hub.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return hub.WriteFailed, s.err
	}
	if s.mode == hub.WriteFailed {
		return hub.WriteFailed, nil
	}
	s.frames = append(s.frames, append([]byte(nil), p...))
	return s.mode, nil
}

func (s *fakeSink) NotifyDrained(fn func()) {
	s.mu.Lock()
	s.drained = fn
	s.mu.Unlock()
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// drain switches the sink to accepting and fires the pending drained
// callback, as a real transport would once its buffer empties.
func (s *fakeSink) drain() {
	s.mu.Lock()
	s.mode = hub.WriteAccepted
	fn := s.drained
	s.drained = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// fail makes every subsequent write error, surviving a later drain.
func (s *fakeSink) fail() {
	s.mu.Lock()
	s.err = errors.New("sink failed")
	s.mu.Unlock()
}

// written returns the recorded frames as strings.
func (s *fakeSink) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = string(f)
	}
	return out
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeBus records published payloads and lets tests inject inbound messages
// through the subscribed handler.
type fakeBus struct {
	mu        sync.Mutex
	channel   string
	handler   func(channel string, payload []byte)
	published [][]byte
	closed    bool
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) (int64, error) {
	b.mu.Lock()
	b.published = append(b.published, append([]byte(nil), payload...))
	b.mu.Unlock()
	return 1, nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string, handler func(channel string, payload []byte)) error {
	b.mu.Lock()
	b.channel = channel
	b.handler = handler
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// deliver feeds a payload into the hub's bus handler, as if another instance
// had published it.
func (b *fakeBus) deliver(payload []byte) {
	b.mu.Lock()
	handler := b.handler
	channel := b.channel
	b.mu.Unlock()
	if handler != nil {
		handler(channel, payload)
	}
}

func (b *fakeBus) publishedPayloads() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.published))
	copy(out, b.published)
	return out
}

func (b *fakeBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
