package hub

import (
	"net/http"
	"sync"
	"time"
)

const (
	// httpSinkBuffer is the number of frames the sink holds between the hub
	// and the pump goroutine before signaling backpressure.
	httpSinkBuffer = 32

	// httpWriteTimeout bounds a single response write so a peer that stops
	// reading resolves to a failed sink instead of a wedged pump.
	httpWriteTimeout = 30 * time.Second
)

// RegisterHTTP adapts a standard net/http streaming response into a hub
// connection. It sets the SSE response headers (unless headers were already
// sent), discovers the client's last-delivered frame id from the
// Last-Event-ID header or the lastEventId query parameter (for clients that
// cannot set custom headers on reconnect), registers the connection, and
// tears it down when the request context ends.
//
// The handler must keep the request alive until the connection closes:
//
//	handle, err := hub.RegisterHTTP(h, w, r, userID)
//	if err != nil {
//		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
//		return
//	}
//	<-handle.Done()
func RegisterHTTP(h *Hub, w http.ResponseWriter, r *http.Request, userID string, opts ...RegisterOption) (*ConnHandle, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	var ro registerOptions
	for _, opt := range opts {
		opt(&ro)
	}

	header := w.Header()
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "text/event-stream; charset=utf-8")
		header.Set("Cache-Control", "no-cache, no-transform")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
	}
	for key, values := range ro.headers {
		for _, v := range values {
			header.Add(key, v)
		}
	}

	if lastID := lastFrameIDFromRequest(r); lastID != "" {
		opts = append(opts, WithLastFrameID(lastID))
	}

	sink := &httpSink{
		w:       w,
		flusher: flusher,
		ctrl:    http.NewResponseController(w),
		frames:  make(chan []byte, httpSinkBuffer),
		done:    make(chan struct{}),
	}
	go sink.pump()

	handle, err := h.Register(userID, sink, opts...)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}

	// The transport's close signal is the request context; translate it into
	// a teardown.
	go func() {
		select {
		case <-r.Context().Done():
			handle.Close()
		case <-handle.Done():
		}
	}()

	return handle, nil
}

// WithHeaders adds response headers written by RegisterHTTP before the
// stream starts. Transports without response headers ignore it.
func WithHeaders(headers http.Header) RegisterOption {
	return func(o *registerOptions) {
		o.headers = headers
	}
}

func lastFrameIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("lastEventId")
}

// httpSink bridges the hub to an http.ResponseWriter without blocking the
// hub's send paths: frames go into a bounded channel and a dedicated pump
// goroutine performs the potentially blocking response writes. A full
// channel surfaces as WriteBuffered, engaging the connection's queue and
// drop policy; the drained notification fires once the pump empties the
// channel. Each write carries a deadline where the underlying writer
// supports one, so a peer that stops reading fails the sink instead of
// stalling the pump forever.
type httpSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctrl    *http.ResponseController

	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	drained func()
	failed  bool
	err     error
}

func (s *httpSink) Write(p []byte) (WriteResult, error) {
	s.mu.Lock()
	if s.failed {
		err := s.err
		s.mu.Unlock()
		return WriteFailed, err
	}
	s.mu.Unlock()

	select {
	case s.frames <- p:
		if len(s.frames) == cap(s.frames) {
			return WriteBuffered, nil
		}
		return WriteAccepted, nil
	default:
		// The hub stops writing after a WriteBuffered result, so a full
		// channel means the pump has been stuck for a long time already.
		return WriteFailed, nil
	}
}

func (s *httpSink) NotifyDrained(fn func()) {
	s.mu.Lock()
	s.drained = fn
	fire := s.failed || len(s.frames) == 0
	s.mu.Unlock()
	if fire {
		s.fireDrained()
	}
}

func (s *httpSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// pump moves frames from the channel to the response writer until the sink
// is closed or a write fails. It is the only goroutine touching the writer
// after registration.
func (s *httpSink) pump() {
	for {
		select {
		case <-s.done:
			return
		case p := <-s.frames:
			// Deadline support depends on the underlying writer.
			_ = s.ctrl.SetWriteDeadline(time.Now().Add(httpWriteTimeout))
			if _, err := s.w.Write(p); err != nil {
				s.fail(err)
				return
			}
			s.flusher.Flush()
			if len(s.frames) == 0 {
				s.fireDrained()
			}
		}
	}
}

func (s *httpSink) fail(err error) {
	s.mu.Lock()
	s.failed = true
	s.err = err
	s.mu.Unlock()
	// Wake a draining connection so its next flush observes the failure and
	// tears the connection down.
	s.fireDrained()
}

// fireDrained consumes the armed callback. The callback re-enters the hub's
// delivery path, which takes the connection mutex, so it never runs inline.
func (s *httpSink) fireDrained() {
	s.mu.Lock()
	fn := s.drained
	s.drained = nil
	s.mu.Unlock()
	if fn != nil {
		go fn()
	}
}
