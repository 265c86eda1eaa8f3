package hub

import "errors"

var (
	// ErrNotAccepting is returned by Register after StopAccepting or Shutdown.
	// Already-open connections are unaffected.
	ErrNotAccepting = errors.New("hub is not accepting new connections")

	// ErrNilSink is returned by Register when no sink is supplied.
	ErrNilSink = errors.New("nil connection sink")

	// ErrSinkWrite is returned by Register when the protocol preamble cannot
	// be written to the sink.
	ErrSinkWrite = errors.New("failed to write to connection sink")

	// ErrStreamingUnsupported is returned by RegisterHTTP when the response
	// writer does not implement http.Flusher.
	ErrStreamingUnsupported = errors.New("response writer does not support streaming")

	// ErrDecodeEnvelope is reported to error observers when a bus message
	// cannot be deserialized into an Envelope.
	ErrDecodeEnvelope = errors.New("failed to decode bus envelope")
)
