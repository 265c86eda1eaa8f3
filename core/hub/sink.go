package hub

// WriteResult is the tri-state outcome of a non-blocking sink write.
type WriteResult int

const (
	// WriteAccepted means the sink took the data without backpressure.
	WriteAccepted WriteResult = iota

	// WriteBuffered means the sink took the data but its internal buffer is
	// now full; the caller must stop writing until the drained notification
	// fires.
	WriteBuffered

	// WriteFailed means the sink rejected the data. The connection is dead
	// and must be torn down.
	WriteFailed
)

// Sink is the writable side of a streaming connection, supplied by the host
// transport layer at registration time. Implementations must not block in
// Write: backpressure is signaled through WriteBuffered and the drained
// notification, never by stalling the caller.
//
// The hub serializes all calls into a single sink, so implementations do not
// need to be safe for concurrent use.
type Sink interface {
	// Write pushes one encoded frame into the sink.
	Write(p []byte) (WriteResult, error)

	// NotifyDrained registers a one-shot callback invoked once the sink's
	// internal buffer has drained after a WriteBuffered result. Each
	// WriteBuffered result arms at most one callback.
	NotifyDrained(fn func())

	// Close ends the stream. Errors are ignored by the hub; the peer may
	// already be gone.
	Close() error
}
