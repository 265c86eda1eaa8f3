package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Option configures a single Encode call.
type Option func(*encoder)

type encoder struct {
	id         string
	event      string
	maxPayload int
}

// WithID sets the frame id line. Newlines are stripped to keep the frame
// well-formed.
func WithID(id string) Option {
	return func(e *encoder) {
		e.id = id
	}
}

// WithEvent sets the event name line. Newlines are stripped.
func WithEvent(name string) Option {
	return func(e *encoder) {
		e.event = name
	}
}

// WithMaxPayloadSize sets the maximum serialized payload size in bytes.
// Zero or negative disables the limit.
func WithMaxPayloadSize(n int) Option {
	return func(e *encoder) {
		e.maxPayload = n
	}
}

// Encode serializes data into an SSE frame. Strings and byte slices are used
// verbatim; everything else is JSON-marshaled. The payload is split on
// newlines into multiple data lines and the frame is blank-line terminated.
func Encode(data any, opts ...Option) ([]byte, error) {
	var e encoder
	for _, opt := range opts {
		opt(&e)
	}

	var payload string
	switch v := data.(type) {
	case string:
		payload = v
	case []byte:
		payload = string(v)
	case json.RawMessage:
		payload = string(v)
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMarshalPayload, err)
		}
		payload = string(raw)
	}

	if e.maxPayload > 0 && len(payload) > e.maxPayload {
		return nil, ErrPayloadTooLarge
	}

	var buf bytes.Buffer
	if e.id != "" {
		buf.WriteString("id: ")
		buf.WriteString(stripNewlines(e.id))
		buf.WriteByte('\n')
	}
	if e.event != "" {
		buf.WriteString("event: ")
		buf.WriteString(stripNewlines(e.event))
		buf.WriteByte('\n')
	}
	for _, line := range strings.Split(payload, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// Retry produces the reconnect-delay preamble line sent once per connection.
func Retry(ms int) []byte {
	return fmt.Appendf(nil, "retry: %d\n\n", ms)
}

// Comment produces a no-op comment frame. Proxies and clients ignore it, which
// makes it suitable for heartbeats and connect acknowledgments.
func Comment(s string) []byte {
	return fmt.Appendf(nil, ": %s\n\n", stripNewlines(s))
}

func stripNewlines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
