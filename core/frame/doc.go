// Package frame encodes Server-Sent Events wire frames.
//
// A frame consists of optional "id:" and "event:" lines, one or more "data:"
// lines carrying the JSON-serialized payload, and a blank-line terminator.
// Payloads containing newlines are split across multiple data lines so the
// frame stays well-formed.
//
// # Usage
//
//	raw, err := frame.Encode(map[string]any{"hello": "world"},
//		frame.WithEvent("greeting"),
//		frame.WithID("42"),
//	)
//	if err != nil {
//		// payload could not be serialized or exceeded the size limit
//	}
//	// raw == "id: 42\nevent: greeting\ndata: {\"hello\":\"world\"}\n\n"
//
// The package also produces the protocol preamble and no-op frames:
//
//	frame.Retry(2000)        // "retry: 2000\n\n", sent once per connection
//	frame.Comment("ping")    // ": ping\n\n", used for heartbeats
//
// # Size Limits
//
// Encode enforces an optional payload ceiling via WithMaxPayloadSize. When the
// serialized payload exceeds the limit, Encode returns ErrPayloadTooLarge and
// no partial frame; the caller must not write anything for that send.
package frame
