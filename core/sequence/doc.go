// Package sequence enriches structured payloads before encoding: it injects
// default fields (timestamp, trace id) and assigns per-stream monotonic
// sequence numbers, locally or through a distributed counter.
//
// Payloads are grouped into streams by a correlation key derived from their
// content (by default the "request_id" or "stream_id" field). Each key holds
// its own counter; a "final" payload (by default one marked done or carrying
// an error) releases the key's state so memory stays bounded.
//
// # Usage
//
//	e := sequence.NewEnhancer(
//		sequence.WithTimestampMode(sequence.FillIfMissing),
//		sequence.WithTraceMode(sequence.Require),
//	)
//	defer e.Close()
//
//	payload := map[string]any{"request_id": "req-1", "chunk": "..."}
//	if err := e.Enhance(payload); err != nil {
//		// payload violated a Require-mode field
//	}
//	// payload now carries "ts" and "seq"
//
// # Distributed Sequencing
//
// For the cross-instance publish path, attach a Counter (for example the
// redis integration's bus, which exposes INCR/EXPIRE) and call
// EnhanceContext. Numbers then stay monotonic across processes sharing the
// counter store. When the store is unavailable the enhancer falls back to
// its local counters and logs a single degraded-mode warning for the process
// lifetime; the fallback is also counted in Stats so operators can alarm on
// it. Local counters cannot preserve cross-process monotonicity.
//
// # Frame IDs
//
// With WithFrameIDSynthesis, FrameID derives a protocol frame id of the form
// "<instance id>:<sequence>" for payloads that gained a sequence number,
// letting callers feed replay buffers without minting ids themselves.
package sequence
