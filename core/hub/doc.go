// Package hub implements a server-side event-distribution engine for
// long-lived one-way streaming connections (Server-Sent Events and
// compatible transports).
//
// The Hub owns all live connections, a user index (one user may hold many
// simultaneous connections), and a room index. Application code pushes
// JSON-serializable events to one connection, one user, a named room, or all
// connections. An optional publish/subscribe bus fans the same event out to
// other server processes, with self-origin deduplication so a process never
// re-delivers its own publish.
//
// # Usage
//
//	h := hub.New(
//		hub.WithLogger(logger),
//		hub.WithRecentBufferSize(20),
//	)
//	defer h.Shutdown(context.Background())
//
//	// In an HTTP handler:
//	handle, err := hub.RegisterHTTP(h, w, r, userID)
//	if err != nil {
//		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
//		return
//	}
//	<-handle.Done()
//
//	// Anywhere in the application:
//	h.SendToUser(userID, map[string]any{"status": "ready"}, hub.WithEvent("status"))
//
// # Backpressure
//
// Writes never block on a slow client. A connection whose sink signals
// backpressure switches to queueing; the queue is bounded by item count and
// byte count, and overflow is resolved by a per-connection drop policy
// (drop-oldest by default, drop-newest, or disconnect). The queue is flushed
// when the sink reports it has drained. A fault in one connection's pipeline
// tears down that connection only.
//
// # Replay
//
// Frames sent with an id are retained per user in a bounded in-memory buffer.
// A client reconnecting with its last-seen frame id (Last-Event-ID header or
// lastEventId query parameter) receives every retained frame newer than that
// id, in original order. Replay is best-effort: an unknown or evicted id
// replays nothing and the client must treat the gap as lost history. Buffers
// are evicted by per-user capacity, by total tracked-user capacity
// (least-recently-active first), and by TTL sweep.
//
// # Cross-Instance Fan-Out
//
// When constructed with a Bus, every Publish call dispatches locally first,
// then serializes an Envelope stamped with this process's instance id and
// publishes it on the configured channel. Envelopes arriving from the bus are
// dispatched through the same routing unless their origin matches the local
// instance id, in which case they are discarded as echoes.
package hub
