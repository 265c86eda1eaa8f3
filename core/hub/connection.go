package hub

import (
	"sync"
	"time"
)

// DropPolicy selects what happens when a connection's outbound queue would
// exceed its configured limits.
type DropPolicy int

const (
	// DropOldest evicts frames from the front of the queue until the new
	// frame fits. This is the default.
	DropOldest DropPolicy = iota

	// DropNewest drops the incoming frame and leaves the queue unchanged.
	DropNewest

	// DropDisconnect tears the connection down immediately.
	DropDisconnect
)

// String returns the policy name used in logs and stats.
func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "oldest"
	case DropNewest:
		return "newest"
	case DropDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// connection is the per-client state. Index membership (rooms map, user
// bucket) is guarded by the hub mutex; queue state is guarded by the
// connection's own mutex so delivery for one connection never contends with
// delivery for another.
type connection struct {
	id        string
	userID    string
	sink      Sink
	createdAt time.Time

	// guarded by Hub.mu
	rooms map[string]struct{}

	heartbeat time.Duration
	done      chan struct{}
	stopOnce  sync.Once

	mu          sync.Mutex
	queue       [][]byte
	queuedBytes int
	draining    bool
	closed      bool

	maxItems int
	maxBytes int
	policy   DropPolicy
}

// stop closes the done channel exactly once, ending the heartbeat goroutine
// and unblocking ConnHandle.Done waiters.
func (c *connection) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

// ConnHandle is returned by Register and exposes per-connection operations
// to the transport layer.
type ConnHandle struct {
	hub  *Hub
	conn *connection
}

// ID returns the opaque connection id.
func (h *ConnHandle) ID() string {
	return h.conn.id
}

// UserID returns the owning user id.
func (h *ConnHandle) UserID() string {
	return h.conn.userID
}

// Done is closed when the connection has been torn down. HTTP handlers block
// on it to keep the response stream open.
func (h *ConnHandle) Done() <-chan struct{} {
	return h.conn.done
}

// Close tears the connection down. Safe to call more than once.
func (h *ConnHandle) Close() {
	h.hub.Teardown(h.conn.id)
}

// Join adds the connection to a room. Returns false if the connection is no
// longer registered.
func (h *ConnHandle) Join(room string) bool {
	return h.hub.JoinRoom(h.conn.id, room)
}

// Leave removes the connection from a room. Returns false if the connection
// is no longer registered.
func (h *ConnHandle) Leave(room string) bool {
	return h.hub.LeaveRoom(h.conn.id, room)
}
