package hub

import "sync"

// Scope selects the target of a send: one user, one room, or every
// connection.
type Scope string

const (
	ScopeAll  Scope = "all"
	ScopeUser Scope = "user"
	ScopeRoom Scope = "room"
)

// ConnectEvent is delivered to OnConnect observers after a successful
// registration.
type ConnectEvent struct {
	UserID string
	ConnID string
}

// DisconnectEvent is delivered to OnDisconnect observers after a teardown.
type DisconnectEvent struct {
	UserID string
	ConnID string
}

// MessageSentEvent is delivered to OnMessageSent observers after each send,
// with the delivered connection count.
type MessageSentEvent struct {
	Scope     Scope
	Target    string
	Delivered int
}

// observers fans typed lifecycle notifications out to registered callbacks.
// Callbacks run synchronously on the calling goroutine and must not block.
type observers struct {
	mu           sync.RWMutex
	onConnect    []func(ConnectEvent)
	onDisconnect []func(DisconnectEvent)
	sent         []func(MessageSentEvent)
	errs         []func(error)
}

// OnConnect registers a callback for successful registrations.
func (h *Hub) OnConnect(fn func(ConnectEvent)) {
	if fn == nil {
		return
	}
	h.observers.mu.Lock()
	h.observers.onConnect = append(h.observers.onConnect, fn)
	h.observers.mu.Unlock()
}

// OnDisconnect registers a callback for connection teardowns.
func (h *Hub) OnDisconnect(fn func(DisconnectEvent)) {
	if fn == nil {
		return
	}
	h.observers.mu.Lock()
	h.observers.onDisconnect = append(h.observers.onDisconnect, fn)
	h.observers.mu.Unlock()
}

// OnMessageSent registers a callback invoked after every send with its
// delivered count.
func (h *Hub) OnMessageSent(fn func(MessageSentEvent)) {
	if fn == nil {
		return
	}
	h.observers.mu.Lock()
	h.observers.sent = append(h.observers.sent, fn)
	h.observers.mu.Unlock()
}

// OnError registers a callback for non-fatal faults: payload serialization
// failures, bus publish/subscribe/decode errors, routing errors.
func (h *Hub) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	h.observers.mu.Lock()
	h.observers.errs = append(h.observers.errs, fn)
	h.observers.mu.Unlock()
}

func (o *observers) connect(e ConnectEvent) {
	o.mu.RLock()
	fns := o.onConnect
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (o *observers) disconnect(e DisconnectEvent) {
	o.mu.RLock()
	fns := o.onDisconnect
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (o *observers) messageSent(e MessageSentEvent) {
	o.mu.RLock()
	fns := o.sent
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (o *observers) error(err error) {
	o.mu.RLock()
	fns := o.errs
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}
