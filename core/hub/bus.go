package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrymomot/ssekit/core/logger"
)

// Bus is the capability interface a publish/subscribe adapter implements for
// cross-instance fan-out. Adapters that additionally expose a distributed
// counter implement sequence.Counter; adapters with cleanup implement
// io.Closer, which Shutdown detects and awaits.
type Bus interface {
	// Publish sends one serialized envelope on the channel and returns the
	// receiver count reported by the broker.
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)

	// Subscribe registers a handler for messages on the channel. The handler
	// runs on the adapter's receive goroutine for the process lifetime.
	Subscribe(ctx context.Context, channel string, handler func(channel string, payload []byte)) error
}

// Envelope is the cross-process message representation exchanged over the
// bus. Origin carries the publishing process's instance id so receivers can
// discard their own echoes.
type Envelope struct {
	Scope  Scope           `json:"scope"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data"`
	Event  string          `json:"event,omitempty"`
	ID     string          `json:"id,omitempty"`
	At     int64           `json:"at"`
	Origin string          `json:"origin"`
}

// Publish delivers data to every local connection, then fans it out to other
// instances through the bus. Local dispatch happens before the network
// round-trip so same-process recipients are not delayed by it. Without a bus
// the call is equivalent to SendToAll.
func (h *Hub) Publish(ctx context.Context, data any, opts ...SendOption) error {
	return h.publish(ctx, ScopeAll, "", data, opts)
}

// PublishToUser is Publish scoped to one user's connections on every
// instance.
func (h *Hub) PublishToUser(ctx context.Context, userID string, data any, opts ...SendOption) error {
	return h.publish(ctx, ScopeUser, userID, data, opts)
}

// PublishToRoom is Publish scoped to a room's members on every instance.
func (h *Hub) PublishToRoom(ctx context.Context, room string, data any, opts ...SendOption) error {
	return h.publish(ctx, ScopeRoom, room, data, opts)
}

func (h *Hub) publish(ctx context.Context, scope Scope, target string, data any, opts []SendOption) error {
	raw, err := json.Marshal(data)
	if err != nil {
		h.reportError(fmt.Errorf("marshaling publish payload: %w", err))
		return err
	}

	o := applySendOptions(opts)
	env := Envelope{
		Scope:  scope,
		Target: target,
		Data:   raw,
		Event:  o.event,
		ID:     o.id,
		At:     time.Now().UnixMilli(),
		Origin: h.instanceID,
	}

	h.dispatchEnvelope(env)

	if h.bus == nil {
		return nil
	}
	payload, err := json.Marshal(env)
	if err != nil {
		h.reportError(fmt.Errorf("marshaling envelope: %w", err))
		return err
	}
	if _, err := h.bus.Publish(ctx, h.busChannel, payload); err != nil {
		h.reportError(fmt.Errorf("publishing envelope: %w", err))
		return err
	}
	return nil
}

// dispatchEnvelope routes an envelope to local connections through the same
// paths as direct sends.
func (h *Hub) dispatchEnvelope(env Envelope) {
	opts := []SendOption{WithEvent(env.Event), WithID(env.ID)}
	switch env.Scope {
	case ScopeAll:
		h.SendToAll(env.Data, opts...)
	case ScopeUser:
		if env.Target != "" {
			h.SendToUser(env.Target, env.Data, opts...)
		}
	case ScopeRoom:
		if env.Target != "" {
			h.SendToRoom(env.Target, env.Data, opts...)
		}
	default:
		h.reportError(fmt.Errorf("unknown envelope scope %q", env.Scope))
	}
}

// startBusListener subscribes the hub to its bus channel. Subscribe failures
// are reported but never fatal: the hub keeps serving local traffic.
func (h *Hub) startBusListener() {
	err := h.bus.Subscribe(h.ctx, h.busChannel, func(channel string, payload []byte) {
		if channel != h.busChannel {
			return
		}
		h.handleBusMessage(payload)
	})
	if err != nil {
		h.reportError(fmt.Errorf("subscribing to bus channel %q: %w", h.busChannel, err))
	}
}

// handleBusMessage deserializes an inbound envelope, drops self-originated
// echoes, and routes the rest locally. Decode and routing errors are
// reported, never fatal to the listener.
func (h *Hub) handleBusMessage(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		h.reportError(fmt.Errorf("%w: %w", ErrDecodeEnvelope, err))
		return
	}
	if env.Origin == h.instanceID {
		// This process's own publish, already dispatched locally.
		h.busEchoesDropped.Add(1)
		return
	}
	h.logger.Debug("dispatching bus envelope",
		logger.Scope(string(env.Scope)),
		logger.Origin(env.Origin),
	)
	h.dispatchEnvelope(env)
}
