package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/ssekit/core/frame"
	"github.com/dmitrymomot/ssekit/core/logger"
)

const (
	// DefaultHeartbeatInterval is the period between no-op comment frames.
	DefaultHeartbeatInterval = 15 * time.Second

	// DefaultRetryMs is the client reconnect delay announced at registration.
	DefaultRetryMs = 2000

	// DefaultMaxQueueItems bounds a connection's outbound queue length.
	DefaultMaxQueueItems = 100

	// DefaultMaxQueueBytes bounds a connection's outbound queue size.
	DefaultMaxQueueBytes = 262144

	// DefaultRecentBufferSize is the per-user replay buffer capacity.
	DefaultRecentBufferSize = 20

	// DefaultRecentBufferTTL evicts replay buffers idle longer than this.
	DefaultRecentBufferTTL = 30 * time.Minute

	// DefaultMaxTrackedUsers caps how many users may hold replay buffers.
	DefaultMaxTrackedUsers = 10000

	// DefaultBusChannel is the pub/sub channel for cross-instance envelopes.
	DefaultBusChannel = "ssekit:bus"
)

// Hub is the event-distribution engine. It is safe for concurrent use; all
// operations may be called from any goroutine.
type Hub struct {
	instanceID string
	logger     *slog.Logger

	retryMs         int
	heartbeat       time.Duration
	maxQueueItems   int
	maxQueueBytes   int
	dropPolicy      DropPolicy
	maxPayloadSize  int
	recentSize      int
	recentTTL       time.Duration
	maxTrackedUsers int
	busChannel      string
	bus             Bus

	mu     sync.RWMutex
	conns  map[string]*connection
	users  map[string]map[string]*connection
	rooms  map[string]map[string]*connection
	recent map[string]*recentBuffer

	accepting atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	observers observers

	framesSent              atomic.Int64
	droppedOldest           atomic.Int64
	droppedNewest           atomic.Int64
	backpressureDisconnects atomic.Int64
	peakQueueDepth          atomic.Int64
	peakQueueBytes          atomic.Int64
	errorCount              atomic.Int64
	busEchoesDropped        atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the structured logger. Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHeartbeatInterval sets the default heartbeat period for new
// connections. Zero or negative disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) {
		h.heartbeat = d
	}
}

// WithRetry sets the reconnect delay in milliseconds announced to clients at
// registration.
func WithRetry(ms int) Option {
	return func(h *Hub) {
		if ms > 0 {
			h.retryMs = ms
		}
	}
}

// WithQueueLimits sets the default per-connection outbound queue bounds.
func WithQueueLimits(items, bytes int) Option {
	return func(h *Hub) {
		if items > 0 {
			h.maxQueueItems = items
		}
		if bytes > 0 {
			h.maxQueueBytes = bytes
		}
	}
}

// WithDropPolicy sets the default policy applied when a connection's queue
// overflows.
func WithDropPolicy(p DropPolicy) Option {
	return func(h *Hub) {
		h.dropPolicy = p
	}
}

// WithMaxPayloadSize caps the serialized payload size per frame. Oversized
// sends are abandoned and reported to error observers. Zero disables the cap.
func WithMaxPayloadSize(n int) Option {
	return func(h *Hub) {
		h.maxPayloadSize = n
	}
}

// WithRecentBufferSize sets the per-user replay buffer capacity. Zero
// disables replay entirely: no buffers are maintained.
func WithRecentBufferSize(n int) Option {
	return func(h *Hub) {
		if n >= 0 {
			h.recentSize = n
		}
	}
}

// WithRecentBufferTTL sets the idle TTL after which a user's replay buffer is
// swept. Zero disables the sweep.
func WithRecentBufferTTL(ttl time.Duration) Option {
	return func(h *Hub) {
		h.recentTTL = ttl
	}
}

// WithMaxTrackedUsers caps how many users may hold replay buffers at once.
// The least-recently-active user's buffer is evicted when the cap is
// exceeded.
func WithMaxTrackedUsers(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxTrackedUsers = n
		}
	}
}

// WithBus attaches a publish/subscribe bus adapter for cross-instance
// fan-out. The hub subscribes to the bus channel on construction.
func WithBus(bus Bus) Option {
	return func(h *Hub) {
		h.bus = bus
	}
}

// WithBusChannel overrides the pub/sub channel name.
func WithBusChannel(name string) Option {
	return func(h *Hub) {
		if name != "" {
			h.busChannel = name
		}
	}
}

// New creates a Hub and starts its background workers (replay-buffer sweep
// when the TTL is enabled, bus listener when a bus is attached). Call
// Shutdown to release them.
func New(opts ...Option) *Hub {
	h := &Hub{
		instanceID:      uuid.NewString(),
		logger:          discardLogger(),
		retryMs:         DefaultRetryMs,
		heartbeat:       DefaultHeartbeatInterval,
		maxQueueItems:   DefaultMaxQueueItems,
		maxQueueBytes:   DefaultMaxQueueBytes,
		dropPolicy:      DropOldest,
		recentSize:      DefaultRecentBufferSize,
		recentTTL:       DefaultRecentBufferTTL,
		maxTrackedUsers: DefaultMaxTrackedUsers,
		busChannel:      DefaultBusChannel,
		conns:           make(map[string]*connection),
		users:           make(map[string]map[string]*connection),
		rooms:           make(map[string]map[string]*connection),
		recent:          make(map[string]*recentBuffer),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.accepting.Store(true)

	if h.recentSize > 0 && h.recentTTL > 0 {
		h.wg.Add(1)
		go h.sweepRecent()
	}
	if h.bus != nil {
		h.startBusListener()
	}

	return h
}

// InstanceID returns the process-unique origin id stamped on outgoing
// envelopes.
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// RegisterOption configures a single connection at registration time.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	rooms       []string
	heartbeat   time.Duration
	hasHB       bool
	retryMs     int
	maxItems    int
	maxBytes    int
	policy      DropPolicy
	hasPolicy   bool
	lastFrameID string
	headers     http.Header
}

// WithRooms joins the connection to the given rooms at registration.
func WithRooms(rooms ...string) RegisterOption {
	return func(o *registerOptions) {
		o.rooms = append(o.rooms, rooms...)
	}
}

// WithConnHeartbeat overrides the heartbeat period for this connection.
func WithConnHeartbeat(d time.Duration) RegisterOption {
	return func(o *registerOptions) {
		o.heartbeat = d
		o.hasHB = true
	}
}

// WithConnRetry overrides the announced reconnect delay for this connection.
func WithConnRetry(ms int) RegisterOption {
	return func(o *registerOptions) {
		if ms > 0 {
			o.retryMs = ms
		}
	}
}

// WithConnQueueLimits overrides the outbound queue bounds for this
// connection.
func WithConnQueueLimits(items, bytes int) RegisterOption {
	return func(o *registerOptions) {
		if items > 0 {
			o.maxItems = items
		}
		if bytes > 0 {
			o.maxBytes = bytes
		}
	}
}

// WithConnDropPolicy overrides the drop policy for this connection.
func WithConnDropPolicy(p DropPolicy) RegisterOption {
	return func(o *registerOptions) {
		o.policy = p
		o.hasPolicy = true
	}
}

// WithLastFrameID supplies the client's last-delivered frame id, triggering
// replay of newer buffered frames before Register returns. Transports that
// can read request headers use RegisterHTTP instead, which discovers the id
// itself.
func WithLastFrameID(id string) RegisterOption {
	return func(o *registerOptions) {
		o.lastFrameID = id
	}
}

// Register creates a connection for userID over the given sink: it writes the
// protocol preamble, indexes the connection, starts its heartbeat, and
// replays missed frames when a last frame id was supplied. It fails with
// ErrNotAccepting once StopAccepting or Shutdown has been called.
func (h *Hub) Register(userID string, sink Sink, opts ...RegisterOption) (*ConnHandle, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	if !h.accepting.Load() {
		return nil, ErrNotAccepting
	}

	o := registerOptions{
		retryMs:  h.retryMs,
		maxItems: h.maxQueueItems,
		maxBytes: h.maxQueueBytes,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &connection{
		id:        uuid.NewString(),
		userID:    userID,
		sink:      sink,
		createdAt: time.Now(),
		rooms:     make(map[string]struct{}, len(o.rooms)),
		heartbeat: h.heartbeat,
		done:      make(chan struct{}),
		maxItems:  o.maxItems,
		maxBytes:  o.maxBytes,
		policy:    h.dropPolicy,
	}
	if o.hasHB {
		c.heartbeat = o.heartbeat
	}
	if o.hasPolicy {
		c.policy = o.policy
	}
	for _, room := range o.rooms {
		c.rooms[room] = struct{}{}
	}

	preamble := append(frame.Retry(o.retryMs), frame.Comment("connected")...)
	if res, err := sink.Write(preamble); err != nil || res == WriteFailed {
		_ = sink.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSinkWrite, err)
		}
		return nil, ErrSinkWrite
	}

	h.mu.Lock()
	if !h.accepting.Load() {
		// Lost the race with StopAccepting/Shutdown.
		h.mu.Unlock()
		_ = sink.Close()
		return nil, ErrNotAccepting
	}
	h.conns[c.id] = c
	bucket, ok := h.users[userID]
	if !ok {
		bucket = make(map[string]*connection)
		h.users[userID] = bucket
	}
	bucket[c.id] = c
	for room := range c.rooms {
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[string]*connection)
			h.rooms[room] = members
		}
		members[c.id] = c
	}
	h.mu.Unlock()

	if c.heartbeat > 0 {
		go h.runHeartbeat(c)
	}

	if o.lastFrameID != "" && h.recentSize > 0 {
		h.replayFrom(userID, c, o.lastFrameID)
	}

	h.observers.connect(ConnectEvent{UserID: userID, ConnID: c.id})
	h.logger.Debug("connection registered",
		logger.ConnID(c.id),
		logger.UserID(userID),
	)

	return &ConnHandle{hub: h, conn: c}, nil
}

// Teardown removes a connection from every index, cancels its heartbeat,
// discards its queue, and closes its sink. It is idempotent: an unknown id is
// a no-op. Safe to call from the transport's close/error path, from
// application code, and from the shutdown sweep concurrently.
func (h *Hub) Teardown(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	if bucket, ok := h.users[c.userID]; ok {
		delete(bucket, connID)
		if len(bucket) == 0 {
			delete(h.users, c.userID)
		}
	}
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	c.stop()

	c.mu.Lock()
	c.closed = true
	c.queue = nil
	c.queuedBytes = 0
	c.draining = false
	c.mu.Unlock()

	_ = c.sink.Close()

	h.observers.disconnect(DisconnectEvent{UserID: c.userID, ConnID: connID})
	h.logger.Debug("connection torn down",
		logger.ConnID(connID),
		logger.UserID(c.userID),
	)
}

// JoinRoom adds a connection to a room. Returns false if the connection id is
// unknown.
func (h *Hub) JoinRoom(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*connection)
		h.rooms[room] = members
	}
	members[connID] = c
	c.rooms[room] = struct{}{}
	return true
}

// LeaveRoom removes a connection from a room. Returns false if the connection
// id is unknown.
func (h *Hub) LeaveRoom(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
	return true
}

// ConnectionsOf returns the ids of a user's live connections.
func (h *Hub) ConnectionsOf(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bucket := h.users[userID]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionsIn returns the ids of a room's member connections.
func (h *Hub) ConnectionsIn(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// AllConnections returns the ids of every live connection.
func (h *Hub) AllConnections() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}

// Close tears down the given users' connections, or every connection when no
// user is named.
func (h *Hub) Close(userIDs ...string) {
	var ids []string
	h.mu.RLock()
	if len(userIDs) == 0 {
		for id := range h.conns {
			ids = append(ids, id)
		}
	} else {
		for _, userID := range userIDs {
			for id := range h.users[userID] {
				ids = append(ids, id)
			}
		}
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Teardown(id)
	}
}

// SendOption configures a single send or publish.
type SendOption func(*sendOptions)

type sendOptions struct {
	event string
	id    string
}

// WithEvent sets the frame's event name.
func WithEvent(name string) SendOption {
	return func(o *sendOptions) {
		o.event = name
	}
}

// WithID sets the frame id. Frames with an id are retained in the sender-side
// replay buffer of each recipient user.
func WithID(id string) SendOption {
	return func(o *sendOptions) {
		o.id = id
	}
}

// SendToUser delivers one frame to every live connection of userID and
// returns the delivered count. An offline user yields zero; this is not an
// error.
func (h *Hub) SendToUser(userID string, data any, opts ...SendOption) int {
	o := applySendOptions(opts)

	h.mu.RLock()
	bucket := h.users[userID]
	if len(bucket) == 0 {
		h.mu.RUnlock()
		return 0
	}
	targets := make([]*connection, 0, len(bucket))
	for _, c := range bucket {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	payload, err := h.encode(data, o)
	if err != nil {
		return 0
	}

	count := 0
	for _, c := range targets {
		if h.safeWrite(c, payload) {
			count++
		}
	}

	if o.id != "" && h.recentSize > 0 {
		h.pushRecent(userID, o.id, payload)
	}

	h.observers.messageSent(MessageSentEvent{Scope: ScopeUser, Target: userID, Delivered: count})
	return count
}

// SendToRoom delivers one frame to every member of a room and returns the
// delivered count.
func (h *Hub) SendToRoom(room string, data any, opts ...SendOption) int {
	o := applySendOptions(opts)

	h.mu.RLock()
	members := h.rooms[room]
	if len(members) == 0 {
		h.mu.RUnlock()
		return 0
	}
	targets := make([]*connection, 0, len(members))
	for _, c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	payload, err := h.encode(data, o)
	if err != nil {
		return 0
	}

	count := 0
	seen := make(map[string]struct{})
	for _, c := range targets {
		if h.safeWrite(c, payload) {
			count++
		}
		seen[c.userID] = struct{}{}
	}

	if o.id != "" && h.recentSize > 0 {
		for userID := range seen {
			h.pushRecent(userID, o.id, payload)
		}
	}

	h.observers.messageSent(MessageSentEvent{Scope: ScopeRoom, Target: room, Delivered: count})
	return count
}

// SendToAll delivers one frame to every live connection and returns the
// delivered count.
func (h *Hub) SendToAll(data any, opts ...SendOption) int {
	o := applySendOptions(opts)
	payload, err := h.encode(data, o)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	count := 0
	seen := make(map[string]struct{})
	for _, c := range targets {
		if h.safeWrite(c, payload) {
			count++
		}
		seen[c.userID] = struct{}{}
	}

	if o.id != "" && h.recentSize > 0 {
		for userID := range seen {
			h.pushRecent(userID, o.id, payload)
		}
	}

	h.observers.messageSent(MessageSentEvent{Scope: ScopeAll, Delivered: count})
	return count
}

// SendToConn delivers one frame to a single connection. Returns false if the
// id is unknown or the write failed.
func (h *Hub) SendToConn(connID string, data any, opts ...SendOption) bool {
	o := applySendOptions(opts)

	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	payload, err := h.encode(data, o)
	if err != nil {
		return false
	}
	return h.safeWrite(c, payload)
}

// StopAccepting makes subsequent Register calls fail with ErrNotAccepting.
// Already-open connections are unaffected.
func (h *Hub) StopAccepting() {
	h.accepting.Store(false)
}

// ShutdownOption configures a graceful shutdown.
type ShutdownOption func(*shutdownOptions)

type shutdownOptions struct {
	notice      any
	noticeEvent string
	announce    bool
	grace       time.Duration
}

// WithShutdownNotice broadcasts data (under the given event name) to all
// connections before the grace period.
func WithShutdownNotice(data any, event string) ShutdownOption {
	return func(o *shutdownOptions) {
		o.notice = data
		o.noticeEvent = event
		o.announce = true
	}
}

// WithGracePeriod waits the given duration between the shutdown notice and
// tearing connections down, giving clients time to read the notice.
func WithGracePeriod(d time.Duration) ShutdownOption {
	return func(o *shutdownOptions) {
		if d > 0 {
			o.grace = d
		}
	}
}

// Shutdown stops accepting registrations, optionally announces the shutdown,
// waits the grace period (bounded by ctx), tears down every remaining
// connection, stops the background sweepers, and closes the bus adapter when
// it exposes a Close. After Shutdown returns, AllConnections is empty and no
// heartbeat or sweep fires again.
func (h *Hub) Shutdown(ctx context.Context, opts ...ShutdownOption) error {
	var o shutdownOptions
	for _, opt := range opts {
		opt(&o)
	}

	h.StopAccepting()

	if o.announce {
		h.SendToAll(o.notice, WithEvent(o.noticeEvent))
	}
	if o.grace > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(o.grace):
		}
	}

	h.Close()

	h.cancel()
	h.wg.Wait()

	if closer, ok := h.bus.(io.Closer); ok && closer != nil {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("closing bus adapter: %w", err)
		}
	}
	return ctx.Err()
}

func (h *Hub) encode(data any, o sendOptions) ([]byte, error) {
	payload, err := frame.Encode(data,
		frame.WithID(o.id),
		frame.WithEvent(o.event),
		frame.WithMaxPayloadSize(h.maxPayloadSize),
	)
	if err != nil {
		h.reportError(err)
		return nil, err
	}
	return payload, nil
}

// runHeartbeat writes a no-op comment frame on a fixed interval until the
// connection is torn down. Heartbeats go through safeWrite, so they obey
// backpressure like any other frame.
func (h *Hub) runHeartbeat(c *connection) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			h.safeWrite(c, frame.Comment(fmt.Sprintf("ping %d", now.UnixMilli())))
		}
	}
}

func (h *Hub) reportError(err error) {
	h.errorCount.Add(1)
	h.logger.Error("hub error", logger.Error(err))
	h.observers.error(err)
}

func applySendOptions(opts []SendOption) sendOptions {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func updateMax(m *atomic.Int64, v int64) {
	for {
		cur := m.Load()
		if v <= cur || m.CompareAndSwap(cur, v) {
			return
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
