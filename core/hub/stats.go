package hub

// Stats is a point-in-time snapshot of the hub's live state and cumulative
// counters, suitable for an operational stats endpoint.
type Stats struct {
	Connections int // live connections
	Users       int // users with at least one live connection
	Rooms       int // non-empty rooms
	RecentUsers int // users currently holding a replay buffer

	FramesSent              int64 // frames handed to sinks (heartbeats included)
	DroppedOldest           int64 // frames evicted from queue fronts
	DroppedNewest           int64 // incoming frames dropped on full queues
	BackpressureDisconnects int64 // connections torn down by the disconnect policy
	PeakQueueDepth          int64 // highest queue length seen on any connection
	PeakQueueBytes          int64 // highest queued byte count seen on any connection
	Errors                  int64 // reported non-fatal faults
	BusEchoesDropped        int64 // self-originated envelopes discarded
}

// Stats returns a snapshot of live counts and cumulative counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	s := Stats{
		Connections: len(h.conns),
		Users:       len(h.users),
		Rooms:       len(h.rooms),
		RecentUsers: len(h.recent),
	}
	h.mu.RUnlock()

	s.FramesSent = h.framesSent.Load()
	s.DroppedOldest = h.droppedOldest.Load()
	s.DroppedNewest = h.droppedNewest.Load()
	s.BackpressureDisconnects = h.backpressureDisconnects.Load()
	s.PeakQueueDepth = h.peakQueueDepth.Load()
	s.PeakQueueBytes = h.peakQueueBytes.Load()
	s.Errors = h.errorCount.Load()
	s.BusEchoesDropped = h.busEchoesDropped.Load()
	return s
}
