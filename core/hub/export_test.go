package hub

import "time"

// SweepRecentOnce runs a single replay-buffer TTL eviction pass.
func (h *Hub) SweepRecentOnce(now time.Time) { h.sweepRecentOnce(now) }
