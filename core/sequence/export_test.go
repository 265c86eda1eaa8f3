package sequence

import "time"

// SweepOnce runs a single local-counter TTL eviction pass.
func (e *Enhancer) SweepOnce(now time.Time) { e.sweepOnce(now) }
