package hub

import (
	"time"
)

// Replay buffer manager: per-user bounded history of (frame id, encoded
// frame) pairs. Memory is bounded three ways: per-user capacity, a global
// tracked-user cap evicting the least-recently-active user, and a TTL sweep.

type recentEntry struct {
	id      string
	payload []byte
}

type recentBuffer struct {
	entries    []recentEntry
	lastActive time.Time
}

// pushRecent appends a frame to the user's replay buffer, trimming to the
// per-user cap and enforcing the global tracked-user cap.
func (h *Hub) pushRecent(userID, frameID string, payload []byte) {
	if h.recentSize <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	buf, ok := h.recent[userID]
	if !ok {
		buf = &recentBuffer{}
		h.recent[userID] = buf
	}
	buf.entries = append(buf.entries, recentEntry{id: frameID, payload: payload})
	if n := len(buf.entries) - h.recentSize; n > 0 {
		buf.entries = append(buf.entries[:0], buf.entries[n:]...)
	}
	buf.lastActive = time.Now()

	for len(h.recent) > h.maxTrackedUsers {
		h.evictOldestRecentLocked()
	}
}

// evictOldestRecentLocked drops the least-recently-active user's buffer.
// Called with h.mu held.
func (h *Hub) evictOldestRecentLocked() {
	var (
		oldestUser string
		oldestAt   time.Time
		found      bool
	)
	for userID, buf := range h.recent {
		if !found || buf.lastActive.Before(oldestAt) {
			oldestUser = userID
			oldestAt = buf.lastActive
			found = true
		}
	}
	if found {
		delete(h.recent, oldestUser)
	}
}

// replayFrom writes every buffered frame strictly newer than lastFrameID to
// the connection, in original order. An unknown or evicted id replays
// nothing: the client must treat it as a gap.
func (h *Hub) replayFrom(userID string, c *connection, lastFrameID string) {
	h.mu.Lock()
	buf, ok := h.recent[userID]
	if !ok || len(buf.entries) == 0 {
		h.mu.Unlock()
		return
	}
	buf.lastActive = time.Now()

	start := -1
	for i, e := range buf.entries {
		if e.id == lastFrameID {
			start = i
			break
		}
	}
	if start == -1 {
		h.mu.Unlock()
		return
	}
	pending := make([][]byte, 0, len(buf.entries)-start-1)
	for _, e := range buf.entries[start+1:] {
		pending = append(pending, e.payload)
	}
	h.mu.Unlock()

	for _, payload := range pending {
		if !h.safeWrite(c, payload) {
			return
		}
	}
}

// sweepRecent periodically drops replay buffers idle longer than the TTL.
// Runs only when both the replay feature and the TTL are enabled.
func (h *Hub) sweepRecent() {
	defer h.wg.Done()

	interval := h.recentTTL / 4
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case now := <-ticker.C:
			h.sweepRecentOnce(now)
		}
	}
}

// sweepRecentOnce drops every replay buffer idle longer than the TTL, as of
// the given instant.
func (h *Hub) sweepRecentOnce(now time.Time) {
	h.mu.Lock()
	for userID, buf := range h.recent {
		if now.Sub(buf.lastActive) > h.recentTTL {
			delete(h.recent, userID)
		}
	}
	h.mu.Unlock()
}
