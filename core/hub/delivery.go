package hub

// Delivery controller: every frame headed for a connection goes through
// safeWrite. A write either reaches the sink directly, lands in the
// connection's bounded queue, or resolves through the drop policy. No path
// blocks on a slow client; flushing resumes on the sink's drained
// notification.

// safeWrite delivers one encoded frame to a connection. It reports whether
// the frame was handed to the sink or queued for later delivery. A sink
// failure tears the connection down and reports false.
func (h *Hub) safeWrite(c *connection, p []byte) bool {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return false
	}

	// A draining connection (or one with a backlog) must preserve write
	// order, so the frame goes to the queue.
	if c.draining || len(c.queue) > 0 {
		ok, disconnect := h.enqueue(c, p)
		c.mu.Unlock()
		if disconnect {
			h.Teardown(c.id)
		}
		return ok
	}

	res, err := c.sink.Write(p)
	if err != nil || res == WriteFailed {
		c.mu.Unlock()
		h.Teardown(c.id)
		return false
	}

	h.framesSent.Add(1)

	if res == WriteBuffered {
		// The frame is in the sink's own buffer; do not re-queue it. Hold
		// further writes until the sink drains.
		c.draining = true
		c.sink.NotifyDrained(func() {
			h.flushQueue(c)
		})
	}

	c.mu.Unlock()
	return true
}

// enqueue appends a frame to the connection's queue, applying the drop
// policy when the queue would exceed its limits. Called with c.mu held.
// The disconnect result tells the caller to tear the connection down after
// releasing the lock.
func (h *Hub) enqueue(c *connection, p []byte) (queued bool, disconnect bool) {
	if len(c.queue)+1 > c.maxItems || c.queuedBytes+len(p) > c.maxBytes {
		switch c.policy {
		case DropDisconnect:
			h.backpressureDisconnects.Add(1)
			return false, true
		case DropNewest:
			h.droppedNewest.Add(1)
			return false, false
		default: // DropOldest
			for len(c.queue) > 0 && (len(c.queue)+1 > c.maxItems || c.queuedBytes+len(p) > c.maxBytes) {
				c.queuedBytes -= len(c.queue[0])
				c.queue = c.queue[1:]
				h.droppedOldest.Add(1)
			}
			// A frame larger than the whole byte budget cannot fit even
			// into an empty queue.
			if c.queuedBytes+len(p) > c.maxBytes {
				h.droppedNewest.Add(1)
				return false, false
			}
		}
	}

	c.queue = append(c.queue, p)
	c.queuedBytes += len(p)
	updateMax(&h.peakQueueDepth, int64(len(c.queue)))
	updateMax(&h.peakQueueBytes, int64(c.queuedBytes))

	if !c.draining {
		c.draining = true
		h.flushLocked(c)
	}
	return true, false
}

// flushQueue is the drained-notification entry point: it re-acquires the
// connection mutex and resumes flushing.
func (h *Hub) flushQueue(c *connection) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	h.flushLocked(c)
	c.mu.Unlock()
}

// flushLocked writes queued frames in order until the queue empties or the
// sink signals backpressure again. Called with c.mu held; may release it only
// through the teardown path.
func (h *Hub) flushLocked(c *connection) {
	for len(c.queue) > 0 {
		p := c.queue[0]

		res, err := c.sink.Write(p)
		if err != nil || res == WriteFailed {
			c.mu.Unlock()
			h.Teardown(c.id)
			c.mu.Lock()
			return
		}

		c.queue = c.queue[1:]
		c.queuedBytes -= len(p)
		h.framesSent.Add(1)

		if res == WriteBuffered {
			c.sink.NotifyDrained(func() {
				h.flushQueue(c)
			})
			return
		}
	}
	c.draining = false
}
