package hub

import "time"

// Liveness runs per connection:
//
//	ALIVE --tick--> probe sent, death timer armed
//	      --ack---> death timer cancelled, still ALIVE
//	      --death-> DEAD: timers cancelled, transport closed, deregistered
//
// The probe timer re-arms itself every interval until the connection
// leaves the live set.

func (h *Hub) scheduleProbeLocked(c *Conn) {
	c.probeSeq++
	seq := c.probeSeq
	c.probe = h.clock.AfterFunc(h.interval, func() { h.tick(c, seq) })
}

func (h *Hub) tick(c *Conn, seq uint64) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok || c.probeSeq != seq {
		h.mu.Unlock()
		return
	}
	h.scheduleProbeLocked(c)
	// An earlier unanswered probe keeps its deadline.
	if c.death == nil {
		c.deathSeq++
		dseq := c.deathSeq
		c.death = h.clock.AfterFunc(h.grace, func() { h.expire(c, dseq) })
	}
	t := c.transport
	h.mu.Unlock()

	if err := t.Ping(); err != nil {
		h.log.Debugw("liveness probe failed", "conn", c.id, "error", err)
	}
}

// Ack records a probe acknowledgement (a websocket pong).
func (h *Hub) Ack(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.death != nil {
		c.death.Stop()
		c.death = nil
		c.deathSeq++
	}
}

func (h *Hub) expire(c *Conn, seq uint64) {
	h.mu.Lock()
	if c.deathSeq != seq || !h.deregisterLocked(c) {
		h.mu.Unlock()
		return
	}
	n := len(h.conns)
	h.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		h.log.Debugw("close after eviction", "conn", c.id, "error", err)
	}
	h.log.Infow("connection terminated due to inactivity",
		"conn", c.id, "silent_for", h.interval+h.grace, "live", n, "connected_for", time.Since(c.connectedAt).Round(time.Second))
	h.BroadcastPresence()
}
