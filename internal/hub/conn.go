package hub

import (
	"time"

	"github.com/google/uuid"
)

// Transport is the opaque handle to one persistent client link.
// Send must be safe for concurrent use.
type Transport interface {
	Send(frame []byte) error
	Ping() error
	Close() error
}

// PresenceSender is implemented by transports that keep only the newest
// pending presence snapshot.  BroadcastPresence prefers it over Send, so a
// busy link skips stale rosters instead of dropping the latest one.
type PresenceSender interface {
	SendPresence(frame []byte) error
}

// Identity is the verified owner of a connection.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Conn is a single live transport link. Everything below transport is
// guarded by the owning Hub's mutex.
type Conn struct {
	id          uuid.UUID
	transport   Transport
	connectedAt time.Time

	identity *Identity
	alive    bool

	probe    Timer
	probeSeq uint64
	death    Timer
	deathSeq uint64
}

// NewConn wraps a transport. The connection is anonymous until Hub.Identify.
func NewConn(t Transport) *Conn {
	return &Conn{
		id:          uuid.New(),
		transport:   t,
		connectedAt: time.Now().UTC(),
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() uuid.UUID { return c.id }

func (c *Conn) stopTimers() {
	if c.probe != nil {
		c.probe.Stop()
		c.probe = nil
	}
	if c.death != nil {
		c.death.Stop()
		c.death = nil
	}
	// Bumping the sequences turns any callback already in flight into a no-op.
	c.probeSeq++
	c.deathSeq++
}
