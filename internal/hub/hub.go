// Package hub tracks which users are connected, keeps connection liveness
// accurate, and routes chat messages to the recipient's live connections
// while recording them in the message store.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iliyamo/pairchat/internal/model"
)

const (
	DefaultPingInterval = 15 * time.Second
	DefaultDeathGrace   = 10 * time.Second
	defaultStoreTimeout = 5 * time.Second
)

// Verifier resolves a handshake credential into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// MessageStore durably records messages and assigns their id and createdAt.
type MessageStore interface {
	Append(ctx context.Context, m model.NewMessage) (model.Message, error)
}

// BlobStore keeps uploaded attachment bytes.
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Events is notified after a message has been persisted.
type Events interface {
	MessageCreated(ctx context.Context, m model.Message) error
}

// Options configures a Hub. Zero values fall back to defaults; Events and
// Blobs may be nil.
type Options struct {
	PingInterval time.Duration
	DeathGrace   time.Duration
	StoreTimeout time.Duration

	Store  MessageStore
	Blobs  BlobStore
	Events Events

	Clock  Clock
	Logger *zap.SugaredLogger
}

// Hub owns the set of live connections. The set is the presence roster.
type Hub struct {
	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool

	// sendMu orders presence broadcasts so a slower, older snapshot can
	// never be enqueued after a newer one.
	sendMu sync.Mutex

	interval     time.Duration
	grace        time.Duration
	storeTimeout time.Duration

	store  MessageStore
	blobs  BlobStore
	events Events
	clock  Clock
	log    *zap.SugaredLogger
}

func New(opts Options) *Hub {
	h := &Hub{
		conns:        make(map[*Conn]struct{}),
		interval:     opts.PingInterval,
		grace:        opts.DeathGrace,
		storeTimeout: opts.StoreTimeout,
		store:        opts.Store,
		blobs:        opts.Blobs,
		events:       opts.Events,
		clock:        opts.Clock,
		log:          opts.Logger,
	}
	if h.interval <= 0 {
		h.interval = DefaultPingInterval
	}
	if h.grace <= 0 {
		h.grace = DefaultDeathGrace
	}
	if h.storeTimeout <= 0 {
		h.storeTimeout = defaultStoreTimeout
	}
	if h.clock == nil {
		h.clock = realClock{}
	}
	if h.log == nil {
		h.log = zap.S()
	}
	h.log = h.log.Named("hub")
	return h
}

// Register adds a freshly connected link to the live set, starts its
// liveness cycle and broadcasts presence.
func (h *Hub) Register(c *Conn) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.conns[c] = struct{}{}
	c.alive = true
	h.scheduleProbeLocked(c)
	n := len(h.conns)
	h.mu.Unlock()

	h.log.Debugw("connection registered", "conn", c.id, "live", n)
	h.BroadcastPresence()
	return nil
}

// Deregister removes a connection and cancels all of its timers. It reports
// whether the connection was still registered; removing an absent
// connection is a no-op and does not broadcast.
func (h *Hub) Deregister(c *Conn) bool {
	h.mu.Lock()
	removed := h.deregisterLocked(c)
	n := len(h.conns)
	h.mu.Unlock()

	if !removed {
		return false
	}
	h.log.Debugw("connection deregistered", "conn", c.id, "live", n)
	h.BroadcastPresence()
	return true
}

func (h *Hub) deregisterLocked(c *Conn) bool {
	if _, ok := h.conns[c]; !ok {
		return false
	}
	delete(h.conns, c)
	c.alive = false
	c.stopTimers()
	return true
}

// Identify attaches a verified identity to a registered connection and
// broadcasts presence. It returns false when the connection closed before
// verification finished.
func (h *Hub) Identify(c *Conn, id Identity) bool {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return false
	}
	c.identity = &id
	h.mu.Unlock()

	h.log.Infow("connection identified", "conn", c.id, "user_id", id.UserID, "username", id.Username)
	h.BroadcastPresence()
	return true
}

// IdentityOf returns the resolved identity of a connection, if any.
func (h *Hub) IdentityOf(c *Conn) (Identity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

// Alive reports whether the connection is registered and not evicted.
func (h *Hub) Alive(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return c.alive
}

// Len returns the number of live connections, anonymous ones included.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Presence returns the current snapshot: one entry per identified user,
// sorted by username then user id.
func (h *Hub) Presence() []Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presenceLocked()
}

func (h *Hub) presenceLocked() []Identity {
	seen := make(map[string]bool, len(h.conns))
	online := make([]Identity, 0, len(h.conns))
	for c := range h.conns {
		if c.identity == nil || seen[c.identity.UserID] {
			continue
		}
		seen[c.identity.UserID] = true
		online = append(online, *c.identity)
	}
	sort.Slice(online, func(i, j int) bool {
		if online[i].Username != online[j].Username {
			return online[i].Username < online[j].Username
		}
		return online[i].UserID < online[j].UserID
	})
	return online
}

// Lookup returns every live connection owned by userID.
func (h *Hub) Lookup(userID string) []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Conn
	for c := range h.conns {
		if c.identity != nil && c.identity.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

type presenceEnvelope struct {
	Online []Identity `json:"online"`
}

// BroadcastPresence sends the current snapshot to every live connection,
// anonymous ones included, through SendPresence when the transport has it.
// A failed send is logged and skipped.
func (h *Hub) BroadcastPresence() {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	online := h.presenceLocked()
	targets := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	frame, err := json.Marshal(presenceEnvelope{Online: online})
	if err != nil {
		h.log.Errorw("failed to encode presence", "error", err)
		return
	}
	for _, c := range targets {
		send := c.transport.Send
		if ps, ok := c.transport.(PresenceSender); ok {
			send = ps.SendPresence
		}
		if err := send(frame); err != nil {
			h.log.Warnw("presence send failed", "conn", c.id, "error", fmt.Errorf("%w: %v", ErrTransportSend, err))
		}
	}
}

// Close deregisters and closes every live connection. Later Register calls
// fail with ErrClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		h.deregisterLocked(c)
		conns = append(conns, c)
	}
	h.mu.Unlock()

	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.transport.Close())
	}
	h.log.Infow("hub closed", "connections", len(conns))
	return err
}
