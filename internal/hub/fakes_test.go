package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/pairchat/internal/hub"
	"github.com/iliyamo/pairchat/internal/model"
)

// --- transport ---

type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	pings   int
	closes  int
	sendErr error
}

func (t *fakeTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.frames = append(t.frames, append([]byte(nil), frame...))
	return nil
}

func (t *fakeTransport) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pings++
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *fakeTransport) counts() (pings, closes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings, t.closes
}

type presenceFrame struct {
	Online []hub.Identity `json:"online"`
}

type deliveryFrame struct {
	Text      *string `json:"text"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	File      *struct {
		Name string `json:"name"`
		Data string `json:"data"`
	} `json:"file"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// split sorts recorded frames into presence snapshots and deliveries.
func (t *fakeTransport) split(tb testing.TB) ([]presenceFrame, []deliveryFrame) {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	var ps []presenceFrame
	var ds []deliveryFrame
	for _, f := range t.frames {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(f, &probe); err != nil {
			tb.Fatalf("frame is not a JSON object: %s", f)
		}
		if _, ok := probe["online"]; ok {
			var p presenceFrame
			if err := json.Unmarshal(f, &p); err != nil {
				tb.Fatalf("decode presence: %v", err)
			}
			ps = append(ps, p)
			continue
		}
		var d deliveryFrame
		if err := json.Unmarshal(f, &d); err != nil {
			tb.Fatalf("decode delivery: %v", err)
		}
		ds = append(ds, d)
	}
	return ps, ds
}

func (t *fakeTransport) lastPresence(tb testing.TB) []hub.Identity {
	tb.Helper()
	ps, _ := t.split(tb)
	if len(ps) == 0 {
		tb.Fatal("no presence frame received")
	}
	return ps[len(ps)-1].Online
}

// --- clock ---

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) hub.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in order. Callbacks run
// without the clock lock held so they may schedule new timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// pending counts timers that are still armed.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// --- collaborators ---

type fakeStore struct {
	mu       sync.Mutex
	appended []model.Message
	err      error
	seq      int
	now      time.Time
}

func (s *fakeStore) Append(_ context.Context, m model.NewMessage) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.Message{}, s.err
	}
	s.seq++
	msg := model.Message{
		ID:        fmt.Sprintf("msg-%d", s.seq),
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Text:      m.Text,
		File:      m.File,
		CreatedAt: s.now.Add(time.Duration(s.seq) * time.Millisecond),
	}
	s.appended = append(s.appended, msg)
	return msg, nil
}

func (s *fakeStore) all() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.appended...)
}

type fakeBlobs struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (b *fakeBlobs) Put(_ context.Context, name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.puts == nil {
		b.puts = make(map[string][]byte)
	}
	b.puts[name] = data
	return nil
}

type fakeEvents struct {
	mu   sync.Mutex
	seen []string
}

func (e *fakeEvents) MessageCreated(_ context.Context, m model.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, m.ID)
	return errors.New("broker unavailable")
}

// --- setup ---

type fixture struct {
	hub    *hub.Hub
	clock  *fakeClock
	store  *fakeStore
	blobs  *fakeBlobs
	events *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  newFakeClock(),
		store:  &fakeStore{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		blobs:  &fakeBlobs{},
		events: &fakeEvents{},
	}
	f.hub = hub.New(hub.Options{
		PingInterval: 15 * time.Second,
		DeathGrace:   10 * time.Second,
		Store:        f.store,
		Blobs:        f.blobs,
		Events:       f.events,
		Clock:        f.clock,
		Logger:       zaptest.NewLogger(t).Sugar(),
	})
	return f
}

// connect registers a connection and, when userID is set, identifies it.
func (f *fixture) connect(t *testing.T, userID, username string) (*hub.Conn, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	c := hub.NewConn(tr)
	if err := f.hub.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if userID != "" {
		if !f.hub.Identify(c, hub.Identity{UserID: userID, Username: username}) {
			t.Fatalf("Identify(%s) returned false", userID)
		}
	}
	return c, tr
}
