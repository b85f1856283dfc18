package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/pairchat/internal/config"
	"github.com/iliyamo/pairchat/internal/hub"
	"github.com/iliyamo/pairchat/internal/middleware"
	"github.com/iliyamo/pairchat/internal/utils"
)

type chatServer struct {
	srv   *httptest.Server
	hub   *hub.Hub
	store *memMessages
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	return newChatServerWith(t, &memMessages{}, hub.Options{})
}

func newChatServerWith(t *testing.T, store *memMessages, opts hub.Options) *chatServer {
	t.Helper()
	opts.Store = store
	opts.Logger = zap.NewNop().Sugar()
	h := hub.New(opts)
	ws := NewWSHandler(h, middleware.TokenVerifier{Secret: testSecret},
		config.WSConfig{MaxFrameBytes: 1 << 20, SendBuffer: 16, InboundBuffer: 8, WriteWait: time.Second}, "http://localhost:5173")
	chat := NewChatHandler(newMemUsers(), store, h)

	e := echo.New()
	e.GET("/ws", ws.Serve)
	e.GET("/online", chat.Online)
	e.GET("/messages/:userId", chat.Messages, middleware.CookieAuth(testSecret))

	s := &chatServer{srv: httptest.NewServer(e), hub: h, store: store}
	t.Cleanup(func() {
		_ = h.Close()
		s.srv.Close()
	})
	return s
}

func (s *chatServer) token(t *testing.T, userID, username string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, userID, username, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok.Token
}

func (s *chatServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Cookie", middleware.TokenCookie+"="+token)
	}
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Online    []hub.Identity `json:"online"`
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Text      *string        `json:"text"`
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(frame) bool) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("frame is not JSON: %s", data)
		}
		if match(f) {
			return f
		}
	}
}

func onlineIncludes(userID string) func(frame) bool {
	return func(f frame) bool {
		if f.Online == nil {
			return false
		}
		for _, id := range f.Online {
			if id.UserID == userID {
				return true
			}
		}
		return false
	}
}

func TestWebsocketPresenceAndDelivery(t *testing.T) {
	s := newChatServer(t)

	alice := s.dial(t, s.token(t, "u-alice", "alice"))
	readUntil(t, alice, "alice in presence", onlineIncludes("u-alice"))

	bob := s.dial(t, s.token(t, "u-bob", "bob"))
	readUntil(t, bob, "bob in presence", onlineIncludes("u-bob"))
	readUntil(t, alice, "bob seen by alice", onlineIncludes("u-bob"))

	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"recipient":"u-bob","text":"hello bob"}`)); err != nil {
		t.Fatal(err)
	}
	got := readUntil(t, bob, "delivery", func(f frame) bool { return f.ID != "" })
	if got.Sender != "u-alice" || got.Recipient != "u-bob" || got.Text == nil || *got.Text != "hello bob" {
		t.Fatalf("delivery = %+v", got)
	}

	// History over HTTP sees the same message.
	req, _ := http.NewRequest(http.MethodGet, s.srv.URL+"/messages/u-alice", nil)
	req.AddCookie(&http.Cookie{Name: middleware.TokenCookie, Value: s.token(t, "u-bob", "bob")})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var history []struct{ ID string }
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ID != got.ID {
		t.Fatalf("history = %+v, want [%s]", history, got.ID)
	}
}

func TestWebsocketDisconnectUpdatesPresence(t *testing.T) {
	s := newChatServer(t)

	alice := s.dial(t, s.token(t, "u-alice", "alice"))
	readUntil(t, alice, "alice in presence", onlineIncludes("u-alice"))
	bob := s.dial(t, s.token(t, "u-bob", "bob"))
	readUntil(t, alice, "bob in presence", onlineIncludes("u-bob"))

	_ = bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	bob.Close()

	readUntil(t, alice, "bob gone", func(f frame) bool {
		return f.Online != nil && !onlineIncludes("u-bob")(f)
	})
}

func TestWebsocketAnonymousAndBadToken(t *testing.T) {
	s := newChatServer(t)
	watcher := s.dial(t, s.token(t, "u-w", "walt"))
	readUntil(t, watcher, "watcher in presence", onlineIncludes("u-w"))

	anon := s.dial(t, "")
	bad := s.dial(t, "not-a-token")
	// Both still get snapshots, and neither shows up in them.
	for _, c := range []*websocket.Conn{anon, bad} {
		f := readUntil(t, c, "snapshot", func(f frame) bool { return f.Online != nil })
		for _, id := range f.Online {
			if id.UserID != "u-w" {
				t.Fatalf("unexpected identity %+v in snapshot", id)
			}
		}
	}

	// Messages from an anonymous connection are dropped.
	_ = anon.WriteMessage(websocket.TextMessage, []byte(`{"recipient":"u-w","text":"psst"}`))
	time.Sleep(100 * time.Millisecond)
	if n := s.store.count(); n != 0 {
		t.Fatalf("store has %d messages from an anonymous sender", n)
	}

	resp, err := http.Get(s.srv.URL + "/online")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var snap struct{ Online []hub.Identity }
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	if len(snap.Online) != 1 || snap.Online[0].UserID != "u-w" {
		t.Fatalf("/online = %+v", snap.Online)
	}
}

func TestWebsocketSlowStoreDoesNotEvictResponsiveClient(t *testing.T) {
	store := &memMessages{delay: 300 * time.Millisecond}
	s := newChatServerWith(t, store, hub.Options{
		PingInterval: 50 * time.Millisecond,
		DeathGrace:   100 * time.Millisecond,
	})

	alice := s.dial(t, s.token(t, "u-alice", "alice"))
	readUntil(t, alice, "alice in presence", onlineIncludes("u-alice"))

	// Keep reading so the client answers pings.
	go func() {
		_ = alice.SetReadDeadline(time.Time{})
		for {
			if _, _, err := alice.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"recipient":"u-bob","text":"slow"}`)); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for store.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	if n := store.count(); n != 1 {
		t.Fatalf("persisted %d messages, want 1", n)
	}
	if n := s.hub.Len(); n != 1 {
		t.Fatalf("live connections after a slow append = %d, want 1", n)
	}
}

func TestWSTransportKeepsLatestPresence(t *testing.T) {
	tr := newWSTransport(nil, config.WSConfig{SendBuffer: 1})
	if err := tr.Send([]byte("delivery")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Send([]byte("overflow")); err != errSendBufferFull {
		t.Fatalf("Send on a full queue = %v, want errSendBufferFull", err)
	}
	for _, snap := range []string{`{"online":[]}`, `{"online":[{"userId":"u1"}]}`} {
		if err := tr.SendPresence([]byte(snap)); err != nil {
			t.Fatalf("SendPresence with a full queue: %v", err)
		}
	}
	if got := string(tr.takePresence()); got != `{"online":[{"userId":"u1"}]}` {
		t.Fatalf("pending snapshot = %s, want the newest", got)
	}
	if tr.takePresence() != nil {
		t.Fatal("snapshot taken twice")
	}
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin("http://localhost:5173")
	cases := map[string]bool{
		"":                      true,
		"http://localhost:5173": true,
		"http://chat.example":   true, // same host as the request
		"http://evil.example":   false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://chat.example/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := check(r); got != want {
			t.Errorf("origin %q allowed = %v, want %v", origin, got, want)
		}
	}
}
