package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := NewRelay(log, nil, nil, "test-instance")
	r := chi.NewRouter()
	r.Get("/ws/compositions/{composition_id}", relay.ServeComposition)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialBus(t *testing.T, srv *httptest.Server, compositionID string) *WSBus {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/compositions/" + compositionID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := Dial(ctx, wsURL, log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func waitFrame(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return ""
	}
}

func TestRelay_fans_out_to_siblings(t *testing.T) {
	srv := newRelayServer(t)
	a := dialBus(t, srv, "c1")
	b := dialBus(t, srv, "c1")

	aGot := make(chan string, 4)
	bGot := make(chan string, 4)
	a.Subscribe("sequencer.tracks", func(raw json.RawMessage) { aGot <- string(raw) })
	b.Subscribe("sequencer.tracks", func(raw json.RawMessage) { bGot <- string(raw) })

	if err := a.Publish("sequencer.tracks", map[string]any{"tracks": []any{}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := waitFrame(t, bGot)
	if !strings.Contains(got, "tracks") {
		t.Errorf("unexpected frame: %s", got)
	}
	select {
	case v := <-aGot:
		t.Errorf("publisher received its own frame: %s", v)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelay_rooms_are_isolated(t *testing.T) {
	srv := newRelayServer(t)
	a := dialBus(t, srv, "c1")
	b := dialBus(t, srv, "c2")

	bGot := make(chan string, 4)
	b.Subscribe("mixer.channels", func(raw json.RawMessage) { bGot <- string(raw) })

	if err := a.Publish("mixer.channels", "frame"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case v := <-bGot:
		t.Errorf("frame crossed composition rooms: %s", v)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRelay_drops_malformed_frames(t *testing.T) {
	srv := newRelayServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/compositions/c1"
	raw, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer raw.Close()

	b := dialBus(t, srv, "c1")
	bGot := make(chan string, 4)
	b.Subscribe("effects.chains", func(r json.RawMessage) { bGot <- string(r) })

	// Garbage first, then a valid frame: the room must survive and deliver
	// the valid one.
	if err := raw.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	frame, _ := json.Marshal(Frame{Topic: "effects.chains", Value: json.RawMessage(`{"t1":[]}`)})
	if err := raw.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got := waitFrame(t, bGot)
	if !strings.Contains(got, "t1") {
		t.Errorf("unexpected frame: %s", got)
	}
}

func TestRelay_session_count(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := NewRelay(log, nil, nil, "test-instance")
	r := chi.NewRouter()
	r.Get("/ws/compositions/{composition_id}", relay.ServeComposition)
	srv := httptest.NewServer(r)
	defer srv.Close()

	if n := relay.SessionCount(); n != 0 {
		t.Fatalf("expected 0 sessions, got %d", n)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/compositions/c1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	waitFor(t, func() bool { return relay.SessionCount() == 1 })
	conn.Close()
	waitFor(t, func() bool { return relay.SessionCount() == 0 })
}

func TestRelay_join_survives_room_teardown(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := NewRelay(log, nil, nil, "test-instance")

	// Cycle one member through the room so it tears itself down; the stale
	// pointer now has nobody draining register.
	stale := relay.room("c1")
	first := &client{room: stale, send: make(chan []byte, 1)}
	stale.register <- first
	stale.unregister <- first
	<-stale.stop

	joined := make(chan *room, 1)
	c := &client{send: make(chan []byte, 1)}
	go func() { joined <- relay.join(stale, c) }()

	select {
	case rm := <-joined:
		if rm == stale {
			t.Error("joined the stopped room")
		}
		if c.room != rm {
			t.Error("client not bound to the fresh room")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("join blocked on a stopped room")
	}
	waitFor(t, func() bool { return relay.SessionCount() == 1 })
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
