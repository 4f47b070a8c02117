package cable

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

type serverCommand struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
}

// cableServer fakes the backend side of the protocol: it welcomes new
// connections, confirms every subscribe and records the commands it sees.
type cableServer struct {
	srv      *httptest.Server
	url      string
	commands chan serverCommand
	conns    chan *websocket.Conn
}

func startCableServer(t *testing.T) *cableServer {
	t.Helper()
	s := &cableServer{
		commands: make(chan serverCommand, 16),
		conns:    make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		conn.WriteJSON(map[string]string{"type": "welcome"})
		for {
			var cmd serverCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			s.commands <- cmd
			if cmd.Command == "subscribe" {
				conn.WriteJSON(map[string]any{
					"type":       "confirm_subscription",
					"identifier": cmd.Identifier,
				})
			}
		}
	}))
	s.url = "ws" + strings.TrimPrefix(s.srv.URL, "http")
	t.Cleanup(s.srv.Close)
	return s
}

func (s *cableServer) nextCommand(t *testing.T) serverCommand {
	t.Helper()
	select {
	case cmd := <-s.commands:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("no command received by server")
		return serverCommand{}
	}
}

func (s *cableServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection reached server")
		return nil
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSubscriptionKeyCanonical(t *testing.T) {
	a := SubscriptionKey("ShowRunnerChannel", map[string]any{"show_id": 7, "region": "west"})
	b := SubscriptionKey("ShowRunnerChannel", map[string]any{"region": "west", "show_id": 7})
	if a != b {
		t.Errorf("parameter order changed the key: %q vs %q", a, b)
	}

	c := SubscriptionKey("ShowRunnerChannel", map[string]any{"show_id": 8})
	if a == c {
		t.Error("different params produced the same key")
	}
	if !strings.HasPrefix(a, "ShowRunnerChannel_") {
		t.Errorf("key missing channel prefix: %q", a)
	}
}

func TestSubscribeConfirmAndRoute(t *testing.T) {
	server := startCableServer(t)
	client := NewClient(server.url, clockwork.NewRealClock())
	defer client.Disconnect()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	connected := make(chan struct{}, 1)
	received := make(chan json.RawMessage, 1)
	_, err := client.Subscribe("ShowRunnerChannel", map[string]any{"show_id": 7}, Handlers{
		Connected: func() { connected <- struct{}{} },
		Received:  func(msg json.RawMessage) { received <- msg },
	})
	if err != nil {
		t.Fatal(err)
	}

	conn := server.nextConn(t)
	cmd := server.nextCommand(t)
	if cmd.Command != "subscribe" {
		t.Fatalf("expected subscribe command, got %q", cmd.Command)
	}
	var ident map[string]any
	if err := json.Unmarshal([]byte(cmd.Identifier), &ident); err != nil {
		t.Fatalf("identifier is not JSON: %v", err)
	}
	if ident["channel"] != "ShowRunnerChannel" {
		t.Errorf("identifier missing channel name: %v", ident)
	}

	waitSignal(t, connected, "subscription confirmation")

	// Heartbeats must be swallowed, not routed.
	conn.WriteJSON(map[string]any{"type": "ping", "message": 1234567})

	conn.WriteJSON(map[string]any{
		"identifier": cmd.Identifier,
		"message":    map[string]any{"contest": map[string]any{"show_state": "voting"}},
	})

	select {
	case msg := <-received:
		if !strings.Contains(string(msg), "voting") {
			t.Errorf("unexpected payload: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message was not routed to the subscriber")
	}
}

func TestUnsubscribeSendsCommand(t *testing.T) {
	server := startCableServer(t)
	client := NewClient(server.url, clockwork.NewRealClock())
	defer client.Disconnect()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	key, err := client.Subscribe("ShowRunnerChannel", map[string]any{"show_id": 7}, Handlers{})
	if err != nil {
		t.Fatal(err)
	}
	server.nextCommand(t)

	client.Unsubscribe(key)
	if cmd := server.nextCommand(t); cmd.Command != "unsubscribe" {
		t.Errorf("expected unsubscribe command, got %q", cmd.Command)
	}

	// Unknown keys are a no-op.
	client.Unsubscribe("nope")
}

func TestResubscribeKeepsOneSubscriptionPerKey(t *testing.T) {
	server := startCableServer(t)
	client := NewClient(server.url, clockwork.NewRealClock())
	defer client.Disconnect()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	received := make(chan json.RawMessage, 4)
	params := map[string]any{"show_id": 7}
	if _, err := client.Subscribe("ShowRunnerChannel", params, Handlers{}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Subscribe("ShowRunnerChannel", params, Handlers{
		Received: func(msg json.RawMessage) { received <- msg },
	}); err != nil {
		t.Fatal(err)
	}

	conn := server.nextConn(t)
	first := server.nextCommand(t)
	server.nextCommand(t)

	conn.WriteJSON(map[string]any{
		"identifier": first.Identifier,
		"message":    map[string]any{"n": 1},
	})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement subscription did not receive the message")
	}
	if len(received) != 0 {
		t.Error("message delivered more than once")
	}
}

func TestSubscribeWithoutConnectFails(t *testing.T) {
	client := NewClient("ws://127.0.0.1:0", clockwork.NewRealClock())
	if _, err := client.Subscribe("ShowRunnerChannel", nil, Handlers{}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	server := startCableServer(t)
	client := NewClient(server.url, clockwork.NewRealClock())
	client.config.ReconnectBaseWait = 10 * time.Millisecond
	defer client.Disconnect()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	connected := make(chan struct{}, 4)
	disconnected := make(chan struct{}, 4)
	if _, err := client.Subscribe("ShowRunnerChannel", map[string]any{"show_id": 7}, Handlers{
		Connected:    func() { connected <- struct{}{} },
		Disconnected: func() { disconnected <- struct{}{} },
	}); err != nil {
		t.Fatal(err)
	}

	conn := server.nextConn(t)
	server.nextCommand(t)
	waitSignal(t, connected, "initial confirmation")

	// Kill the connection server-side and expect a redial plus replay.
	conn.Close()
	waitSignal(t, disconnected, "disconnect notification")

	server.nextConn(t)
	if cmd := server.nextCommand(t); cmd.Command != "subscribe" {
		t.Fatalf("expected replayed subscribe, got %q", cmd.Command)
	}
	waitSignal(t, connected, "re-confirmation after reconnect")
}

func TestUnsubscribeDuringReconnectNotReplayed(t *testing.T) {
	server := startCableServer(t)
	client := NewClient(server.url, clockwork.NewRealClock())
	client.config.ReconnectBaseWait = 300 * time.Millisecond
	defer client.Disconnect()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	disconnected := make(chan struct{}, 4)
	keyA, err := client.Subscribe("ShowRunnerChannel", map[string]any{"show_id": 7}, Handlers{
		Disconnected: func() { disconnected <- struct{}{} },
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Subscribe("ChannelChannel", map[string]any{"channel_id": 3}, Handlers{}); err != nil {
		t.Fatal(err)
	}

	conn := server.nextConn(t)
	server.nextCommand(t)
	server.nextCommand(t)

	// Drop the connection, then close the first subscription inside the
	// backoff window.
	conn.Close()
	waitSignal(t, disconnected, "disconnect notification")
	client.Unsubscribe(keyA)

	server.nextConn(t)
	cmd := server.nextCommand(t)
	if cmd.Command != "subscribe" {
		t.Fatalf("expected one replayed subscribe, got %q", cmd.Command)
	}
	if !strings.Contains(cmd.Identifier, "ChannelChannel") {
		t.Errorf("wrong subscription replayed: %s", cmd.Identifier)
	}

	select {
	case extra := <-server.commands:
		t.Fatalf("closed subscription was replayed: %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}
