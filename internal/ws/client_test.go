package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestClientSessionOverWebsocket(t *testing.T) {
	reg := NewRegistry()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(conn, slog.Default(), 4)
		go client.WritePump()
		session := NewSession(SessionConfig{
			Registry: reg,
			Auth:     tokenAuth{"user-token": userIdentity},
		}, "c1", client)
		session.Serve(context.Background(), conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, frame(t, EventAuthenticate, AuthenticatePayload{Token: "user-token"})); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Frame
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Event != EventAuthenticated {
		t.Fatalf("expected authenticated, got %s", got.Event)
	}
	if n := len(reg.ChannelsOfUser(userIdentity.UserID)); n != 1 {
		t.Fatalf("expected one channel for user, got %d", n)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Stats().Total == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection was not unregistered after close")
}

func TestClientSendNeverBlocks(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), done: make(chan struct{})}
	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send([]byte("b")); err != ErrSlowConsumer {
		t.Fatalf("expected ErrSlowConsumer, got %v", err)
	}
	close(c.done)
	if err := c.Send([]byte("c")); err != ErrClientClosed {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}
