package wshub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestBroadcastDeliversToSubscriber(t *testing.T) {
	hub := New(zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register the subscriber.
	time.Sleep(20 * time.Millisecond)
	hub.Broadcast(Event{Type: "node_ready", Addr: "http://n1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "node_ready") || !strings.Contains(string(data), "http://n1") {
		t.Fatalf("unexpected event payload: %s", data)
	}
}

func TestBroadcastWithNoSubscribersDoesNotBlock(t *testing.T) {
	hub := New(zap.NewNop())
	done := make(chan struct{})
	go func() {
		hub.Broadcast(Event{Type: "node_dead", Addr: "http://n2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast with no subscribers should not block")
	}
}
