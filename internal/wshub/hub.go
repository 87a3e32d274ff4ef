// Package wshub implements the gateway's cluster event stream
// (GET /cluster/events from SPEC_FULL.md's supplemented-features
// section): a broadcast hub that pushes membership transitions (node
// joining, node marked ready, node marked dead) to any connected
// websocket subscriber.
//
// Grounded on github.com/gorilla/websocket as used by
// AryanBagade-dynamoDB's internal/api/handler.go WebSocketHandler, with
// the per-connection polling loop there replaced by a fan-out hub so
// events are pushed once at the moment they happen rather than
// re-derived on a ticker.
package wshub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriberBuffer bounds how many unsent events a slow subscriber may
// queue; once it is full, further events are skipped for that subscriber
// (it stays connected). The hub never blocks on a subscriber.
const subscriberBuffer = 32

// Event is one cluster transition pushed to subscribers.
type Event struct {
	Type string    `json:"type"`
	Addr string    `json:"addr,omitempty"`
	Ts   time.Time `json:"ts"`
}

// Hub fans out Events to every currently-connected websocket client.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	log  *zap.Logger
}

// New creates an empty Hub.
func New(log *zap.Logger) *Hub {
	return &Hub{subs: make(map[chan Event]struct{}), log: log}
}

// Broadcast pushes ev to every subscriber. A subscriber whose buffer is
// full is skipped for this event rather than blocking the broadcaster.
func (h *Hub) Broadcast(ev Event) {
	ev.Ts = time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

// ServeHTTP upgrades the request to a websocket and streams Events to it
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("cluster events subscriber disconnected", zap.Error(err))
			return
		}
	}
}
