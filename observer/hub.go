// Package observer provides an ops-facing fan-out of matched publishes
// over WebSocket, for tailing a pool's traffic from outside the
// process. It is not part of the MQTT wire protocol: it subscribes to
// the router like any other destination and re-serializes what it
// receives as JSON.
package observer

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/qingcloudhx/mqttcore/router"
	"github.com/qingcloudhx/mqttcore/topic"
)

// Envelope is the JSON shape written to every connected viewer.
type Envelope struct {
	Pool    string `json:"pool"`
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	QoS     byte   `json:"qos"`
	Retain  bool   `json:"retain"`
}

// Hub fans a pool's matched publishes out to any number of WebSocket
// viewers. It is itself a router destination: ServeHTTP upgrades a
// connection and Callback is what Subscribe registers on its behalf.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	viewers map[*websocket.Conn]chan Envelope
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		viewers: make(map[*websocket.Conn]chan Envelope),
	}
}

// Callback is a router.FuncCallback that broadcasts every envelope it
// receives to all currently connected viewers. It never blocks: a
// viewer whose 64-envelope buffer is full does not receive that
// envelope.
func (h *Hub) Callback(e router.Envelope) error {
	env := Envelope{
		Pool:    e.Pool,
		Topic:   topic.Join(e.Topic),
		Payload: e.Message.Payload,
		QoS:     e.QoS,
		Retain:  e.Message.Retain,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.viewers {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

// ServeHTTP upgrades the request to a WebSocket and streams envelopes
// to it until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan Envelope, 64)
	h.addViewer(conn, ch)
	defer h.removeViewer(conn)

	for env := range ch {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (h *Hub) addViewer(conn *websocket.Conn, ch chan Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.viewers[conn] = ch
}

func (h *Hub) removeViewer(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.viewers[conn]; ok {
		close(ch)
		delete(h.viewers, conn)
	}
}
