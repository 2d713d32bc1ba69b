// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/archetype-dev/archetype/internal/command"
	"github.com/archetype-dev/archetype/internal/manager"
	"github.com/archetype-dev/archetype/internal/server"
	"github.com/archetype-dev/archetype/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 16
	sendBufferSize = 64
)

// Message types sent to websocket clients
const (
	MessageAck      = "ack"
	MessageEvent    = "event"
	MessageResponse = "response"
)

// Message is the envelope of every frame sent to a client
type Message struct {
	Type      string            `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	Command   string            `json:"command,omitempty"`
	Event     manager.EventKind `json:"event,omitempty"`
	Data      any               `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// commandFrame is what clients send to run a command
type commandFrame struct {
	RequestID  string `json:"request_id"`
	Command    any    `json:"command"`
	Parameters any    `json:"parameters"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

type direct struct {
	to  *client
	msg []byte
}

// EventHub streams state-change events to websocket clients and runs
// command frames they send through the dispatcher. Only the hub goroutine
// touches the client set or closes a client's send channel.
type EventHub struct {
	logger     *slog.Logger
	api        server.APIService
	dispatcher Dispatcher
	path       string
	upgrader   websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	direct     chan direct
	done       chan struct{}

	clients map[*client]bool
	dropped atomic.Uint64
}

var (
	_ service.Initializer = (*EventHub)(nil)
	_ service.Runner      = (*EventHub)(nil)
	_ manager.Observer    = (*EventHub)(nil)
)

func NewEventHub(api server.APIService, dispatcher Dispatcher, path string, logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		logger:     logger.With("service", "events"),
		api:        api,
		dispatcher: dispatcher,
		path:       path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan direct, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

func (h *EventHub) Name() string {
	return "events"
}

func (h *EventHub) Init() error {
	return h.api.Register(h.path, "Events", "Websocket stream of state changes; accepts command frames", h)
}

// Run owns the client set until ctx is done, then disconnects every client.
func (h *EventHub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return nil

		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debug("client connected", "client", c.id, "clients", len(h.clients))
			h.deliver(c, h.encode(Message{Type: MessageAck, Data: "connected"}))

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.logger.Debug("client disconnected", "client", c.id, "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				h.deliver(c, msg)
			}

		case d := <-h.direct:
			if h.clients[d.to] {
				h.deliver(d.to, d.msg)
			}
		}
	}
}

// deliver drops clients that cannot keep up
func (h *EventHub) deliver(c *client, msg []byte) {
	if msg == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("client too slow, disconnecting", "client", c.id)
		h.drop(c)
	}
}

func (h *EventHub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}

// Observe queues e for every connected client without blocking; events are
// dropped when the queue is full.
func (h *EventHub) Observe(e manager.Event) {
	msg := h.encode(Message{Type: MessageEvent, Event: e.Kind, Data: e.Data})
	if msg == nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Warn("event queue full, dropping event", "event", e.Kind)
	}
}

func (h *EventHub) encode(m Message) []byte {
	m.Timestamp = time.Now().UTC()
	b, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("failed to encode message", "type", m.Type, "error", err)
		return nil
	}
	return b
}

func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *EventHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("write failed", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *EventHub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		reply := h.handleFrame(data)
		select {
		case h.direct <- direct{to: c, msg: reply}:
		case <-h.done:
			return
		}
	}
}

// handleFrame dispatches one command frame. Frames are decoded the same way
// as HTTP bodies, so numbers stay json.Number and frames that are not valid
// JSON dispatch the empty command name.
func (h *EventHub) handleFrame(data []byte) []byte {
	var frame commandFrame
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&frame); err != nil {
		h.logger.Debug("undecodable command frame", "error", err)
		frame = commandFrame{}
	}
	name, _ := frame.Command.(string)
	params, _ := frame.Parameters.(map[string]any)

	ctx := command.WithRequestID(context.Background(), frame.RequestID)
	resp := h.dispatcher.Dispatch(ctx, name, params)

	return h.encode(Message{
		Type:      MessageResponse,
		RequestID: resp.RequestID,
		Command:   name,
		Data:      resp.Body(),
	})
}

// Dropped reports how many events were discarded because the queue was full
func (h *EventHub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *EventHub) String() string {
	return fmt.Sprintf("events(%s)", h.path)
}
