/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"galstage/internal/live2d"
	applog "galstage/internal/log"
	"galstage/internal/player"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
	sendBuffer = 256
)

// ErrHubClosed is returned by Send after the hub stopped.
var ErrHubClosed = errors.New("server: hub closed")

// Envelope is the frame exchanged with view clients.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message types.
const (
	MsgCommand = "command"
	MsgPlayer  = "player"
	MsgError   = "error"
)

// Client is one connected view.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu     sync.Mutex
	closed bool
}

// Hub fans renderer commands and player events out to every connected view.
// New views first receive the commands needed to rebuild the current stage.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	log        *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	// replay holds the latest load command per model and the latest show command.
	replayMu sync.Mutex
	loads    map[string][]byte
	order    []string
	show     []byte

	onMessage func(c *Client, env Envelope)
}

// NewHub returns a hub. Call Run before registering clients.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan []byte, 1024),
		done:       make(chan struct{}),
		log:        applog.WithComponent("hub"),
		clients:    map[string]*Client{},
		loads:      map[string][]byte{},
	}
}

// OnMessage installs the handler for frames sent by views.
func (h *Hub) OnMessage(fn func(c *Client, env Envelope)) { h.onMessage = fn }

// Run serves the hub until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.unregisterClient(c)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	for _, msg := range h.replay() {
		select {
		case c.send <- msg:
		default:
		}
	}
	h.log.Info("view connected", slog.String("client", c.ID), slog.Int("total", n))
	go c.writePump()
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
		h.log.Info("view disconnected", slog.String("client", c.ID), slog.Int("total", len(h.clients)))
	}
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("view send buffer full", slog.String("client", c.ID))
		}
	}
}

// ClientCount returns the number of connected views.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(msgType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		return err
	}
	if msgType == MsgCommand {
		if cmd, ok := v.(live2d.Command); ok {
			h.remember(cmd, frame)
		}
	}
	select {
	case <-h.done:
		return ErrHubClosed
	case h.broadcast <- frame:
		return nil
	default:
		h.log.Warn("broadcast channel full, dropping frame", slog.String("type", msgType))
		return nil
	}
}

// Send implements live2d.CommandSink.
func (h *Hub) Send(_ context.Context, cmd live2d.Command) error {
	return h.publish(MsgCommand, cmd)
}

// PublishEvent forwards a player transition to every view.
func (h *Hub) PublishEvent(ev player.Event) {
	if err := h.publish(MsgPlayer, ev); err != nil && !errors.Is(err, ErrHubClosed) {
		h.log.Warn("publish event failed", slog.Any("err", err))
	}
}

func (h *Hub) remember(cmd live2d.Command, frame []byte) {
	h.replayMu.Lock()
	defer h.replayMu.Unlock()
	switch cmd.Type {
	case live2d.CmdLoad:
		if _, ok := h.loads[cmd.Model]; !ok {
			h.order = append(h.order, cmd.Model)
		}
		h.loads[cmd.Model] = frame
	case live2d.CmdDestroy:
		delete(h.loads, cmd.Model)
		for i, id := range h.order {
			if id == cmd.Model {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	case live2d.CmdShow:
		h.show = frame
	}
}

func (h *Hub) replay() [][]byte {
	h.replayMu.Lock()
	defer h.replayMu.Unlock()
	out := make([][]byte, 0, len(h.order)+1)
	for _, id := range h.order {
		out = append(out, h.loads[id])
	}
	if h.show != nil {
		out = append(out, h.show)
	}
	return out
}

// Attach registers conn as a client and blocks reading from it until it closes.
func (h *Hub) Attach(id string, conn *websocket.Conn) {
	c := &Client{ID: id, conn: conn, send: make(chan []byte, sendBuffer), hub: h}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.readPump()
}

// Reply sends a frame to this client only.
func (c *Client) Reply(msgType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	frame, _ := json.Marshal(Envelope{Type: msgType, Data: data})
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.ID]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.log.Debug("write failed", slog.String("client", c.ID), slog.Any("err", err))
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

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected close", slog.String("client", c.ID), slog.Any("err", err))
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.Reply(MsgError, map[string]string{"error": "malformed frame"})
			continue
		}
		if c.hub.onMessage != nil {
			c.hub.onMessage(c, env)
		}
	}
}

// Close closes the connection once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}
