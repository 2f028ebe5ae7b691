/*
Copyright (C) 2026  raftlog contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package adminui exposes an operator-facing live tail of applied events
// over a websocket, plus the boot-time CorruptionDetected flag (spec §7
// "the CorruptionDetected flag is observable on an admin endpoint").
//
// Grounded on the teacher's scm/network.go, which already imports
// github.com/gorilla/websocket for its own handler plumbing; the
// publish/subscribe fan-out gives each client a bounded channel and drops
// messages for a reader whose channel is full (unlike internal/asyncwriter,
// whose Submit blocks when its queue is full).
package adminui

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/envelope"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans out applied envelopes to connected live-tail websocket clients.
// An envelope is dropped for a client whose send channel is full, rather
// than allowed to back up the apply path, since Hub.Publish is called
// synchronously from engine.Config.OnApplied; the client stays connected.
type Hub struct {
	eng    *engine.Engine
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New returns a Hub. Wire hub.Publish as engine.Config.OnApplied.
func New(eng *engine.Engine, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{eng: eng, logger: logger, clients: make(map[*client]struct{})}
}

// Publish fans env out to every connected client's buffered send channel,
// dropping it for any client whose channel is currently full.
func (h *Hub) Publish(aggregate string, env *envelope.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.logger.Warn("adminui: dropping event for slow live-tail client")
		}
	}
}

// HandleTail upgrades the request to a websocket and streams applied
// envelopes until the client disconnects.
func (h *Hub) HandleTail(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("adminui: websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	// Drain inbound control frames (pings/close) on a reader goroutine so
	// the connection's read deadline keeps advancing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// HandleCorruption reports the engine's boot-time corruption flag,
// colocated with the live-tail endpoint for a dashboard that only has
// this Hub's routes mounted.
func (h *Hub) HandleCorruption(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"corruption_detected": h.eng.CorruptionDetected(),
	})
}
