// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package statusapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Event describes one job-state transition, broadcast to every
// connected websocket client.
type Event struct {
	JobID     string    `json:"job_id"`
	State     string    `json:"state"` // "running", "completed", "retrying", "failed"
	Timestamp time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status API is a local operator surface, not a public one;
	// same-origin enforcement is left to a reverse proxy if fronted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub tracks connected websocket clients and fans events out to them.
// A slow or dead client never blocks a broadcast: its send is dropped
// if its outgoing buffer is full, and its connection is closed.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Client isn't draining; drop rather than block the
			// event producer.
		}
	}
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("statusapi: websocket upgrade failed", "error", err)
		return
	}

	cl := &client{conn: conn, send: make(chan Event, 16)}
	s.hub.register(cl)
	defer func() {
		s.hub.unregister(cl)
		conn.Close()
	}()

	// Drain client-initiated messages (ping/close frames) on their own
	// goroutine so a silent client doesn't pile up unread frames.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range cl.send {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
