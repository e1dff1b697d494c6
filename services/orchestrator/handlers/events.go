// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
)

// EventHub is a debug tap on the event bus: every published event is
// mirrored to connected websocket clients. Wired as a secondary publisher
// via eventbus.Multi, so it sees exactly what the broker sees.
type EventHub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// tappedEvent is the wire format sent to websocket clients.
type tappedEvent struct {
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	ObservedAt time.Time       `json:"observed_at"`
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Debug surface; same-origin policy is not useful here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]bool),
	}
}

// Publish mirrors one event to every connected client. Slow or broken
// clients are dropped; the tap must never hold up the pipeline.
func (h *EventHub) Publish(_ context.Context, topicName string, payload any) error {
	h.mu.Lock()
	if len(h.conns) == 0 {
		h.mu.Unlock()
		return nil
	}
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := tappedEvent{Topic: topicName, Payload: data, ObservedAt: time.Now()}

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			h.drop(conn)
		}
	}
	return nil
}

// Close disconnects all clients.
func (h *EventHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]bool)
	return nil
}

// Handler upgrades the request and registers the client until it
// disconnects.
func (h *EventHub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("event tap upgrade failed", "error", err)
			return
		}

		h.mu.Lock()
		h.conns[conn] = true
		total := len(h.conns)
		h.mu.Unlock()
		slog.Info("event tap client connected", "clients", total)

		// Reads are discarded; the loop exists to notice disconnects.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.drop(conn)
					return
				}
			}
		}()
	}
}

func (h *EventHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if h.conns[conn] {
		delete(h.conns, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

var _ eventbus.Publisher = (*EventHub)(nil)
