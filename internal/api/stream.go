// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
	"github.com/koas-mih/Starlink-IP-EDL/internal/notify"
)

// sseHeartbeatInterval is how often a comment line is written to keep
// intermediaries from timing out an idle stream.
const sseHeartbeatInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS policy is enforced by middleware before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Updates handles GET /api/updates: a Server-Sent Events stream. The first
// event is always `connected` with the current settings snapshot; `update`
// and `settingsChange` events follow as they occur.
func (h *Handler) Updates(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := notify.NewSubscriber()
	select {
	case h.hub.Register <- sub:
	case <-h.hub.Done():
		return
	}

	// Unregistering an unknown subscriber is a no-op (the hub may have
	// evicted it already); selecting on Done covers the hub shutting down
	// with no receiver left on the channel.
	defer func() {
		select {
		case h.hub.Unregister <- sub:
		case <-h.hub.Done():
		}
	}()

	logger := logging.Ctx(r.Context())
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case event, ok := <-sub.Events():
			if !ok {
				// Evicted or hub shutdown.
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Str("event_type", event.Type).Msg("Failed to marshal SSE event")
				continue
			}
			if _, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// WebSocket handles GET /api/ws: the same event stream over a websocket
// connection for clients that prefer it to SSE.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := logging.Ctx(r.Context())
		logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	sub := notify.NewSubscriber()
	select {
	case h.hub.Register <- sub:
	case <-h.hub.Done():
		_ = conn.Close()
		return
	}

	notify.NewWSClient(h.hub, sub, conn).Start()
}
