// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package notify

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// WSClient bridges one websocket connection to a hub subscriber. The
// connection is write-mostly: inbound frames are drained only to service
// pong handling and detect disconnects.
type WSClient struct {
	hub  *Hub
	sub  *Subscriber
	conn *websocket.Conn
}

// NewWSClient wraps a websocket connection around a registered subscriber.
func NewWSClient(hub *Hub, sub *Subscriber, conn *websocket.Conn) *WSClient {
	return &WSClient{hub: hub, sub: sub, conn: conn}
}

// Start begins the read and write pumps.
func (c *WSClient) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump drains the connection until it closes, then unregisters the
// subscriber from the hub.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.Unregister <- c.sub:
		case <-c.hub.Done():
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("Failed to set websocket read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("subscriber_id", c.sub.ID()).Msg("Unexpected websocket close")
			}
			return
		}
	}
}

// writePump forwards subscriber events to the connection and keeps it
// alive with periodic pings. Returns when the subscriber channel is closed
// (hub eviction or shutdown) or a write fails.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.sub.events:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("Failed to set websocket write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				logging.Debug().Err(err).Uint64("subscriber_id", c.sub.ID()).Msg("Websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
