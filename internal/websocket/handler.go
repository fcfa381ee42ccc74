package websocket

import (
	"context"

	"github.com/gofiber/websocket/v2"
)

// ServeWs attaches the connection to the session and blocks until it closes.
// keepAlive, when set, runs on every pong from the peer.
func ServeWs(hub *Hub, c *websocket.Conn, sessionID string, onMessage MessageHandler, keepAlive func()) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &Client{
		Hub:       hub,
		Conn:      c,
		SessionID: sessionID,
		Send:      make(chan []byte, 256),
		onMessage: onMessage,
		onPong:    keepAlive,
	}
	client.Hub.register <- client

	go client.writePump()
	client.readPump(ctx)
}
