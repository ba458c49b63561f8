package transport

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/tonk-labs/vfsrt/rpc"
)

// Time allowed to keep an idle connection alive, and the ping cadence
// derived from it.
const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
)

// NewUpgradeHandler gates the WebSocket upgrade behind limiter, rejecting
// a connecting IP that has exhausted its token bucket.
func NewUpgradeHandler(limiter *RateLimiter) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if !limiter.Allow(c.IP()) {
			return fiber.NewError(fiber.StatusTooManyRequests, "too many connection attempts")
		}
		return c.Next()
	}
}

// NewConnectionHandler builds the per-connection websocket.Handler that
// reads RPC requests off the wire and drives them through dispatcher,
// writing both correlated responses and hub-fanned broadcasts back.
func NewConnectionHandler(hub *Hub, dispatcher *rpc.Dispatcher) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		id := conn.Locals("clientID")
		clientID, _ := id.(string)
		if clientID == "" {
			clientID = conn.RemoteAddr().String()
		}

		c := hub.register(clientID)
		defer hub.unregister(clientID)

		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		done := make(chan struct{})
		go writePump(conn, c.send, done)
		readPump(conn, dispatcher, done)
	}
}

func readPump(conn *websocket.Conn, dispatcher *rpc.Dispatcher, done chan struct{}) {
	defer close(done)
	defer func() { _ = conn.Close() }()

	ctx := context.Background()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpc.Request
		if err := rpc.Unmarshal(raw, &req); err != nil {
			log.Printf("transport: bad rpc envelope: %v", err)
			continue
		}
		if resp := dispatcher.Handle(ctx, req); resp != nil {
			out, err := rpc.Marshal(*resp)
			if err != nil {
				log.Printf("transport: marshal rpc response: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}
}

func writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer func() { _ = conn.Close() }()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
