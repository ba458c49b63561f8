package transport

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/tonk-labs/vfsrt/lifecycle"
	"github.com/tonk-labs/vfsrt/rpc"
)

// Setup wires the Request Resolver, Response Assembler, RPC Dispatcher
// and connection rate limiter onto app, mounting routes on a caller-owned
// *fiber.App rather than returning a pre-built one of its own. hub must be
// the same Hub already wired into the Controller/Dispatcher/Monitor as
// their Broadcaster, so that real WebSocket connections registered here
// receive the broadcasts those collaborators emit.
func Setup(app *fiber.App, hub *Hub, controller *lifecycle.Controller, dispatcher *rpc.Dispatcher, httpCfg HTTPConfig, compressionCfg CompressionConfig) {
	limiter := NewRateLimiter(5, 0.2)

	app.Use(BrotliGzipMiddleware(compressionCfg))

	app.Get("/__vfsrt/ws", NewUpgradeHandler(limiter), websocket.New(NewConnectionHandler(hub, dispatcher)))

	app.Use(NewHTTPHandler(controller, httpCfg))
}
