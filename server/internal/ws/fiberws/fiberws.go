// Package fiberws serves the relay over fiber and its contrib WebSocket
// middleware. It is selected with transport: fiber; the gorilla Handler in
// package ws is the default.
package fiberws

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/streamhub/streamhub/server/internal/ws"
)

// NewApp returns a fiber app that upgrades requests on path and serves each
// socket as a ws.Peer against d. Every other request is handed to rest,
// which may be nil.
func NewApp(path string, d ws.Dispatcher, settings *ws.Settings, obs ws.Observer, rest http.Handler) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	Register(app, path, d, settings, obs)
	if rest != nil {
		app.Use(adaptor.HTTPHandler(rest))
	}
	return app
}

// Register mounts the relay endpoint on app.
func Register(app *fiber.App, path string, d ws.Dispatcher, settings *ws.Settings, obs ws.Observer) {
	app.Use(path, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if origin := c.Get(fiber.HeaderOrigin); !settings.AllowOrigin(origin) {
			slog.Warn("fiberws: blocked upgrade from disallowed origin", "origin", origin, "remote", c.IP())
			return fiber.ErrForbidden
		}
		return c.Next()
	})

	app.Get(path, websocket.New(func(conn *websocket.Conn) {
		p := ws.NewPeer(conn, settings.Options(), obs)
		slog.Debug("fiberws: connection upgraded", "conn", p.ID(), "remote", conn.RemoteAddr().String())
		p.Serve(d)
	}, websocket.Config{ReadBufferSize: 1024, WriteBufferSize: 4096}))
}
