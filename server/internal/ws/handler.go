package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests and serves each socket against the relay.
type Handler struct {
	relay    Dispatcher
	settings *Settings
	obs      Observer
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler serving sockets against d. obs may be nil.
func NewHandler(d Dispatcher, settings *Settings, obs Observer) *Handler {
	h := &Handler{relay: d, settings: settings, obs: obs}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if settings.AllowOrigin(origin) {
				return true
			}
			slog.Warn("ws: blocked upgrade from disallowed origin", "origin", origin, "remote", r.RemoteAddr)
			return false
		},
	}
	return h
}

// ServeHTTP upgrades the connection and blocks until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}
	p := NewPeer(conn, h.settings.Options(), h.obs)
	slog.Debug("ws: connection upgraded", "conn", p.ID(), "remote", r.RemoteAddr)
	p.Serve(h.relay)
}
