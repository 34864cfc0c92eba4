package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/streamhub/streamhub/pkg/types"
	"github.com/streamhub/streamhub/server/internal/store"
)

// Live is the connection state owned by the relay.
type Live interface {
	OnlineUsers() []string
	ViewersOf(streamID string) []string
	ConnectionCount() int
}

// Handler serves the /api/v1 routes.
type Handler struct {
	store *store.Store
	live  Live
}

// New creates the API router over st and live. mw wraps every route except
// the health check.
func New(st *store.Store, live Live, mw ...func(http.Handler) http.Handler) http.Handler {
	h := &Handler{store: st, live: live}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/api/v1/health", h.health)
	r.Group(func(r chi.Router) {
		r.Use(mw...)
		r.Route("/api/v1/users", func(r chi.Router) {
			r.Get("/", h.listUsers)
			r.Get("/{id}", h.getUser)
			r.Get("/{id}/followers", h.followers)
			r.Get("/{id}/following", h.following)
			r.Get("/{id}/notifications", h.notifications)
		})
		r.Route("/api/v1/streams", func(r chi.Router) {
			r.Get("/", h.listStreams)
			r.Get("/live", h.liveStreams)
			r.Get("/{id}", h.getStream)
			r.Get("/{id}/messages", h.messages)
			r.Get("/{id}/viewers", h.viewers)
		})
	})
	return r
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Users:       len(h.store.ListUsers()),
		OnlineUsers: len(h.live.OnlineUsers()),
		Connections: h.live.ConnectionCount(),
		Streams:     len(h.store.ListStreams()),
		LiveStreams: len(h.store.ListLiveStreams()),
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, nonNil(h.store.ListUsers()))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, u)
}

func (h *Handler) followers(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, nonNil(h.store.FollowersOf(u.ID)))
}

func (h *Handler) following(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, nonNil(h.store.FollowingOf(u.ID)))
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	all := h.store.Notifications(u.ID)
	out := make([]types.Notification, 0, len(all))
	unreadOnly := r.URL.Query().Get("unread") == "true"
	for _, n := range all {
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	jsonResp(w, http.StatusOK, NotificationsResponse{
		UserID:        u.ID,
		Unread:        h.store.UnreadCount(u.ID),
		Notifications: out,
	})
}

func (h *Handler) listStreams(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("live") == "true" {
		h.liveStreams(w, r)
		return
	}
	jsonResp(w, http.StatusOK, nonNil(h.store.ListStreams()))
}

func (h *Handler) liveStreams(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, nonNil(h.store.ListLiveStreams()))
}

func (h *Handler) getStream(w http.ResponseWriter, r *http.Request) {
	st, ok := h.stream(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, st)
}

func (h *Handler) messages(w http.ResponseWriter, r *http.Request) {
	st, ok := h.stream(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, MessagesResponse{StreamID: st.ID, Messages: nonNil(h.store.Messages(st.ID))})
}

func (h *Handler) viewers(w http.ResponseWriter, r *http.Request) {
	st, ok := h.stream(w, r)
	if !ok {
		return
	}
	ids := h.live.ViewersOf(st.ID)
	out := make([]types.Profile, 0, len(ids))
	for _, id := range ids {
		if u, ok := h.store.GetUser(id); ok {
			out = append(out, u.Profile())
		}
	}
	jsonResp(w, http.StatusOK, ViewersResponse{StreamID: st.ID, Count: len(ids), Viewers: out})
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (types.User, bool) {
	u, ok := h.store.GetUser(chi.URLParam(r, "id"))
	if !ok {
		jsonErr(w, http.StatusNotFound, "user not found")
	}
	return u, ok
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) (types.Stream, bool) {
	st, ok := h.store.GetStream(chi.URLParam(r, "id"))
	if !ok {
		jsonErr(w, http.StatusNotFound, "stream not found")
	}
	return st, ok
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
