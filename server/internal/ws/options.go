package ws

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Per-connection defaults.
const (
	DefaultSendQueue     = 64
	DefaultMaxFrameBytes = 64 << 10
	DefaultPongWait      = 60 * time.Second
)

// Options are the per-connection limits. A zero RatePerSecond disables
// inbound rate limiting.
type Options struct {
	SendQueue     int
	MaxFrameBytes int64
	PongWait      time.Duration
	RatePerSecond float64
	RateBurst     int
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = DefaultSendQueue
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.RatePerSecond > 0 && o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	return o
}

// Settings holds the options and origin allow-list applied to new
// connections. It is safe to Update while serving; live peers keep the
// options they started with.
type Settings struct {
	mu       sync.RWMutex
	opts     Options
	allowAll bool
	origins  map[string]struct{}
}

// NewSettings returns Settings for opts and the allowed origins. An empty
// list or "*" allows every origin.
func NewSettings(opts Options, allowedOrigins []string) *Settings {
	s := &Settings{}
	s.Update(opts, allowedOrigins)
	return s
}

// Update replaces the options and the origin allow-list.
func (s *Settings) Update(opts Options, allowedOrigins []string) {
	origins, allowAll := normalizeOrigins(allowedOrigins)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts.withDefaults()
	s.origins = origins
	s.allowAll = allowAll
}

// Options returns the options for a new connection.
func (s *Settings) Options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// AllowOrigin reports whether an upgrade with the given Origin header value
// may proceed.
func (s *Settings) AllowOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.allowAll {
		return true
	}
	norm, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, ok = s.origins[norm]
	return ok
}

func normalizeOrigins(origins []string) (map[string]struct{}, bool) {
	out := make(map[string]struct{}, len(origins))
	configured := false
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		configured = true
		if o == "*" {
			return nil, true
		}
		norm, ok := normalizeOrigin(o)
		if !ok {
			slog.Warn("ws: ignoring invalid allowed origin", "origin", o)
			continue
		}
		out[norm] = struct{}{}
	}
	return out, !configured
}

// normalizeOrigin lower-cases scheme and host and drops any path.
func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
