package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Guard checks API keys on HTTP requests and gRPC calls.
type Guard struct {
	header string
	key    string
	on     bool
}

// New returns a Guard. header is matched case-insensitively.
func New(mode, header, key string) *Guard {
	return &Guard{
		header: strings.ToLower(header),
		key:    key,
		on:     mode == "apikey" && key != "",
	}
}

// Enabled reports whether keys are checked at all.
func (g *Guard) Enabled() bool { return g.on }

func (g *Guard) valid(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(g.key)) == 1
}

// HTTP wraps next so that requests without the key get 401.
func (g *Guard) HTTP(next http.Handler) http.Handler {
	if !g.on {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.valid(r.Header.Get(g.header)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid api key"}`)) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Unary returns a gRPC UnaryServerInterceptor enforcing the key.
func (g *Guard) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := g.check(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream returns a gRPC StreamServerInterceptor enforcing the key. It covers
// the health Watch call.
func (g *Guard) Stream() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := g.check(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (g *Guard) check(ctx context.Context) error {
	if !g.on {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(g.header)
	if len(vals) == 0 || !g.valid(vals[0]) {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}
