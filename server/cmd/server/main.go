package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/streamhub/streamhub/server/internal/api"
	"github.com/streamhub/streamhub/server/internal/auth"
	"github.com/streamhub/streamhub/server/internal/config"
	"github.com/streamhub/streamhub/server/internal/metrics"
	"github.com/streamhub/streamhub/server/internal/notify"
	"github.com/streamhub/streamhub/server/internal/relay"
	"github.com/streamhub/streamhub/server/internal/store"
	"github.com/streamhub/streamhub/server/internal/ws"
	"github.com/streamhub/streamhub/server/internal/ws/fiberws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file; empty uses defaults and RELAY_* environment variables")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("streamhub-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Level())

	slog.Info("config loaded",
		"port", cfg.Port,
		"transport", cfg.Transport,
		"auth_mode", cfg.Auth.Mode,
		"history_limit", cfg.HistoryLimit,
		"webhooks", len(cfg.Webhooks),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Entity store, seeded from seed_file or the embedded default.
	st := store.New(cfg.HistoryLimit)
	seed, err := store.LoadSeed(cfg.SeedFile)
	if err != nil {
		slog.Error("failed to load seed", "err", err)
		os.Exit(1)
	}
	if err := st.Apply(seed); err != nil {
		slog.Error("failed to apply seed", "err", err)
		os.Exit(1)
	}
	slog.Info("store seeded", "users", len(seed.Users), "streams", len(seed.Streams), "follows", len(seed.Follows))

	notifier := notify.New(cfg.Webhooks, notify.DefaultBufferSize)
	collector := metrics.New(nil)

	rl := relay.New(st,
		relay.WithNotifier(notifier),
		relay.WithObserver(collector),
		relay.WithMaxMessageLength(cfg.MaxMessageLength),
	)
	collector.Bind(rl)

	settings := ws.NewSettings(peerOptions(cfg), cfg.AllowedOrigins)
	guard := auth.New(cfg.Auth.Mode, cfg.Auth.EffectiveHeader(), cfg.Auth.Key())

	// REST API, metrics and health share the port with the socket endpoint.
	rest := http.NewServeMux()
	rest.Handle("/api/", api.New(st, rl, guard.HTTP))
	rest.Handle("/metrics", guard.HTTP(collector))

	var front frontEnd
	switch cfg.Transport {
	case config.TransportFiber:
		front = fiberFront{app: fiberws.NewApp("/ws", rl, settings, collector, rest)}
	default:
		rest.Handle("/ws", ws.NewHandler(rl, settings, collector))
		front = &http.Server{Handler: rest, ReadHeaderTimeout: 10 * time.Second}
	}

	// gRPC health service with optional API key interceptors.
	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(guard.Unary()),
		grpc.ChainStreamInterceptor(guard.Stream()),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		slog.Error("failed to listen", "port", cfg.Port, "err", err)
		os.Exit(1)
	}

	m := cmux.New(lis)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.HTTP1Fast())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := grpcSrv.Serve(grpcL); err != nil && !errors.Is(err, grpc.ErrServerStopped) && gctx.Err() == nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("relay listening", "port", cfg.Port, "transport", cfg.Transport)
		if err := front.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && gctx.Err() == nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := m.Serve(); err != nil && gctx.Err() == nil {
			return fmt.Errorf("listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		notifier.Run(gctx)
		return nil
	})

	if *configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, *configPath, func(next *config.Config) {
				level.Set(next.Level())
				rl.SetMaxMessageLength(next.MaxMessageLength)
				settings.Update(peerOptions(next), next.AllowedOrigins)
				slog.Info("config reloaded",
					"log_level", next.LogLevel,
					"max_message_length", next.MaxMessageLength,
					"rate_per_second", next.RateLimit.PerSecond,
					"allowed_origins", len(next.AllowedOrigins),
				)
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("streamhub-server shutting down")

		healthSrv.Shutdown()
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := front.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown", "err", err)
		}
		grpcSrv.GracefulStop()
		lis.Close() //nolint:errcheck
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// peerOptions maps the per-connection settings of cfg.
func peerOptions(cfg *config.Config) ws.Options {
	return ws.Options{
		SendQueue:     cfg.SendQueue,
		MaxFrameBytes: cfg.MaxFrameBytes,
		PongWait:      cfg.PongWait,
		RatePerSecond: cfg.RateLimit.PerSecond,
		RateBurst:     cfg.RateLimit.Burst,
	}
}

// frontEnd is the HTTP side of the shared listener.
type frontEnd interface {
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
}

type fiberFront struct {
	app *fiber.App
}

func (f fiberFront) Serve(l net.Listener) error         { return f.app.Listener(l) }
func (f fiberFront) Shutdown(ctx context.Context) error { return f.app.ShutdownWithContext(ctx) }
