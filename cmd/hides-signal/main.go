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
	"runtime/debug"
	"syscall"

	"github.com/hidesapp/hides-signal/internal/broker"
	"github.com/hidesapp/hides-signal/internal/config"
	"github.com/hidesapp/hides-signal/internal/httpserver"
	"github.com/hidesapp/hides-signal/internal/metrics"
	"github.com/hidesapp/hides-signal/internal/signaling"
	"github.com/hidesapp/hides-signal/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	issuer, err := turnrest.FromConfig(cfg.TURNREST)
	if err != nil {
		logger.Error("failed to configure turn rest credentials", "err", err)
		os.Exit(2)
	}

	logger.Info("starting hides-signal",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"strategy", cfg.Strategy,
		"auto_seek", cfg.AutoSeek,
		"max_connections", cfg.MaxConnections,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest", issuer != nil,
	)
	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()
	b := newBroker(cfg, logger, m)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt})
	if issuer != nil {
		srv.SetTURNIssuer(issuer)
	}

	sig := signaling.NewServer(signaling.Config{
		Broker:               b,
		Logger:               logger,
		Metrics:              m,
		AllowedOrigins:       cfg.AllowedOrigins,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueue:            cfg.SignalingSendQueue,
	})
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters and broker occupancy in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m, brokerGauges(b)))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	// http.Server does not track hijacked connections; close the WebSockets
	// so every broker connection unwinds.
	if err := sig.Shutdown(shutdownCtx); err != nil {
		logger.Error("signaling shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete", "connections", b.Stats().Connections)
}

func newBroker(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *broker.Broker {
	var strategy broker.Strategy
	switch cfg.Strategy {
	case config.StrategyRoom:
		strategy = broker.NewRoomStrategy(broker.RoomOptions{MaxTitleRunes: cfg.MaxRoomTitleRunes})
	default:
		// Validated by config.Load.
		strategy = broker.NewQueueStrategy(broker.QueueOptions{AutoSeek: cfg.AutoSeek})
	}
	return broker.New(broker.Config{
		Strategy:       strategy,
		MaxConnections: cfg.MaxConnections,
		Logger:         logger,
		Metrics:        m,
	})
}

func brokerGauges(b *broker.Broker) metrics.GaugeFunc {
	return func() map[string]int64 {
		s := b.Stats()
		return map[string]int64{
			"connections": int64(s.Connections),
			"queued":      int64(s.Queued),
			"pairs":       int64(s.Pairs),
			"rooms":       int64(s.Rooms),
		}
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values, falling back to the Go build info for
	// `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
