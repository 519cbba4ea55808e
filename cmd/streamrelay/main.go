// Command streamrelay serves pre-encoded utterances to playback clients over
// WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamplay/internal/config"
	"github.com/MrWong99/streamplay/internal/health"
	"github.com/MrWong99/streamplay/internal/observe"
	"github.com/MrWong99/streamplay/internal/relay"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	origins := flag.String("origins", "", "comma-separated host patterns allowed to upgrade cross-origin")
	flag.Parse()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Configuration with hot reload ─────────────────────────────────────────
	var (
		level   slog.LevelVar
		handler *relay.Handler
	)
	watcher, err := config.NewWatcher(*configPath, func(_, cfg *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.Slog())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RelayChanged && handler != nil {
			handler.SetPacing(pacing(cfg.Relay))
			slog.Info("relay pacing changed", "chunk_size", cfg.Relay.ChunkSize, "interval", cfg.Relay.ChunkInterval)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "streamrelay: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "streamrelay: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Relay.AudioDir == "" {
		fmt.Fprintln(os.Stderr, "streamrelay: relay.audio_dir is required")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "streamrelay"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── HTTP routes ───────────────────────────────────────────────────────────
	opts := []relay.Option{
		relay.WithMetrics(metrics),
		relay.WithPacing(pacing(cfg.Relay)),
	}
	if *origins != "" {
		opts = append(opts, relay.WithOriginPatterns(strings.Split(*origins, ",")...))
	}
	handler = relay.New(cfg.Relay.AudioDir, opts...)
	checks := health.New(health.DirChecker("audio_dir", cfg.Relay.AudioDir))

	mux := http.NewServeMux()
	handler.Register(mux)
	checks.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("streamrelay starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"audio_dir", cfg.Relay.AudioDir,
		"tls", cfg.Server.TLS != nil,
	)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining…")
		checks.SetDraining(true)

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if werr := handler.Wait(sctx); werr != nil {
			slog.Warn("streams still in flight at shutdown", "err", werr)
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func pacing(c config.RelayConfig) relay.Pacing {
	return relay.Pacing{ChunkSize: c.ChunkSize, Interval: c.ChunkInterval}
}
