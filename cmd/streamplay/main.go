// Command streamplay requests one utterance from a relay and plays it while
// it streams in.
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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/streamplay/internal/config"
	"github.com/MrWong99/streamplay/internal/observe"
	"github.com/MrWong99/streamplay/internal/transport"
	"github.com/MrWong99/streamplay/pkg/playback"
	"github.com/MrWong99/streamplay/pkg/playback/earcon"
	"github.com/MrWong99/streamplay/pkg/playback/host"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	text := flag.String("text", "", "text to speak (required)")
	voice := flag.String("voice", "", "voice to request; overrides upstream.voice")
	url := flag.String("url", "", "relay WebSocket URL; overrides upstream.url")
	flag.Parse()

	if *text == "" {
		fmt.Fprintln(os.Stderr, "streamplay: -text is required")
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streamplay: %v\n", err)
		return 1
	}
	if *voice != "" {
		cfg.Upstream.Voice = *voice
	}
	if *url != "" {
		cfg.Upstream.URL = *url
	}
	if cfg.Upstream.URL == "" {
		fmt.Fprintln(os.Stderr, "streamplay: no relay URL; set upstream.url or -url")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Server.LogLevel.Slog()}))
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "streamplay"})
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
	if addr := cfg.Server.ListenAddr; addr != "" {
		stopMetrics := serveMetrics(addr)
		defer stopMetrics()
	}

	// ── Playback ──────────────────────────────────────────────────────────────
	playerErr := make(chan error, 1)
	session, h, err := newSession(cfg.Player, metrics, logger, playerErr)
	if err != nil {
		slog.Error("failed to create playback session", "err", err)
		return 1
	}
	defer session.Close()

	start := time.Now()
	metrics.ActiveSessions.Add(ctx, 1)
	defer metrics.ActiveSessions.Add(context.Background(), -1)
	session.OnComplete(func() {
		secs := time.Since(start).Seconds()
		metrics.RecordSession(context.Background(), session.Mode().String(), secs)
		slog.Info("playback complete", "mode", session.Mode(), "seconds", secs)
	})

	if cfg.Player.Earcon {
		earcon.Play()
	}

	slog.Info("requesting utterance",
		"url", cfg.Upstream.URL,
		"voice", cfg.Upstream.Voice,
		"mode", session.Mode(),
	)

	client := transport.NewClient(cfg.Upstream.URL,
		transport.WithDialTimeout(cfg.Upstream.DialTimeout),
		transport.WithFallbacks(cfg.Upstream.Fallbacks...),
		transport.WithMetrics(metrics),
		transport.WithLogger(logger),
	)
	stats, err := client.Stream(ctx, *text, cfg.Upstream.Voice, session)
	if err != nil {
		if stats.Chunks == 0 || ctx.Err() != nil {
			slog.Error("stream failed", "err", err)
			return 1
		}
		// Play whatever arrived before the failure.
		slog.Warn("stream interrupted, playing partial audio", "err", err, "chunks", stats.Chunks)
		if err := session.EndStream(ctx); err != nil {
			return 1
		}
	}
	slog.Debug("stream finished", "chunks", stats.Chunks, "bytes", stats.Bytes, "first_chunk", stats.FirstChunk)

	select {
	case <-session.Done():
	case err := <-playerErr:
		slog.Error("player failed", "err", err)
		return 1
	case <-ctx.Done():
		slog.Info("interrupted, stopping playback")
		return 130
	}
	if n := h.LiveURLs(); n != 0 {
		slog.Warn("object URLs still live after playback", "count", n)
	}
	return 0
}

// newSession builds the host platform from cfg and binds a session to it.
// Player failures are delivered on playerErr without blocking.
func newSession(cfg config.PlayerConfig, m *observe.Metrics, logger *slog.Logger, playerErr chan<- error) (*playback.Session, *host.Host, error) {
	hostOpts := []host.Option{host.WithLogger(logger)}
	if cfg.SupportedTypes != nil {
		hostOpts = append(hostOpts, host.WithSupportedTypes(cfg.SupportedTypes...))
	}
	h := host.New(hostOpts...)

	var outOpts []host.OutputOption
	if len(cfg.Command) > 0 {
		outOpts = append(outOpts, host.WithCommand(cfg.Command...))
	}
	out := h.NewOutput(cfg.OutputID, outOpts...)
	out.OnError(func(err error) {
		select {
		case playerErr <- err:
		default:
		}
	})

	capability := playback.NewDetector(h)
	switch cfg.ForceMode {
	case config.ModeStreaming:
		capability = playback.Fixed(true)
	case config.ModeAccumulate:
		capability = playback.Fixed(false)
	}

	s, err := playback.New(h,
		playback.WithOutputID(cfg.OutputID),
		playback.WithCodec(cfg.Codec),
		playback.WithCapability(capability),
		playback.WithDiagnostics(observe.NewDiagnostics(m, logger)),
	)
	if err != nil {
		return nil, nil, err
	}
	return s, h, nil
}

// serveMetrics exposes /metrics on addr until the returned func is called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server", "addr", addr, "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
