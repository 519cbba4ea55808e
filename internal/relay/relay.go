// Package relay serves utterances to playback clients over WebSocket.
//
// Each connection carries one utterance request. The relay resolves the
// requested voice to a pre-encoded file under its audio directory and
// streams it as binary frames, paced to mimic a synthesis service that
// produces audio faster than real time.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/streamplay/internal/observe"
	"github.com/MrWong99/streamplay/internal/transport"
)

const (
	// DefaultVoice is streamed when the requested voice has no file.
	DefaultVoice = "default"

	// FileExt is the extension of voice files.
	FileExt = ".webm"

	requestTimeout = 10 * time.Second
)

// ErrVoiceNotFound is reported when neither the requested voice nor the
// default voice exists.
var ErrVoiceNotFound = errors.New("relay: voice not found")

var voicePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Pacing controls how a voice file is cut into frames.
type Pacing struct {
	ChunkSize int
	Interval  time.Duration
}

// Option configures a [Handler].
type Option func(*Handler)

// WithPacing sets the initial frame size and interval.
func WithPacing(p Pacing) Option {
	return func(h *Handler) {
		h.SetPacing(p)
	}
}

// WithMetrics records stream metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket upgrades from the given
// host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) {
		h.origins = append(h.origins, patterns...)
	}
}

// Handler is the WebSocket utterance endpoint.
type Handler struct {
	audioDir string
	origins  []string
	metrics  *observe.Metrics
	log      *slog.Logger
	pacing   atomic.Pointer[Pacing]
	streams  sync.WaitGroup
}

// New returns a handler serving voices from audioDir.
func New(audioDir string, opts ...Option) *Handler {
	h := &Handler{
		audioDir: audioDir,
		log:      slog.Default(),
	}
	h.SetPacing(Pacing{ChunkSize: 4096})
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// SetPacing replaces the pacing for streams started afterwards.
func (h *Handler) SetPacing(p Pacing) {
	if p.ChunkSize <= 0 {
		p.ChunkSize = 4096
	}
	h.pacing.Store(&p)
}

// Pacing returns the current pacing.
func (h *Handler) Pacing() Pacing {
	return *h.pacing.Load()
}

// Register adds the WebSocket endpoint and the legacy stub to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws/utterance", h)
	mux.HandleFunc("/api/utterance", Gone)
}

// Wait blocks until every stream in flight finished or ctx is done. Hijacked
// WebSocket connections are not tracked by http.Server.Shutdown.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request and streams one utterance.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Counted before the upgrade so a Wait racing the handshake still sees it.
	h.streams.Add(1)
	defer h.streams.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Debug("relay: upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	h.metrics.ActiveSessions.Add(ctx, 1)
	defer h.metrics.ActiveSessions.Add(ctx, -1)

	log := observe.LoggerFrom(ctx, h.log)
	status := "ok"
	defer func() { h.metrics.RecordStream(ctx, status) }()

	req, err := readRequest(ctx, conn)
	if err != nil {
		status = "error"
		log.Warn("relay: bad request", "err", err)
		h.fail(ctx, conn, err.Error())
		return
	}

	pacing := h.Pacing()
	var (
		n       int64
		spanErr error
	)
	ctx, span := observe.StartStream(ctx, "relay", req.Voice, attribute.Int("text_len", len(req.Text)))
	defer func() { observe.EndStream(span, chunkCount(n, pacing.ChunkSize), n, spanErr) }()

	f, voice, err := h.open(req.Voice)
	if err != nil {
		status, spanErr = "error", err
		log.Warn("relay: resolve voice", "voice", req.Voice, "err", err)
		h.fail(ctx, conn, err.Error())
		return
	}
	defer f.Close()

	n, err = h.stream(ctx, conn, f, pacing)
	if err != nil {
		spanErr = err
		status = "error"
		if ctx.Err() != nil {
			status = "cancelled"
		}
		log.Warn("relay: stream aborted", "voice", voice, "bytes", n, "err", err)
		return
	}

	end, _ := json.Marshal(transport.Message{Type: transport.TypeEnd})
	if err := conn.Write(ctx, websocket.MessageText, end); err != nil {
		status, spanErr = "error", err
		log.Warn("relay: send end", "err", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
	log.Info("relay: utterance streamed", "voice", voice, "bytes", n)
}

// chunkCount is the number of frames stream sent for n bytes.
func chunkCount(n int64, size int) int {
	return int((n + int64(size) - 1) / int64(size))
}

func readRequest(ctx context.Context, conn *websocket.Conn) (transport.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var req transport.Message
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return req, fmt.Errorf("read request: %w", err)
	}
	if typ != websocket.MessageText {
		return req, errors.New("request must be a text frame")
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if req.Type != transport.TypeUtterance {
		return req, fmt.Errorf("unexpected message type %q", req.Type)
	}
	if req.Text == "" {
		return req, errors.New("text is required")
	}
	if req.Voice == "" {
		req.Voice = DefaultVoice
	}
	return req, nil
}

// open resolves voice to a file, falling back to the default voice.
func (h *Handler) open(voice string) (*os.File, string, error) {
	if !voicePattern.MatchString(voice) {
		return nil, "", fmt.Errorf("relay: invalid voice name %q", voice)
	}
	for _, v := range []string{voice, DefaultVoice} {
		f, err := os.Open(filepath.Join(h.audioDir, v+FileExt))
		if err == nil {
			return f, v, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("relay: open voice %q: %w", v, err)
		}
	}
	return nil, "", fmt.Errorf("%w: %q", ErrVoiceNotFound, voice)
}

// stream copies r to conn in frames of p.ChunkSize bytes.
func (h *Handler) stream(ctx context.Context, conn *websocket.Conn, r io.Reader, p Pacing) (int64, error) {
	var ticker *time.Ticker
	if p.Interval > 0 {
		ticker = time.NewTicker(p.Interval)
		defer ticker.Stop()
	}

	buf := make([]byte, p.ChunkSize)
	var total int64
	for first := true; ; first = false {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if ticker != nil && !first {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return total, ctx.Err()
				}
			}
			if werr := conn.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			h.metrics.RecordChunk(ctx, observe.DirectionSent, n)
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return total, nil
		case err != nil:
			return total, err
		}
	}
}

func (h *Handler) fail(ctx context.Context, conn *websocket.Conn, msg string) {
	data, _ := json.Marshal(transport.Message{Type: transport.TypeError, Message: msg})
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// goneBody is the response of the removed request/response endpoint.
var goneBody = map[string]string{"error": "Endpoint removed. Use WebSocket streaming."}

// Gone answers every request with 410 Gone. It replaces the former
// request/response utterance endpoint so stale clients fail loudly.
func Gone(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusGone)
	_ = json.NewEncoder(w).Encode(goneBody)
}
