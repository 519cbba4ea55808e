// Package transport carries one utterance from the relay to a playback
// session over a WebSocket.
//
// Protocol: the client sends a single text frame
//
//	{"type":"utterance","text":"...","voice":"..."}
//
// and the server answers with binary frames, one encoded audio chunk each,
// terminated by {"type":"end"} or {"type":"error","message":"..."}. A normal
// closure without an end message also terminates the stream.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/streamplay/internal/observe"
	"github.com/MrWong99/streamplay/internal/resilience"
)

// Message types.
const (
	TypeUtterance = "utterance"
	TypeEnd       = "end"
	TypeError     = "error"
)

// DefaultReadLimit bounds the size of a single frame.
const DefaultReadLimit = 1 << 20

// ErrRemote is returned when the relay terminates the stream with an error
// message.
var ErrRemote = errors.New("transport: relay reported an error")

// Message is the JSON envelope of every text frame.
type Message struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Voice   string `json:"voice,omitempty"`
	Message string `json:"message,omitempty"`
}

// Sink consumes the chunks of one utterance. *playback.Session satisfies it.
type Sink interface {
	Ingest(chunk []byte)
	EndStream(ctx context.Context) error
}

// Stats summarises a finished stream.
type Stats struct {
	Chunks     int
	Bytes      int64
	FirstChunk time.Duration // zero if no chunk arrived
}

// Option configures a [Client].
type Option func(*Client)

// WithDialTimeout bounds the WebSocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithMetrics records chunk and stream metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithFallbacks adds relay URLs tried in order when the primary cannot be
// reached. Failover happens only at dial time; a stream that already
// delivered chunks is never replayed elsewhere.
func WithFallbacks(urls ...string) Option {
	return func(c *Client) {
		c.fallbacks = append(c.fallbacks, urls...)
	}
}

// WithBreaker tunes the per-endpoint circuit breakers.
func WithBreaker(cfg resilience.BreakerConfig) Option {
	return func(c *Client) {
		c.breaker = cfg
	}
}

// WithReadLimit overrides [DefaultReadLimit].
func WithReadLimit(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// Client requests utterances from a relay.
type Client struct {
	url         string
	fallbacks   []string
	breaker     resilience.BreakerConfig
	endpoints   *resilience.Endpoints
	dialTimeout time.Duration
	readLimit   int64
	metrics     *observe.Metrics
	log         *slog.Logger
}

// NewClient returns a client for the relay endpoint url (ws:// or wss://).
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		dialTimeout: 10 * time.Second,
		readLimit:   DefaultReadLimit,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.endpoints = resilience.NewEndpoints(append([]string{url}, c.fallbacks...), c.breaker, c.log)
	return c
}

// Endpoints returns the relay endpoints in try order.
func (c *Client) Endpoints() *resilience.Endpoints { return c.endpoints }

// Stream requests text spoken with voice and feeds every received chunk to
// sink. It calls sink.EndStream once the relay ends the stream and returns
// after EndStream returned. On error EndStream is not called; the caller
// decides whether to play what arrived.
func (c *Client) Stream(ctx context.Context, text, voice string, sink Sink) (stats Stats, err error) {
	ctx, span := observe.StartStream(ctx, "transport", voice)
	start := time.Now()
	defer func() {
		status := "ok"
		switch {
		case ctx.Err() != nil:
			status = "cancelled"
		case err != nil:
			status = "error"
		}
		c.metrics.RecordStream(ctx, status)
		observe.EndStream(span, stats.Chunks, stats.Bytes, err)
	}()

	conn, err := c.dial(ctx)
	if err != nil {
		return stats, err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(c.readLimit)

	req, _ := json.Marshal(Message{Type: TypeUtterance, Text: text, Voice: voice})
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		return stats, fmt.Errorf("transport: send request: %w", err)
	}

	log := observe.LoggerFrom(ctx, c.log)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				log.Debug("transport: relay closed without end message")
				return stats, sink.EndStream(ctx)
			}
			return stats, fmt.Errorf("transport: read: %w", err)
		}

		if typ == websocket.MessageBinary {
			if stats.Chunks == 0 {
				stats.FirstChunk = time.Since(start)
				c.metrics.FirstChunkLatency.Record(ctx, stats.FirstChunk.Seconds())
			}
			stats.Chunks++
			stats.Bytes += int64(len(data))
			c.metrics.RecordChunk(ctx, observe.DirectionReceived, len(data))
			sink.Ingest(data)
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("transport: malformed control message", "err", err)
			continue
		}
		switch msg.Type {
		case TypeEnd:
			conn.Close(websocket.StatusNormalClosure, "")
			log.Debug("transport: stream ended", "chunks", stats.Chunks, "bytes", stats.Bytes)
			return stats, sink.EndStream(ctx)
		case TypeError:
			conn.Close(websocket.StatusNormalClosure, "")
			return stats, fmt.Errorf("%w: %s", ErrRemote, msg.Message)
		default:
			log.Debug("transport: ignoring control message", "type", msg.Type)
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, err := resilience.Dial(ctx, c.endpoints, func(ctx context.Context, url string) (*websocket.Conn, error) {
		dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()

		conn, _, err := websocket.Dial(dctx, url, nil)
		if err != nil {
			return nil, err
		}
		if url != c.url {
			observe.LoggerFrom(ctx, c.log).Info("transport: using fallback relay", "url", url)
		}
		return conn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return conn, nil
}
