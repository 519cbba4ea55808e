// Package host implements the playback platform for a local process.
//
// A [Host] owns the output sinks and the object URL registry. Media bound to
// an [Output] is piped into the standard input of an external player command
// (ffplay by default), so the player decodes the container while the
// session is still appending to it.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/streamplay/pkg/playback"
)

// URLPrefix is prepended to every object URL handed out by a [Host].
const URLPrefix = "blob:streamplay/"

var (
	// ErrUnknownURL is returned for object URLs that were never created or
	// have already been revoked.
	ErrUnknownURL = errors.New("host: unknown object URL")

	// ErrInvalidState is returned when an operation does not fit the current
	// state of a media source or output.
	ErrInvalidState = errors.New("host: invalid state")

	// ErrBufferBusy is returned by [SourceBuffer.AppendBuffer] while a
	// previous append is still in flight.
	ErrBufferBusy = errors.New("host: source buffer is updating")

	// ErrUnsupportedType is returned for MIME types the host cannot play.
	ErrUnsupportedType = errors.New("host: unsupported media type")
)

// DefaultSupportedTypes lists the MIME types a Host reports as playable when
// no explicit list is configured.
var DefaultSupportedTypes = []string{
	playback.DefaultCodec,
	playback.PayloadType,
	`audio/ogg; codecs="opus"`,
	"audio/mpeg",
}

// Compile-time interface assertions.
var (
	_ playback.StreamingEnvironment = (*Host)(nil)
	_ playback.TypeSupporter        = (*Host)(nil)
)

// Option configures a [Host].
type Option func(*Host)

// WithSupportedTypes replaces the list of playable MIME types. Passing no
// types makes the host report every type as unsupported, which forces
// sessions into accumulate mode.
func WithSupportedTypes(types ...string) Option {
	return func(h *Host) {
		h.supported = make(map[string]struct{}, len(types))
		for _, t := range types {
			h.supported[normalizeMIME(t)] = struct{}{}
		}
	}
}

// WithLogger sets the logger used by the host and its outputs.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.log = l
		}
	}
}

// Host is a [playback.StreamingEnvironment] backed by in-memory media objects
// and external player processes. All methods are safe for concurrent use.
type Host struct {
	log       *slog.Logger
	supported map[string]struct{}

	mu      sync.Mutex
	outputs map[string]*Output
	objects map[string]any
}

// New creates an empty Host.
func New(opts ...Option) *Host {
	h := &Host{
		log:     slog.Default(),
		outputs: make(map[string]*Output),
		objects: make(map[string]any),
	}
	WithSupportedTypes(DefaultSupportedTypes...)(h)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewOutput creates an output sink and registers it under id, replacing any
// previous registration.
func (h *Host) NewOutput(id string, opts ...OutputOption) *Output {
	o := newOutput(h, opts...)
	h.mu.Lock()
	h.outputs[id] = o
	h.mu.Unlock()
	return o
}

// LookupOutput implements [playback.Environment].
func (h *Host) LookupOutput(id string) (playback.Output, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.outputs[id]
	if !ok {
		return nil, false
	}
	return o, true
}

// CreateObjectURL implements [playback.Environment]. obj must be a
// *[MediaSource] created by this host or a [playback.Blob].
func (h *Host) CreateObjectURL(obj any) (string, error) {
	switch v := obj.(type) {
	case *MediaSource:
		if v == nil || v.host != h {
			return "", fmt.Errorf("host: create object URL: media source belongs to another host")
		}
	case playback.Blob:
	default:
		return "", fmt.Errorf("host: create object URL for %T: %w", obj, ErrUnsupportedType)
	}

	url := URLPrefix + uuid.NewString()
	h.mu.Lock()
	h.objects[url] = obj
	n := len(h.objects)
	h.mu.Unlock()

	h.log.Debug("host: object URL created", "url", url, "live", n)
	return url, nil
}

// RevokeObjectURL implements [playback.Environment].
func (h *Host) RevokeObjectURL(url string) error {
	h.mu.Lock()
	_, ok := h.objects[url]
	delete(h.objects, url)
	n := len(h.objects)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("host: revoke %q: %w", url, ErrUnknownURL)
	}
	h.log.Debug("host: object URL revoked", "url", url, "live", n)
	return nil
}

// LiveURLs reports how many object URLs are currently live.
func (h *Host) LiveURLs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

func (h *Host) resolve(url string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[url]
	if !ok {
		return nil, fmt.Errorf("host: resolve %q: %w", url, ErrUnknownURL)
	}
	return obj, nil
}

// NewMediaSource implements [playback.StreamingEnvironment].
func (h *Host) NewMediaSource() (playback.MediaSource, error) {
	return newMediaSource(h), nil
}

// IsTypeSupported implements [playback.TypeSupporter]. Comparison ignores
// case and whitespace.
func (h *Host) IsTypeSupported(mime string) (bool, error) {
	if strings.TrimSpace(mime) == "" {
		return false, errors.New("host: empty media type")
	}
	_, ok := h.supported[normalizeMIME(mime)]
	return ok, nil
}

func normalizeMIME(mime string) string {
	return strings.ToLower(strings.Join(strings.Fields(mime), ""))
}
