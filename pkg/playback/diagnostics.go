package playback

import (
	"context"
	"fmt"
	"log/slog"
)

// WarningKind classifies a failure that the session handled internally.
type WarningKind string

const (
	// WarnCapabilityProbe: the platform panicked while deciding streaming
	// support; the session fell back to accumulate mode.
	WarnCapabilityProbe WarningKind = "capability_probe"
	// WarnMediaSource: the media source could not be created.
	WarnMediaSource WarningKind = "media_source"
	// WarnSourceBuffer: the source opened but refused a source buffer for
	// the codec. Playback still starts at end of stream.
	WarnSourceBuffer WarningKind = "source_buffer"
	// WarnAppend: the buffer rejected a chunk. The chunk stays queued.
	WarnAppend WarningKind = "append"
	// WarnEndOfStream: signalling end-of-stream on the source failed.
	WarnEndOfStream WarningKind = "end_of_stream"
	// WarnUndelivered: the stream ended with chunks that could not be
	// handed to the buffer. They are dropped and playback starts anyway.
	WarnUndelivered WarningKind = "undelivered"
	// WarnPlay: the output refused to start playback.
	WarnPlay WarningKind = "play"
	// WarnCallback: a completion callback panicked.
	WarnCallback WarningKind = "callback"
	// WarnRevoke: releasing an object URL failed.
	WarnRevoke WarningKind = "revoke"
	// WarnObjectURL: an object URL could not be created.
	WarnObjectURL WarningKind = "object_url"
	// WarnBind: attaching a source to the output failed.
	WarnBind WarningKind = "bind"
	// WarnLateChunk: a chunk arrived after end of stream and was ignored.
	WarnLateChunk WarningKind = "late_chunk"
)

// Warning describes one swallowed failure.
type Warning struct {
	Kind WarningKind
	Err  error
}

// Error implements error so a Warning can be logged or wrapped directly.
func (w Warning) Error() string {
	if w.Err == nil {
		return string(w.Kind)
	}
	return fmt.Sprintf("%s: %v", w.Kind, w.Err)
}

// Unwrap returns the underlying error.
func (w Warning) Unwrap() error { return w.Err }

// Diagnostics is the internal error channel of a [Session]. Failures that
// never reach the caller (rejected appends, rejected playback, panicking
// callbacks, ...) are reported here instead.
//
// Warn is called from the session event loop and must not block.
type Diagnostics interface {
	Warn(w Warning)
}

// DiagnosticsFunc adapts a plain function to [Diagnostics].
type DiagnosticsFunc func(Warning)

// Warn calls f(w).
func (f DiagnosticsFunc) Warn(w Warning) { f(w) }

// LogDiagnostics reports warnings through a [slog.Logger]. A nil Logger uses
// [slog.Default].
type LogDiagnostics struct {
	Logger *slog.Logger
}

// Warn logs w at warn level, except for rejected playback which is expected
// under autoplay restrictions and logged at debug level.
func (d LogDiagnostics) Warn(w Warning) {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	level := slog.LevelWarn
	if w.Kind == WarnPlay {
		level = slog.LevelDebug
	}
	l.Log(context.Background(), level, "playback: internal failure", "kind", string(w.Kind), "err", w.Err)
}
