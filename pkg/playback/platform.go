// Package playback plays back encoded audio that arrives as a sequence of
// chunks, for example from a streaming text-to-speech endpoint.
//
// A [Session] picks one of two strategies when it is constructed:
//
//   - streaming: chunks are appended incrementally to a platform media buffer
//     ([MediaSource] / [SourceBuffer]) while the stream is still arriving.
//   - accumulate: chunks are collected until the stream ends, concatenated
//     into one payload and played in a single shot.
//
// The platform the session drives is described by the [Environment] family of
// interfaces. The hosting process supplies an implementation (see the host
// subpackage for one backed by an external player process).
//
// This package lives under pkg/ because other programs are expected to embed
// a [Session] and to provide their own [Environment].
package playback

import (
	"context"
	"errors"
)

const (
	// DefaultOutputID is the well-known identifier of the persistent output
	// sink looked up by [New].
	DefaultOutputID = "tts-player"

	// DefaultCodec is the container/codec probed for streaming support and
	// passed to [MediaSource.AddSourceBuffer].
	DefaultCodec = `audio/webm; codecs="opus"`

	// PayloadType is the MIME type of the concatenated payload produced in
	// accumulate mode.
	PayloadType = "audio/webm"
)

// ErrOutputNotFound is returned by [New] when the environment has no output
// sink registered under the requested identifier.
var ErrOutputNotFound = errors.New("playback: output sink not found")

// ReadyState mirrors the lifecycle of a [MediaSource].
type ReadyState int

const (
	// ReadyClosed means the source is not attached to an output yet.
	ReadyClosed ReadyState = iota

	// ReadyOpen means the source is attached and accepts source buffers and
	// appends.
	ReadyOpen

	// ReadyEnded means [MediaSource.EndOfStream] was called.
	ReadyEnded
)

// String returns the human-readable name of the ready state.
func (s ReadyState) String() string {
	switch s {
	case ReadyClosed:
		return "closed"
	case ReadyOpen:
		return "open"
	case ReadyEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Blob is an in-memory media object handed to [Environment.CreateObjectURL]
// in accumulate mode.
type Blob struct {
	Data []byte
	Type string
}

// Output is the persistent playback element the session binds media to.
//
// Callbacks registered through OnEnded may be invoked on any goroutine; the
// session only uses them to post work to its own event loop.
type Output interface {
	// SetSource binds the media object addressed by url to the output,
	// replacing any previous source.
	SetSource(url string) error

	// Play starts or resumes playback. It returns once playback has started
	// or was rejected; it does not wait for playback to finish. Calling Play
	// while already playing is a no-op.
	Play(ctx context.Context) error

	// OnEnded registers fn to be called when playback reaches its natural
	// end. Subsequent calls replace the previous registration.
	OnEnded(fn func())
}

// SourceBuffer is the incremental append target of a [MediaSource]. It
// accepts a single append at a time and signals completion asynchronously.
type SourceBuffer interface {
	// AppendBuffer starts appending chunk. It fails if the buffer is busy or
	// the platform rejects the data.
	AppendBuffer(chunk []byte) error

	// Updating reports whether an append is still in flight.
	Updating() bool

	// OnUpdateEnd registers fn to be called after every completed append.
	OnUpdateEnd(fn func())
}

// MediaSource is the platform facility for incrementally fed playback.
type MediaSource interface {
	// ReadyState returns the current lifecycle state.
	ReadyState() ReadyState

	// AddSourceBuffer creates the source buffer for mime. Only valid while
	// the source is open.
	AddSourceBuffer(mime string) (SourceBuffer, error)

	// EndOfStream signals that no further data will be appended.
	EndOfStream() error

	// OnSourceOpen registers fn to be called once the source transitions to
	// [ReadyOpen].
	OnSourceOpen(fn func())
}

// Environment is the minimum every platform must provide: a registry of
// output sinks and object URLs.
type Environment interface {
	// LookupOutput returns the output registered under id.
	LookupOutput(id string) (Output, bool)

	// CreateObjectURL returns a temporary URL addressing obj, which is either
	// a [MediaSource] created by the same environment or a [Blob].
	CreateObjectURL(obj any) (string, error)

	// RevokeObjectURL releases a URL returned by CreateObjectURL.
	RevokeObjectURL(url string) error
}

// StreamingEnvironment is implemented by environments that offer
// incremental-append playback.
type StreamingEnvironment interface {
	Environment

	// NewMediaSource creates a fresh, closed media source.
	NewMediaSource() (MediaSource, error)
}

// TypeSupporter is implemented by environments that can answer whether a
// container/codec combination is playable through a [MediaSource].
type TypeSupporter interface {
	IsTypeSupported(mime string) (bool, error)
}
