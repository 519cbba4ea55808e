package playback

// Mode identifies the playback strategy chosen for a [Session].
type Mode int

const (
	// ModeStreaming appends chunks to a [SourceBuffer] as they arrive.
	ModeStreaming Mode = iota

	// ModeAccumulate buffers every chunk and plays the concatenation after
	// the stream ends.
	ModeAccumulate
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeStreaming:
		return "streaming"
	case ModeAccumulate:
		return "accumulate"
	default:
		return "unknown"
	}
}

// strategy is implemented by the two playback strategies. All methods run on
// the session event loop.
type strategy interface {
	mode() Mode

	// ingest accepts the next chunk in stream order.
	ingest(chunk []byte)

	// end finalises the stream. done is called exactly once, after the
	// strategy has made its playback attempt (or decided there is nothing to
	// play). It may be called later from another loop turn.
	end(done func())
}

// hooks are the session services a strategy may use.
type hooks struct {
	post func(func()) bool
	warn func(WarningKind, error)
	play func()
	bind func(obj any) bool
}
