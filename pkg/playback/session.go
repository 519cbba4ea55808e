package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a [Session].
type State int32

const (
	// StateConstructed is held only while [New] runs.
	StateConstructed State = iota
	// StateStrategyChosen: the mode is fixed and no chunk has arrived yet.
	StateStrategyChosen
	// StateStreaming: at least one chunk was ingested.
	StateStreaming
	// StateEnded: EndStream was called. Later chunks are ignored.
	StateEnded
	// StateCompleted: the output finished and the completion callback ran.
	StateCompleted
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateStrategyChosen:
		return "strategy_chosen"
	case StateStreaming:
		return "streaming"
	case StateEnded:
		return "ended"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

type options struct {
	outputID   string
	codec      string
	capability CapabilityFunc
	diag       Diagnostics
}

// Option configures a [Session].
type Option func(*options)

// WithOutputID overrides the identifier of the output sink looked up in the
// environment. Defaults to [DefaultOutputID].
func WithOutputID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.outputID = id
		}
	}
}

// WithCodec overrides the container/codec used for detection and for the
// source buffer. Defaults to [DefaultCodec].
func WithCodec(mime string) Option {
	return func(o *options) {
		if mime != "" {
			o.codec = mime
		}
	}
}

// WithCapability injects the capability check used to choose the strategy.
// Defaults to probing the environment with [SupportsStreamingAppend].
func WithCapability(fn CapabilityFunc) Option {
	return func(o *options) {
		o.capability = fn
	}
}

// WithDiagnostics sets the sink for internally handled failures. Defaults to
// [LogDiagnostics] on the default logger.
func WithDiagnostics(d Diagnostics) Option {
	return func(o *options) {
		o.diag = d
	}
}

// Session plays back one utterance delivered as a stream of chunks.
//
// A Session is created per stream. The caller feeds it with
// [Session.Ingest], terminates it with [Session.EndStream] and is told about
// the natural end of playback through [Session.OnComplete]. All work happens
// on a private event loop, so every exported method is safe for concurrent
// use and none of them blocks on the platform except where documented.
type Session struct {
	env   Environment
	out   Output
	diag  Diagnostics
	mode  Mode
	loop  *eventLoop
	state atomic.Int32

	ctx    context.Context // passed to Output.Play, cancelled by Close
	cancel context.CancelFunc

	done      chan struct{} // closed on completion
	closed    chan struct{} // closed by Close
	closeOnce sync.Once

	// Owned by the event loop.
	strategy   strategy
	handle     string
	hasHandle  bool
	onComplete func()
	endCalled  bool
}

// New constructs a session bound to the output sink of env.
//
// It returns [ErrOutputNotFound] when the sink is missing; no other failure
// is reported to the caller. The playback strategy is chosen here and never
// changes for the lifetime of the session.
func New(env Environment, opts ...Option) (*Session, error) {
	o := options{
		outputID: DefaultOutputID,
		codec:    DefaultCodec,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.diag == nil {
		o.diag = LogDiagnostics{}
	}
	if env == nil {
		return nil, fmt.Errorf("%w: %q (no environment)", ErrOutputNotFound, o.outputID)
	}
	out, ok := env.LookupOutput(o.outputID)
	if !ok || out == nil {
		return nil, fmt.Errorf("%w: %q", ErrOutputNotFound, o.outputID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		env:    env,
		out:    out,
		diag:   o.diag,
		loop:   newEventLoop(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	s.state.Store(int32(StateConstructed))

	h := hooks{
		post: s.loop.post,
		warn: s.warn,
		play: func() { s.play(s.ctx) },
		bind: s.bind,
	}

	if s.probe(o.capability, o.codec) {
		a, err := s.newStreaming(h, o.codec)
		if err != nil {
			s.warn(WarnMediaSource, err)
		} else {
			s.strategy = a
		}
	}
	if s.strategy == nil {
		s.strategy = newAccumulator(h)
	}
	s.mode = s.strategy.mode()

	out.OnEnded(func() { s.loop.post(s.handleEnded) })

	s.state.Store(int32(StateStrategyChosen))
	s.loop.start()
	return s, nil
}

// probe runs the capability check, treating a panicking check as
// unsupported.
func (s *Session) probe(fn CapabilityFunc, codec string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.warn(WarnCapabilityProbe, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()
	if fn == nil {
		return SupportsStreamingAppend(s.env, codec)
	}
	return fn(codec)
}

func (s *Session) newStreaming(h hooks, codec string) (*streamingAppender, error) {
	senv, ok := s.env.(StreamingEnvironment)
	if !ok {
		return nil, errors.New("environment has no media source support")
	}
	src, err := senv.NewMediaSource()
	if err != nil {
		return nil, fmt.Errorf("create media source: %w", err)
	}
	if src == nil {
		return nil, errors.New("create media source: nil source")
	}
	a := newStreamingAppender(h, src, codec)
	if !s.bind(src) {
		return nil, errors.New("bind media source to output")
	}
	return a, nil
}

// Mode returns the strategy chosen at construction.
func (s *Session) Mode() Mode { return s.mode }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done returns a channel that is closed after playback completed and the
// completion callback ran.
func (s *Session) Done() <-chan struct{} { return s.done }

// Ingest hands the next chunk of the stream to the session. It never blocks;
// the chunk is queued internally if the platform is not ready for it. The
// caller must not modify chunk afterwards.
func (s *Session) Ingest(chunk []byte) {
	s.loop.post(func() {
		switch s.State() {
		case StateStrategyChosen:
			s.state.Store(int32(StateStreaming))
		case StateEnded, StateCompleted:
			s.warn(WarnLateChunk, fmt.Errorf("chunk of %d bytes after end of stream", len(chunk)))
		}
		s.strategy.ingest(chunk)
	})
}

// EndStream tells the session that no more chunks will arrive. It returns
// once the strategy has finalised the stream and attempted playback, when
// ctx is done, or when the session is closed. Failures during finalisation
// are reported to the diagnostics sink, not returned. Calls after the first
// are no-ops.
func (s *Session) EndStream(ctx context.Context) error {
	finished := make(chan struct{})
	posted := s.loop.post(func() {
		if s.endCalled || s.State() == StateCompleted {
			close(finished)
			return
		}
		s.endCalled = true
		s.state.Store(int32(StateEnded))
		s.strategy.end(func() { close(finished) })
	})
	if !posted {
		return nil
	}

	select {
	case <-finished:
		return nil
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnComplete registers cb to run once the output finished playing naturally.
// Only the latest registration is kept. If playback already completed, cb
// runs immediately. A panic inside cb is recovered and reported; the session
// resource is released after cb returns.
func (s *Session) OnComplete(cb func()) {
	if cb == nil {
		return
	}
	posted := s.loop.post(func() {
		if s.State() == StateCompleted {
			s.invoke(cb)
			return
		}
		s.onComplete = cb
	})
	if posted {
		return
	}
	select {
	case <-s.done:
		s.invoke(cb)
	default:
	}
}

// Play starts or resumes playback. A rejected attempt, for example because
// the platform requires a user gesture first, is reported to the diagnostics
// sink and otherwise ignored. ctx bounds only the wait for the attempt to be
// made; the playback itself lives as long as the session.
func (s *Session) Play(ctx context.Context) {
	finished := make(chan struct{})
	posted := s.loop.post(func() {
		defer close(finished)
		s.play(s.ctx)
	})
	if !posted {
		return
	}
	select {
	case <-finished:
	case <-s.closed:
	case <-ctx.Done():
	}
}

// Close abandons the session: pending work is dropped, a blocked playback
// start is cancelled and a live resource handle is released. Close does not
// wait for the event loop and may be called from the completion callback.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		s.loop.post(func() {
			s.release()
			s.loop.abort()
		})
	})
	return nil
}

func (s *Session) play(ctx context.Context) {
	if err := s.out.Play(ctx); err != nil {
		s.warn(WarnPlay, err)
	}
}

// bind points the output at obj through a fresh object URL. Any previous
// handle is released first so at most one is live.
func (s *Session) bind(obj any) bool {
	s.release()

	url, err := s.env.CreateObjectURL(obj)
	if err != nil {
		s.warn(WarnObjectURL, err)
		return false
	}
	s.handle = url
	s.hasHandle = true

	if err := s.out.SetSource(url); err != nil {
		s.warn(WarnBind, err)
		s.release()
		return false
	}
	return true
}

// release revokes the live object URL, if any.
func (s *Session) release() {
	if !s.hasHandle {
		return
	}
	url := s.handle
	s.handle = ""
	s.hasHandle = false
	if err := s.env.RevokeObjectURL(url); err != nil {
		s.warn(WarnRevoke, err)
	}
}

func (s *Session) handleEnded() {
	if s.State() == StateCompleted {
		return
	}
	s.state.Store(int32(StateCompleted))

	if cb := s.onComplete; cb != nil {
		s.onComplete = nil
		s.invoke(cb)
	}
	s.release()

	close(s.done)
	s.loop.stop()
	s.cancel()
}

func (s *Session) invoke(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			s.warn(WarnCallback, fmt.Errorf("panic: %v", r))
		}
	}()
	cb()
}

func (s *Session) warn(kind WarningKind, err error) {
	s.diag.Warn(Warning{Kind: kind, Err: err})
}
