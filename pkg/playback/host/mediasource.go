package host

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/streamplay/pkg/playback"
)

// Compile-time interface assertions.
var (
	_ playback.MediaSource  = (*MediaSource)(nil)
	_ playback.SourceBuffer = (*SourceBuffer)(nil)
)

// MediaSource is an append-only media object. It opens once an [Output]
// binds it and ends after [MediaSource.EndOfStream].
type MediaSource struct {
	host   *Host
	stream *stream

	mu     sync.Mutex
	state  playback.ReadyState
	onOpen func()
	buffer *SourceBuffer
}

func newMediaSource(h *Host) *MediaSource {
	return &MediaSource{host: h, stream: newStream()}
}

// ReadyState implements [playback.MediaSource].
func (m *MediaSource) ReadyState() playback.ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnSourceOpen implements [playback.MediaSource]. fn runs on its own
// goroutine.
func (m *MediaSource) OnSourceOpen(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOpen = fn
}

// AddSourceBuffer implements [playback.MediaSource]. A source supports a
// single buffer.
func (m *MediaSource) AddSourceBuffer(mime string) (playback.SourceBuffer, error) {
	ok, err := m.host.IsTypeSupported(mime)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("host: add source buffer %q: %w", mime, ErrUnsupportedType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != playback.ReadyOpen {
		return nil, fmt.Errorf("host: add source buffer while %s: %w", m.state, ErrInvalidState)
	}
	if m.buffer != nil {
		return nil, fmt.Errorf("host: source buffer already added: %w", ErrInvalidState)
	}
	m.buffer = &SourceBuffer{source: m}
	return m.buffer, nil
}

// EndOfStream implements [playback.MediaSource]. Readers of the source see
// io.EOF once they consumed every appended byte.
func (m *MediaSource) EndOfStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != playback.ReadyOpen {
		return fmt.Errorf("host: end of stream while %s: %w", m.state, ErrInvalidState)
	}
	if m.buffer != nil && m.buffer.Updating() {
		return fmt.Errorf("host: end of stream during append: %w", ErrInvalidState)
	}
	m.state = playback.ReadyEnded
	m.stream.close()
	return nil
}

// attach opens the source. Called by an output when it is bound.
func (m *MediaSource) attach() {
	m.mu.Lock()
	if m.state != playback.ReadyClosed {
		m.mu.Unlock()
		return
	}
	m.state = playback.ReadyOpen
	fn := m.onOpen
	m.mu.Unlock()

	if fn != nil {
		go fn()
	}
}

// reader returns a reader over everything appended so far and everything
// appended later. It unblocks with ctx.Err() when ctx is done.
func (m *MediaSource) reader(ctx context.Context) io.Reader {
	return m.stream.reader(ctx)
}

// SourceBuffer accepts one append at a time. Each append completes
// asynchronously and fires update-end.
type SourceBuffer struct {
	source *MediaSource

	mu          sync.Mutex
	updating    bool
	onUpdateEnd func()
}

// Updating implements [playback.SourceBuffer].
func (b *SourceBuffer) Updating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updating
}

// OnUpdateEnd implements [playback.SourceBuffer].
func (b *SourceBuffer) OnUpdateEnd(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onUpdateEnd = fn
}

// AppendBuffer implements [playback.SourceBuffer]. The chunk is copied, so
// the caller may reuse it once AppendBuffer returns.
func (b *SourceBuffer) AppendBuffer(chunk []byte) error {
	if st := b.source.ReadyState(); st != playback.ReadyOpen {
		return fmt.Errorf("host: append while %s: %w", st, ErrInvalidState)
	}

	b.mu.Lock()
	if b.updating {
		b.mu.Unlock()
		return ErrBufferBusy
	}
	b.updating = true
	b.mu.Unlock()

	data := append([]byte(nil), chunk...)
	go func() {
		b.source.stream.write(data)

		b.mu.Lock()
		b.updating = false
		fn := b.onUpdateEnd
		b.mu.Unlock()
		if fn != nil {
			fn()
		}
	}()
	return nil
}

// ── stream ───────────────────────────────────────────────────────────────────

// stream is a growable in-memory byte log with blocking readers. Writes
// never wait for readers.
type stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
}

func newStream() *stream {
	s := &stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *stream) write(p []byte) {
	s.mu.Lock()
	s.data = append(s.data, p...)
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *stream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *stream) reader(ctx context.Context) io.Reader {
	r := &streamReader{s: s, ctx: ctx}
	context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	return r
}

type streamReader struct {
	s   *stream
	ctx context.Context
	off int
}

func (r *streamReader) Read(p []byte) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for r.off >= len(s.data) && !s.closed && r.ctx.Err() == nil {
		s.cond.Wait()
	}
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if r.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[r.off:])
	r.off += n
	return n, nil
}
