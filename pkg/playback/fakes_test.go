package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var (
	errBusy     = errors.New("source buffer is updating")
	errRejected = errors.New("append rejected")
)

// ─── Output ───────────────────────────────────────────────────────────────────

type fakeOutput struct {
	mu      sync.Mutex
	sources []string
	plays   int
	playCtx []context.Context
	playErr error
	onEnded func()
}

func (o *fakeOutput) SetSource(url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources = append(o.sources, url)
	return nil
}

func (o *fakeOutput) Play(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plays++
	o.playCtx = append(o.playCtx, ctx)
	return o.playErr
}

func (o *fakeOutput) OnEnded(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEnded = fn
}

// end simulates the natural end of playback.
func (o *fakeOutput) end() {
	o.mu.Lock()
	fn := o.onEnded
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// lastPlayCtx returns the context of the most recent Play call.
func (o *fakeOutput) lastPlayCtx() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.playCtx) == 0 {
		return nil
	}
	return o.playCtx[len(o.playCtx)-1]
}

func (o *fakeOutput) playCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.plays
}

// ─── SourceBuffer ─────────────────────────────────────────────────────────────

type fakeBuffer struct {
	mu          sync.Mutex
	updating    bool
	failNext    int
	appended    [][]byte
	attempts    int
	onUpdateEnd func()
}

func (b *fakeBuffer) AppendBuffer(chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.updating {
		return errBusy
	}
	if b.failNext > 0 {
		b.failNext--
		return errRejected
	}
	b.appended = append(b.appended, chunk)
	b.updating = true
	return nil
}

func (b *fakeBuffer) Updating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updating
}

func (b *fakeBuffer) OnUpdateEnd(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onUpdateEnd = fn
}

// complete finishes the in-flight append and fires update-end.
func (b *fakeBuffer) complete() {
	b.mu.Lock()
	b.updating = false
	fn := b.onUpdateEnd
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *fakeBuffer) failNextAppends(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

func (b *fakeBuffer) chunks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.appended))
	for i, c := range b.appended {
		out[i] = string(c)
	}
	return out
}

// ─── MediaSource ──────────────────────────────────────────────────────────────

type fakeSource struct {
	mu       sync.Mutex
	state    ReadyState
	onOpen   func()
	buffer   *fakeBuffer
	addErr   error
	eosErr   error
	eosCalls int
	mimes    []string
}

func (m *fakeSource) ReadyState() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *fakeSource) AddSourceBuffer(mime string) (SourceBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mimes = append(m.mimes, mime)
	if m.addErr != nil {
		return nil, m.addErr
	}
	return m.buffer, nil
}

func (m *fakeSource) EndOfStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eosCalls++
	if m.eosErr != nil {
		return m.eosErr
	}
	m.state = ReadyEnded
	return nil
}

func (m *fakeSource) OnSourceOpen(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOpen = fn
}

// open moves the source to ReadyOpen and fires source-open.
func (m *fakeSource) open() {
	m.mu.Lock()
	m.state = ReadyOpen
	fn := m.onOpen
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *fakeSource) eosCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eosCalls
}

// ─── Environment ──────────────────────────────────────────────────────────────

type fakeEnv struct {
	mu         sync.Mutex
	outputs    map[string]Output
	supported  bool
	probeErr   error
	probePanic bool
	probes     int
	mediaErr   error
	source     *fakeSource
	seq        int
	objects    map[string]any
	created    []string
	revoked    []string
}

var (
	_ StreamingEnvironment = (*fakeEnv)(nil)
	_ TypeSupporter        = (*fakeEnv)(nil)
)

func newFakeEnv(supported bool) (*fakeEnv, *fakeOutput) {
	out := &fakeOutput{}
	env := &fakeEnv{
		outputs:   map[string]Output{DefaultOutputID: out},
		supported: supported,
		source:    &fakeSource{buffer: &fakeBuffer{}},
		objects:   make(map[string]any),
	}
	return env, out
}

func (e *fakeEnv) LookupOutput(id string) (Output, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.outputs[id]
	return o, ok
}

func (e *fakeEnv) CreateObjectURL(obj any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	url := fmt.Sprintf("blob:test/%d", e.seq)
	e.objects[url] = obj
	e.created = append(e.created, url)
	return url, nil
}

func (e *fakeEnv) RevokeObjectURL(url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.objects[url]; !ok {
		return fmt.Errorf("unknown url %q", url)
	}
	delete(e.objects, url)
	e.revoked = append(e.revoked, url)
	return nil
}

func (e *fakeEnv) NewMediaSource() (MediaSource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mediaErr != nil {
		return nil, e.mediaErr
	}
	return e.source, nil
}

func (e *fakeEnv) IsTypeSupported(string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.probes++
	if e.probePanic {
		panic("probe exploded")
	}
	if e.probeErr != nil {
		return false, e.probeErr
	}
	return e.supported, nil
}

func (e *fakeEnv) revokedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.revoked)
}

func (e *fakeEnv) createdURLs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.created...)
}

func (e *fakeEnv) object(url string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.objects[url]
}

// envOnly hides everything but the base Environment methods.
type envOnly struct{ Environment }

// streamingOnly hides the codec query.
type streamingOnly struct{ StreamingEnvironment }

// ─── Diagnostics ──────────────────────────────────────────────────────────────

type recorder struct {
	mu       sync.Mutex
	warnings []Warning
}

func (r *recorder) Warn(w Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, w)
}

func (r *recorder) count(kind WarningKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.warnings)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// settle waits until every closure posted to the session loop so far has run.
func settle(t *testing.T, s *Session) {
	t.Helper()
	done := make(chan struct{})
	if !s.loop.post(func() { close(done) }) {
		select {
		case <-s.loop.done:
		case <-time.After(2 * time.Second):
			t.Fatal("event loop did not exit")
		}
		return
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not settle")
	}
}

func newTestSession(t *testing.T, env Environment, opts ...Option) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, err := New(env, append([]Option{WithDiagnostics(rec)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}

func bytesOf(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
