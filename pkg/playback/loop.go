package playback

import "sync"

// eventLoop serialises all session work onto one goroutine. Callers and
// platform callbacks post closures; the loop runs them in posting order.
// The mailbox is unbounded so posting never blocks.
type eventLoop struct {
	mu      sync.Mutex
	pending []func()
	stopped bool // no further posts accepted
	aborted bool // pending work is discarded

	notify chan struct{} // signalled when work is posted
	quit   chan struct{} // closed by stop or abort
	done   chan struct{} // closed once the loop goroutine has exited
	once   sync.Once
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// start launches the loop goroutine. Work posted before start is kept and
// runs first.
func (l *eventLoop) start() {
	go l.run()
}

// post schedules fn. It reports false if the loop no longer accepts work, in
// which case fn is discarded.
func (l *eventLoop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

// stop rejects further posts. Work that was already accepted still runs
// before the goroutine exits.
func (l *eventLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.once.Do(func() { close(l.quit) })
}

// abort rejects further posts and drops accepted work that has not started.
func (l *eventLoop) abort() {
	l.mu.Lock()
	l.stopped = true
	l.aborted = true
	l.pending = nil
	l.mu.Unlock()
	l.once.Do(func() { close(l.quit) })
}

// next pops the oldest pending closure.
func (l *eventLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.aborted || len(l.pending) == 0 {
		return nil, false
	}
	fn := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return fn, true
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		if fn, ok := l.next(); ok {
			fn()
			continue
		}
		select {
		case <-l.quit:
			// A post may have raced with stop; drain it before leaving.
			for {
				fn, ok := l.next()
				if !ok {
					return
				}
				fn()
			}
		case <-l.notify:
		}
	}
}
