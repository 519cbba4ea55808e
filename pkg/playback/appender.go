package playback

import "fmt"

// streamingAppender feeds chunks into a [SourceBuffer] one append at a time.
//
// Chunks are queued until the buffer exists and is idle. Every completed
// append (update-end) triggers the next handoff, so at most one append is in
// flight. A rejected handoff leaves the chunk at the head of the queue until
// the next trigger. Once the stream ended, a stalled queue no longer holds
// back playback.
type streamingAppender struct {
	hooks

	source MediaSource
	codec  string
	buffer SourceBuffer // nil until the source opened
	queue  *chunkQueue

	setupFailed bool // AddSourceBuffer was rejected; no buffer will ever exist
	stalled     bool // the last handoff was rejected and nothing is in flight

	ending bool
	finish func() // pending end-of-stream completion, nil once run
}

var _ strategy = (*streamingAppender)(nil)

func newStreamingAppender(h hooks, source MediaSource, codec string) *streamingAppender {
	a := &streamingAppender{
		hooks:  h,
		source: source,
		codec:  codec,
		queue:  newChunkQueue(),
	}
	source.OnSourceOpen(func() { a.post(a.onSourceOpen) })
	return a
}

func (a *streamingAppender) mode() Mode { return ModeStreaming }

func (a *streamingAppender) onSourceOpen() {
	if a.buffer != nil || a.source.ReadyState() != ReadyOpen {
		return
	}
	sb, err := a.source.AddSourceBuffer(a.codec)
	if err != nil {
		a.warn(WarnSourceBuffer, err)
		a.setupFailed = true
		a.maybeFinish()
		return
	}
	a.buffer = sb
	sb.OnUpdateEnd(func() { a.post(a.onUpdateEnd) })

	// Chunks may have arrived before the buffer existed.
	a.flush()
	a.maybeFinish()
}

func (a *streamingAppender) onUpdateEnd() {
	a.flush()
	a.maybeFinish()
}

func (a *streamingAppender) ingest(chunk []byte) {
	a.queue.push(chunk)
	a.flush()
}

// flush hands the oldest queued chunk to the buffer if it is ready and idle.
func (a *streamingAppender) flush() {
	if a.buffer == nil || a.buffer.Updating() {
		return
	}
	chunk, ok := a.queue.front()
	if !ok {
		return
	}
	if err := a.buffer.AppendBuffer(chunk); err != nil {
		a.warn(WarnAppend, err)
		a.stalled = true
		return
	}
	a.stalled = false
	a.queue.pop()
}

func (a *streamingAppender) end(done func()) {
	a.ending = true
	a.finish = done
	a.flush()
	a.maybeFinish()
}

// maybeFinish signals end-of-stream and starts playback once every queued
// chunk was accepted and the buffer is idle. It does not wait for chunks that
// can no longer be delivered: playback is attempted with whatever the buffer
// holds.
func (a *streamingAppender) maybeFinish() {
	if !a.ending || a.finish == nil {
		return
	}
	pending := a.queue.len() > 0
	switch {
	case a.buffer != nil && a.buffer.Updating():
		return
	case pending && a.buffer == nil && !a.setupFailed:
		// Source not open yet; onSourceOpen retries.
		return
	case pending && a.buffer != nil && !a.stalled:
		return
	}

	done := a.finish
	a.finish = nil

	if n := a.queue.len(); n > 0 {
		a.warn(WarnUndelivered, fmt.Errorf("%d chunk(s) never reached the buffer", n))
	}

	if a.source.ReadyState() == ReadyOpen {
		// The source may already have been finalised by the platform.
		if err := a.source.EndOfStream(); err != nil {
			a.warn(WarnEndOfStream, err)
		}
	}
	a.play()
	done()
}
