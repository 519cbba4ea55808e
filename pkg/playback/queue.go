package playback

import list "github.com/bahlo/generic-list-go"

// chunkQueue holds chunks that have arrived but have not been accepted by the
// source buffer yet. It is only touched from the session event loop.
type chunkQueue struct {
	l *list.List[[]byte]
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{l: list.New[[]byte]()}
}

// push appends chunk at the back.
func (q *chunkQueue) push(chunk []byte) {
	q.l.PushBack(chunk)
}

// front returns the oldest chunk without removing it.
func (q *chunkQueue) front() ([]byte, bool) {
	e := q.l.Front()
	if e == nil {
		return nil, false
	}
	return e.Value, true
}

// pop removes the oldest chunk. Call it only after the chunk returned by
// front was handed off successfully.
func (q *chunkQueue) pop() {
	if e := q.l.Front(); e != nil {
		q.l.Remove(e)
	}
}

func (q *chunkQueue) len() int {
	return q.l.Len()
}
