package playback

import "bytes"

// accumulator collects every chunk until the stream ends and then plays the
// concatenation once.
type accumulator struct {
	hooks
	chunks [][]byte
}

var _ strategy = (*accumulator)(nil)

func newAccumulator(h hooks) *accumulator {
	return &accumulator{hooks: h}
}

func (a *accumulator) mode() Mode { return ModeAccumulate }

func (a *accumulator) ingest(chunk []byte) {
	a.chunks = append(a.chunks, chunk)
}

func (a *accumulator) end(done func()) {
	defer done()

	if len(a.chunks) == 0 {
		return
	}
	payload := Concat(a.chunks)
	a.chunks = nil

	if !a.bind(Blob{Data: payload, Type: PayloadType}) {
		return
	}
	a.play()
}

// Concat joins chunks byte for byte in order. The result never aliases any
// input chunk.
func Concat(chunks [][]byte) []byte {
	return bytes.Join(chunks, nil)
}
