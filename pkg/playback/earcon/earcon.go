// Package earcon plays a short confirmation tone, for example when the user
// starts or stops talking to the assistant.
package earcon

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/generators"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	// Frequency is the pitch of the tone in Hz.
	Frequency = 880.0

	// SampleRate is used to initialise the speaker.
	SampleRate = beep.SampleRate(44100)

	startGain = 0.0001
	peakGain  = 0.05
	endGain   = 0.00001

	attack   = 20 * time.Millisecond
	decayEnd = 200 * time.Millisecond

	// Duration is the total length of the tone.
	Duration = 220 * time.Millisecond
)

// Gain returns the amplitude envelope at offset t: an exponential rise from
// 0.0001 to 0.05 over the attack, an exponential fall to 0.00001 at 200ms,
// then held until the tone stops.
func Gain(t time.Duration) float64 {
	switch {
	case t <= 0:
		return startGain
	case t < attack:
		return expRamp(startGain, peakGain, float64(t)/float64(attack))
	case t < decayEnd:
		return expRamp(peakGain, endGain, float64(t-attack)/float64(decayEnd-attack))
	case t < Duration:
		return endGain
	default:
		return 0
	}
}

func expRamp(from, to, frac float64) float64 {
	return from * math.Pow(to/from, frac)
}

// Tone returns the earcon as a finite streamer at sample rate sr.
func Tone(sr beep.SampleRate) (beep.Streamer, error) {
	sine, err := generators.SineTone(sr, Frequency)
	if err != nil {
		return nil, err
	}
	return beep.Take(sr.N(Duration), &envelope{src: sine, sr: sr}), nil
}

// envelope scales its source by [Gain].
type envelope struct {
	src beep.Streamer
	sr  beep.SampleRate
	pos int
}

func (e *envelope) Stream(samples [][2]float64) (int, bool) {
	n, ok := e.src.Stream(samples)
	for i := range samples[:n] {
		g := Gain(e.sr.D(e.pos + i))
		samples[i][0] *= g
		samples[i][1] *= g
	}
	e.pos += n
	return n, ok
}

func (e *envelope) Err() error { return e.src.Err() }

var (
	initOnce sync.Once
	initErr  error
)

// Play starts the tone and returns immediately. If no audio device can be
// opened it silently does nothing; the failure is logged once at debug
// level.
func Play() {
	initOnce.Do(func() {
		initErr = speaker.Init(SampleRate, SampleRate.N(time.Second/20))
		if initErr != nil {
			slog.Debug("earcon: speaker unavailable", "err", initErr)
		}
	})
	if initErr != nil {
		return
	}
	tone, err := Tone(SampleRate)
	if err != nil {
		slog.Debug("earcon: build tone", "err", err)
		return
	}
	speaker.Play(tone)
}
