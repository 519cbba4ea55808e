package observe

import (
	"context"
	"log/slog"

	"github.com/MrWong99/streamplay/pkg/playback"
)

// Diagnostics is a [playback.Diagnostics] that counts every warning in
// [Metrics.PlaybackWarnings] and logs it.
type Diagnostics struct {
	metrics *Metrics
	log     playback.LogDiagnostics
}

var _ playback.Diagnostics = (*Diagnostics)(nil)

// NewDiagnostics returns a diagnostics sink recording into m. A nil logger
// uses [slog.Default].
func NewDiagnostics(m *Metrics, logger *slog.Logger) *Diagnostics {
	return &Diagnostics{metrics: m, log: playback.LogDiagnostics{Logger: logger}}
}

// Warn implements [playback.Diagnostics].
func (d *Diagnostics) Warn(w playback.Warning) {
	if d.metrics != nil {
		d.metrics.RecordWarning(context.Background(), string(w.Kind))
	}
	d.log.Warn(w)
}
