package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RelayChanged is true if chunk size or pacing changed. New streams use
	// the new values; streams in flight keep theirs.
	RelayChanged bool
	NewRelay     RelayConfig

	// PlayerChanged is true if any player setting changed. Sessions created
	// afterwards pick it up.
	PlayerChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether d contains any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RelayChanged || d.PlayerChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Relay pacing
	if old.Relay.ChunkSize != new.Relay.ChunkSize || old.Relay.ChunkInterval != new.Relay.ChunkInterval {
		d.RelayChanged = true
		d.NewRelay = new.Relay
	}

	// Player
	op, np := old.Player, new.Player
	if op.OutputID != np.OutputID || op.Codec != np.Codec || op.ForceMode != np.ForceMode ||
		op.Earcon != np.Earcon || !slices.Equal(op.Command, np.Command) ||
		!slices.Equal(op.SupportedTypes, np.SupportedTypes) {
		d.PlayerChanged = true
	}

	// Restart-only settings
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if (old.Server.TLS == nil) != (new.Server.TLS == nil) ||
		(old.Server.TLS != nil && *old.Server.TLS != *new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Relay.AudioDir != new.Relay.AudioDir {
		d.RestartRequired = append(d.RestartRequired, "relay.audio_dir")
	}
	if !upstreamEqual(old.Upstream, new.Upstream) {
		d.RestartRequired = append(d.RestartRequired, "upstream")
	}

	return d
}

func upstreamEqual(a, b UpstreamConfig) bool {
	return a.URL == b.URL &&
		a.Voice == b.Voice &&
		a.DialTimeout == b.DialTimeout &&
		slices.Equal(a.Fallbacks, b.Fallbacks)
}
