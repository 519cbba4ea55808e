// Package config provides the configuration schema, loader and hot-reload
// watcher shared by the streamplay client and the streamrelay server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the matching [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// PlaybackMode pins the playback strategy instead of probing the platform.
type PlaybackMode string

const (
	// ModeAuto probes the platform once and picks the best strategy.
	ModeAuto PlaybackMode = ""

	// ModeStreaming forces incremental append playback.
	ModeStreaming PlaybackMode = "streaming"

	// ModeAccumulate forces accumulate-then-play.
	ModeAccumulate PlaybackMode = "accumulate"
)

// IsValid reports whether m is a recognised playback mode.
func (m PlaybackMode) IsValid() bool {
	switch m {
	case ModeAuto, ModeStreaming, ModeAccumulate:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Player   PlayerConfig   `yaml:"player"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Relay    RelayConfig    `yaml:"relay"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the relay listens on (e.g., ":8080").
	// The client uses it for its metrics endpoint when set.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// PlayerConfig configures local playback.
type PlayerConfig struct {
	// OutputID names the output sink sessions bind to. Defaults to
	// "tts-player".
	OutputID string `yaml:"output_id"`

	// Codec is the container/codec of the incoming chunks.
	Codec string `yaml:"codec"`

	// ForceMode skips capability detection when set.
	ForceMode PlaybackMode `yaml:"force_mode"`

	// Command is the external player command line. Media is written to its
	// standard input. Empty means ffplay.
	Command []string `yaml:"command"`

	// SupportedTypes lists the MIME types the player can decode
	// incrementally. Empty means the built-in list.
	SupportedTypes []string `yaml:"supported_types"`

	// Earcon plays a short tone before each utterance.
	Earcon bool `yaml:"earcon"`
}

// UpstreamConfig describes the relay the client requests utterances from.
type UpstreamConfig struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8080/ws/utterance.
	URL string `yaml:"url"`

	// Fallbacks are relay URLs tried in order when URL cannot be reached.
	Fallbacks []string `yaml:"fallbacks"`

	// Voice selects the voice requested from the relay.
	Voice string `yaml:"voice"`

	// DialTimeout bounds the WebSocket handshake. Defaults to 10s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// RelayConfig configures the utterance relay server.
type RelayConfig struct {
	// AudioDir holds one encoded file per voice, named <voice>.webm, plus
	// default.webm.
	AudioDir string `yaml:"audio_dir"`

	// ChunkSize is the size of each binary frame in bytes. Defaults to 4096.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkInterval paces consecutive frames. Zero sends as fast as possible.
	ChunkInterval time.Duration `yaml:"chunk_interval"`
}
