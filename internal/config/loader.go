package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDialTimeout is used when upstream.dial_timeout is unset.
	DefaultDialTimeout = 10 * time.Second

	// DefaultChunkSize is used when relay.chunk_size is unset.
	DefaultChunkSize = 4096
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Player.OutputID == "" {
		cfg.Player.OutputID = "tts-player"
	}
	if cfg.Player.Codec == "" {
		cfg.Player.Codec = `audio/webm; codecs="opus"`
	}
	if cfg.Upstream.Voice == "" {
		cfg.Upstream.Voice = "default"
	}
	if cfg.Upstream.DialTimeout == 0 {
		cfg.Upstream.DialTimeout = DefaultDialTimeout
	}
	if cfg.Relay.ChunkSize == 0 {
		cfg.Relay.ChunkSize = DefaultChunkSize
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Player
	if !cfg.Player.ForceMode.IsValid() {
		errs = append(errs, fmt.Errorf("player.force_mode %q is invalid; valid values: streaming, accumulate or empty", cfg.Player.ForceMode))
	}
	if cmd := cfg.Player.Command; len(cmd) > 0 && cmd[0] == "" {
		errs = append(errs, errors.New("player.command[0] must name an executable"))
	}

	// Upstream
	if cfg.Upstream.URL != "" {
		if err := validateWSURL(cfg.Upstream.URL); err != nil {
			errs = append(errs, fmt.Errorf("upstream.url: %w", err))
		}
	}
	for i, u := range cfg.Upstream.Fallbacks {
		if err := validateWSURL(u); err != nil {
			errs = append(errs, fmt.Errorf("upstream.fallbacks[%d]: %w", i, err))
		}
	}
	if cfg.Upstream.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("upstream.dial_timeout %s must not be negative", cfg.Upstream.DialTimeout))
	}

	// Relay
	if cfg.Relay.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("relay.chunk_size %d must be positive", cfg.Relay.ChunkSize))
	}
	if cfg.Relay.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("relay.chunk_interval %s must not be negative", cfg.Relay.ChunkInterval))
	}

	return errors.Join(errs...)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme %q is invalid; valid values: ws, wss", u.Scheme)
	}
	return nil
}
