package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/streamplay/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Player: config.PlayerConfig{OutputID: "tts-player", Command: []string{"ffplay", "-"}},
		Upstream: config.UpstreamConfig{
			URL:   "ws://localhost:8080/ws/utterance",
			Voice: "default",
		},
		Relay: config.RelayConfig{AudioDir: "voices", ChunkSize: 4096},
	}
}

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("diff of identical configs = %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Server.LogLevel = config.LogDebug

	d := config.Diff(baseConfig(), newCfg)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if d.RelayChanged || d.PlayerChanged {
		t.Errorf("unexpected changes: %+v", d)
	}
}

func TestDiff_Relay(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Relay.ChunkInterval = 10 * time.Millisecond

	d := config.Diff(baseConfig(), newCfg)
	if !d.RelayChanged {
		t.Fatal("RelayChanged = false")
	}
	if d.NewRelay.ChunkInterval != 10*time.Millisecond {
		t.Errorf("NewRelay = %+v", d.NewRelay)
	}
}

func TestDiff_PlayerCommand(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Player.Command = []string{"mpv", "-"}

	if d := config.Diff(baseConfig(), newCfg); !d.PlayerChanged {
		t.Errorf("PlayerChanged = false for new command")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Server.ListenAddr = ":9090"
	newCfg.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}
	newCfg.Relay.AudioDir = "other"
	newCfg.Upstream.Voice = "narrator"

	d := config.Diff(baseConfig(), newCfg)
	want := []string{"server.listen_addr", "server.tls", "relay.audio_dir", "upstream"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if !d.Changed() {
		t.Error("Changed() = false")
	}
}

func TestDiff_UpstreamFallbacks(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Upstream.Fallbacks = []string{"ws://backup"}

	d := config.Diff(baseConfig(), newCfg)
	if !slices.Equal(d.RestartRequired, []string{"upstream"}) {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
}
