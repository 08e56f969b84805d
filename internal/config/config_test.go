package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() returned an unexpected error: %v", err)
	}
	if cfg.Path() != filepath.Join(dir, DefaultConfigFile) {
		t.Errorf("Path() = %q", cfg.Path())
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig().ServerData, cfg.GetServerData()); diff != "" {
		t.Errorf("server data (-want +got):\n%s", diff)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := `{"server_data": {"svr_name": "Worm Arena", "svr_max_connections": 4}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() returned an unexpected error: %v", err)
	}
	data := cfg.GetServerData()
	if data.Name != "Worm Arena" || data.MaxConnections != 4 {
		t.Errorf("overlay not applied: %+v", data)
	}
	if data.GamePort != DefaultGamePort {
		t.Errorf("GamePort = %d, want default %d", data.GamePort, DefaultGamePort)
	}

	// The re-saved file carries the defaults that were missing.
	raw, err := os.ReadFile(cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	var saved Config
	if err := json.Unmarshal(raw, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.ApplicationData.Timers.ReaperInterval != 5 {
		t.Errorf("re-saved reaper interval = %d, want 5", saved.ApplicationData.Timers.ReaperInterval)
	}
}

func TestLoad_BadJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("Load() accepted malformed JSON")
	}
}

func TestUpdateServerField(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.UpdateServerField("svr_max_connections", 12); err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetServerData().MaxConnections; got != 12 {
		t.Errorf("MaxConnections = %d, want 12", got)
	}
	if err := cfg.UpdateServerField("svr_game_port", "not a port"); err == nil {
		t.Error("UpdateServerField() accepted a string for an int field")
	}
}

func TestDurations(t *testing.T) {
	d := DefaultConfig().ServerData
	if d.TickInterval() != 20*time.Millisecond || d.PingInterval() != 2*time.Second {
		t.Errorf("TickInterval() = %v, PingInterval() = %v", d.TickInterval(), d.PingInterval())
	}
	if d.IdleTimeout() != 20*time.Second || d.ChallengeTimeout() != 10*time.Second {
		t.Errorf("IdleTimeout() = %v, ChallengeTimeout() = %v", d.IdleTimeout(), d.ChallengeTimeout())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		fields []string
	}{
		{
			name:   "defaults",
			modify: func(*Config) {},
		},
		{
			name:   "port conflict",
			modify: func(c *Config) { c.ServerData.APIPort = c.ServerData.GamePort },
			fields: []string{"server_data.ports"},
		},
		{
			name:   "too many connections",
			modify: func(c *Config) { c.ServerData.MaxConnections = 33 },
			fields: []string{"server_data.svr_max_connections"},
		},
		{
			name: "bad rto bounds",
			modify: func(c *Config) {
				c.ServerData.Channel.MinRTOMs = 500
				c.ServerData.Channel.MaxRTOMs = 100
			},
			fields: []string{"server_data.channel.rto"},
		},
		{
			name:   "compression level",
			modify: func(c *Config) { c.ServerData.Channel.CompressionLevel = 12 },
			fields: []string{"server_data.channel.compression_level"},
		},
		{
			name:   "auth without token",
			modify: func(c *Config) { c.ApplicationData.Security.AuthDisabled = false },
			fields: []string{"application_data.security.api_token"},
		},
		{
			name: "mqtt without broker",
			modify: func(c *Config) {
				c.ApplicationData.MQTT.Enabled = true
				c.ApplicationData.MQTT.BrokerURL = ""
			},
			fields: []string{"application_data.mqtt.broker_url"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			result := Validate(cfg)

			var fields []string
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			if diff := cmp.Diff(tt.fields, fields); diff != "" {
				t.Errorf("error fields (-want +got):\n%s", diff)
			}
			if result.IsValid() != (len(tt.fields) == 0) {
				t.Errorf("IsValid() = %v", result.IsValid())
			}
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplicationData.Logging.Level = "chatty"
	cfg.ServerData.GamePort = 80

	result := Validate(cfg)
	if !result.IsValid() {
		t.Fatalf("warnings reported as errors: %v", result.Errors)
	}
	var fields []string
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	want := []string{"server_data.svr_game_port", "application_data.logging.level"}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("warning fields (-want +got):\n%s", diff)
	}
}
