// Package config handles configuration loading, validation, and persistence
// for the wormnet game server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 23400
	DefaultAPIPort    = 5000
)

// Config is the root configuration structure for wormnet.
type Config struct {
	mu   sync.RWMutex
	path string

	ServerData      ServerData      `json:"server_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerData contains game server settings.
type ServerData struct {
	Name          string `json:"svr_name"`
	ListenAddress string `json:"svr_listen_address"`
	GamePort      int    `json:"svr_game_port"`
	APIPort       int    `json:"svr_api_port"`

	MaxConnections int  `json:"svr_max_connections"`
	HostLocal      bool `json:"svr_host_local_client"`

	TickIntervalMs      int `json:"tick_interval_ms"`
	PingIntervalMs      int `json:"ping_interval_ms"`
	ChallengeTimeoutSec int `json:"challenge_timeout_sec"`
	IdleTimeoutSec      int `json:"idle_timeout_sec"`

	Channel ChannelConfig `json:"channel"`
}

// ChannelConfig holds reliable-channel timings.
type ChannelConfig struct {
	ReliableTimeoutSec int `json:"reliable_timeout_sec"`
	MinRTOMs           int `json:"min_rto_ms"`
	MaxRTOMs           int `json:"max_rto_ms"`
	KeepAliveMs        int `json:"keepalive_ms"`
	CompressionLevel   int `json:"compression_level"`
}

// ApplicationData contains settings for the surfaces around the server.
type ApplicationData struct {
	Timers   TimerConfig    `json:"timers"`
	Database DatabaseConfig `json:"database"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	ReaperInterval    int `json:"reaper_interval_sec"`
	HeartbeatInterval int `json:"heartbeat_interval_sec"`
	SessionRetention  int `json:"session_retention_days"`
}

// DatabaseConfig holds the session journal location.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// SecurityConfig holds admin API settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	APIToken       string   `json:"api_token"`
	AuthDisabled   bool     `json:"auth_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerData: ServerData{
			Name:                "wormnet",
			ListenAddress:       "0.0.0.0",
			GamePort:            DefaultGamePort,
			APIPort:             DefaultAPIPort,
			MaxConnections:      8,
			TickIntervalMs:      20,
			PingIntervalMs:      2000,
			ChallengeTimeoutSec: 10,
			IdleTimeoutSec:      20,
			Channel: ChannelConfig{
				ReliableTimeoutSec: 15,
				MinRTOMs:           100,
				MaxRTOMs:           1000,
				KeepAliveMs:        1000,
				CompressionLevel:   5,
			},
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				ReaperInterval:    5,
				HeartbeatInterval: 60,
				SessionRetention:  30,
			},
			Database: DatabaseConfig{
				Path: filepath.Join("data", "wormnet.db"),
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				BrokerURL:   "localhost",
				Port:        1883,
				TopicPrefix: "wormnet",
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
				AuthDisabled: true,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json lists options added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServerData returns a copy of the game server configuration.
func (c *Config) GetServerData() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerData
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateServerField updates a specific field in server data by its JSON key.
func (c *Config) UpdateServerField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.ServerData)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, &c.ServerData); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Durations converted from the JSON integer fields.

func (d ServerData) TickInterval() time.Duration {
	return time.Duration(d.TickIntervalMs) * time.Millisecond
}

func (d ServerData) PingInterval() time.Duration {
	return time.Duration(d.PingIntervalMs) * time.Millisecond
}

func (d ServerData) ChallengeTimeout() time.Duration {
	return time.Duration(d.ChallengeTimeoutSec) * time.Second
}

func (d ServerData) IdleTimeout() time.Duration {
	return time.Duration(d.IdleTimeoutSec) * time.Second
}

func (t TimerConfig) Reaper() time.Duration {
	return time.Duration(t.ReaperInterval) * time.Second
}

func (t TimerConfig) Heartbeat() time.Duration {
	return time.Duration(t.HeartbeatInterval) * time.Second
}
