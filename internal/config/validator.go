package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wormnet-project/wormnet/internal/worm"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServerData(&cfg.ServerData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateServerData(data *ServerData, result *ValidationResult) {
	if strings.TrimSpace(data.Name) == "" {
		result.AddError("server_data.svr_name", "server name is required")
	}
	if strings.ContainsAny(data.Name, "\x00") {
		result.AddError("server_data.svr_name", "server name must not contain NUL bytes")
	}
	if data.ListenAddress != "" && net.ParseIP(data.ListenAddress) == nil {
		result.AddError("server_data.svr_listen_address",
			fmt.Sprintf("not an IP address: %s", data.ListenAddress))
	}

	validatePort(data.GamePort, "server_data.svr_game_port", result)
	validatePort(data.APIPort, "server_data.svr_api_port", result)
	if data.GamePort == data.APIPort {
		result.AddError("server_data.ports", "port conflict detected: game and api ports must differ")
	}

	if data.MaxConnections < 1 {
		result.AddError("server_data.svr_max_connections", "must allow at least 1 connection")
	}
	if data.MaxConnections > worm.MaxPlayers {
		result.AddError("server_data.svr_max_connections",
			fmt.Sprintf("at most %d connections are supported", worm.MaxPlayers))
	}

	if data.TickIntervalMs < 1 {
		result.AddError("server_data.tick_interval_ms", "tick interval must be positive")
	} else if data.TickIntervalMs > 100 {
		result.AddWarning("server_data.tick_interval_ms",
			fmt.Sprintf("tick interval of %dms adds noticeable latency", data.TickIntervalMs))
	}
	if data.PingIntervalMs < 1 {
		result.AddError("server_data.ping_interval_ms", "ping interval must be positive")
	}
	if data.ChallengeTimeoutSec < 1 {
		result.AddError("server_data.challenge_timeout_sec", "challenge timeout must be positive")
	}
	if data.IdleTimeoutSec < 1 {
		result.AddError("server_data.idle_timeout_sec", "idle timeout must be positive")
	} else if data.IdleTimeoutSec*1000 < 2*data.PingIntervalMs {
		result.AddWarning("server_data.idle_timeout_sec",
			"idle timeout shorter than two ping intervals will drop quiet clients")
	}

	validateChannel(&data.Channel, result)
}

func validateChannel(ch *ChannelConfig, result *ValidationResult) {
	if ch.ReliableTimeoutSec < 1 {
		result.AddError("server_data.channel.reliable_timeout_sec", "reliable timeout must be positive")
	}
	if ch.MinRTOMs < 1 || ch.MaxRTOMs < ch.MinRTOMs {
		result.AddError("server_data.channel.rto",
			fmt.Sprintf("invalid retransmit bounds %d..%dms", ch.MinRTOMs, ch.MaxRTOMs))
	}
	if ch.KeepAliveMs < 1 {
		result.AddError("server_data.channel.keepalive_ms", "keepalive interval must be positive")
	}
	// flate accepts -2 (Huffman only) through 9.
	if ch.CompressionLevel < -2 || ch.CompressionLevel > 9 {
		result.AddError("server_data.channel.compression_level",
			fmt.Sprintf("compression level %d out of range -2..9", ch.CompressionLevel))
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	validateTimers(&data.Timers, result)

	if strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required")
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		if data.MQTT.UseTLS && (data.MQTT.CertFile == "") != (data.MQTT.KeyFile == "") {
			result.AddError("application_data.mqtt.cert_file", "client certificate and key must be set together")
		}
	}

	// Security
	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}
	if !data.Security.AuthDisabled && strings.TrimSpace(data.Security.APIToken) == "" {
		result.AddError("application_data.security.api_token", "API token is required when auth is enabled")
	}
	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	if _, err := zerolog.ParseLevel(data.Logging.Level); err != nil {
		result.AddWarning("application_data.logging.level",
			fmt.Sprintf("unknown log level %q, falling back to info", data.Logging.Level))
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.ReaperInterval < 1 {
		result.AddWarning("timers.reaper_interval",
			"idle connection reaper is disabled")
	}
	if timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a UDP port is available for binding.
func IsPortAvailable(port int) bool {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
