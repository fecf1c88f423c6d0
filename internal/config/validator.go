package config

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/micromayhem/mayhem/internal/protocol"
	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
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

	validateNetwork(&cfg.Network, result)
	validateClient(&cfg.Client, result)
	validateServices(cfg, result)

	return result
}

func validateNetwork(data *NetworkConfig, result *ValidationResult) {
	if _, err := netip.ParseAddr(data.ListenAddress); err != nil {
		result.AddError("network.listen_address", fmt.Sprintf("invalid address: %s", data.ListenAddress))
	}
	validatePort(data.ListenPort, "network.listen_port", result)

	if data.MaxRemotes < 1 || data.MaxRemotes > protocol.MaxStatePlayers {
		result.AddError("network.max_remotes",
			fmt.Sprintf("must be between 1 and %d (one state packet per tick)", protocol.MaxStatePlayers))
	}
	if data.ProtocolID < 0 || data.ProtocolID > 65535 {
		result.AddError("network.protocol_id", "must fit in 16 bits")
	} else if data.ProtocolID != DefaultProtocolID {
		result.AddWarning("network.protocol_id",
			fmt.Sprintf("protocol id %d differs from %d, stock clients will be ignored", data.ProtocolID, DefaultProtocolID))
	}

	if data.TickRate < 1 {
		result.AddError("network.tick_rate", "tick rate must be at least 1")
	} else if data.TickRate > 120 {
		result.AddWarning("network.tick_rate",
			fmt.Sprintf("high tick rate (%d) multiplies bandwidth per client", data.TickRate))
	}
	if data.TimeoutSec < 1 {
		result.AddError("network.timeout_sec", "timeout must be at least 1 second")
	}
	if data.QueueSize < 1 {
		result.AddError("network.queue_size", "queue size must be at least 1")
	} else if data.QueueSize < data.MaxRemotes*4 {
		result.AddWarning("network.queue_size", "queue smaller than four datagrams per remote will drop under load")
	}
	if data.MaxPacketsPerSec < 1 {
		result.AddWarning("network.max_packets_per_sec", "per-source rate limit is disabled")
	} else if data.MaxPacketsPerSec < data.TickRate {
		result.AddError("network.max_packets_per_sec", "rate limit below tick rate drops regular client traffic")
	}
}

func validateClient(data *ClientConfig, result *ValidationResult) {
	if strings.TrimSpace(data.ServerAddress) != "" {
		if _, _, err := net.SplitHostPort(data.ServerAddress); err != nil {
			result.AddError("client.server_address", fmt.Sprintf("expected host:port, got %q", data.ServerAddress))
		}
	}
	if len(data.PlayerName) > 32 {
		result.AddWarning("client.player_name", "names longer than 32 bytes are truncated on the wire")
	}
	if data.RetryTicks < 1 {
		result.AddError("client.retry_ticks", "retry interval must be at least 1 tick")
	}
	if data.MaxAttempts < 1 {
		result.AddError("client.max_attempts", "must allow at least 1 connect attempt")
	}
	if data.LocalPort != 0 {
		validatePort(data.LocalPort, "client.local_port", result)
	}
}

func validateServices(cfg *Config, result *ValidationResult) {
	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
		if strings.TrimSpace(cfg.API.AdminToken) == "" {
			result.AddWarning("api.admin_token", "no admin token set, anyone reaching the API can kick players")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if cfg.Database.Enabled {
		if strings.TrimSpace(cfg.Database.Path) == "" {
			result.AddError("database.path", "database path is required when enabled")
		}
		if cfg.Database.RetentionDays < 1 {
			result.AddError("database.retention_days", "retention days must be at least 1")
		}
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		result.AddError("logging.level", fmt.Sprintf("unknown log level %q", cfg.Logging.Level))
	}

	if cfg.Monitor.LongTickMs < 1 {
		result.AddError("monitor.long_tick_ms", "long tick threshold must be at least 1ms")
	}
	if cfg.Monitor.WarningThreshold >= cfg.Monitor.CriticalThreshold {
		result.AddWarning("monitor.warning_threshold", "warning threshold should be below critical threshold")
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

// IsUDPPortAvailable checks if a UDP port is free for binding.
func IsUDPPortAvailable(port int) bool {
	pc, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	pc.Close()
	return true
}
