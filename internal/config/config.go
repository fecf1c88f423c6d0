// Package config handles configuration loading, validation, and persistence
// for the Micro Mayhem server and client.
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
	DefaultListenPort = 30000
	DefaultProtocolID = 8106
	DefaultAPIPort    = 5000
	DefaultTickRate   = 60
	DefaultMaxRemotes = 8
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Network  NetworkConfig  `json:"network"`
	Client   ClientConfig   `json:"client"`
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`
	Monitor  MonitorConfig  `json:"monitor"`
}

// NetworkConfig holds the game socket and tick settings.
type NetworkConfig struct {
	ListenAddress    string `json:"listen_address"`
	ListenPort       int    `json:"listen_port"`
	MaxRemotes       int    `json:"max_remotes"`
	ProtocolID       int    `json:"protocol_id"`
	TickRate         int    `json:"tick_rate"`
	TimeoutSec       int    `json:"timeout_sec"`
	QueueSize        int    `json:"queue_size"`
	MaxPacketsPerSec int    `json:"max_packets_per_sec"`
}

// ClientConfig holds the settings of `mayhem client`.
type ClientConfig struct {
	ServerAddress string `json:"server_address"`
	PlayerName    string `json:"player_name"`
	RetryTicks    int    `json:"retry_ticks"`
	MaxAttempts   int    `json:"max_attempts"`
	LocalPort     int    `json:"local_port"`
}

// APIConfig holds the status API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	// AdminToken guards the control and configure routes. Empty disables
	// the check (local mode).
	AdminToken string `json:"admin_token"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	Topic     string `json:"topic"`
}

// DatabaseConfig holds the session history settings.
type DatabaseConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	PruneInterval int    `json:"prune_interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// MonitorConfig holds the tick monitor thresholds.
type MonitorConfig struct {
	LongTickMs        int `json:"long_tick_ms"`
	WarningThreshold  int `json:"warning_threshold"`
	CriticalThreshold int `json:"critical_threshold"`
	HistorySize       int `json:"history_size"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			ListenAddress:    "0.0.0.0",
			ListenPort:       DefaultListenPort,
			MaxRemotes:       DefaultMaxRemotes,
			ProtocolID:       DefaultProtocolID,
			TickRate:         DefaultTickRate,
			TimeoutSec:       5,
			QueueSize:        1024,
			MaxPacketsPerSec: 240,
		},
		Client: ClientConfig{
			ServerAddress: fmt.Sprintf("127.0.0.1:%d", DefaultListenPort),
			RetryTicks:    30,
			MaxAttempts:   10,
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 100,
		},
		MQTT: MQTTConfig{
			Enabled:   false,
			BrokerURL: "localhost",
			Port:      1883,
			ClientID:  "mayhem-server",
			Topic:     "mayhem",
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          filepath.Join(DefaultConfigDir, "sessions.db"),
			RetentionDays: 30,
			PruneInterval: 3600,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Monitor: MonitorConfig{
			LongTickMs:        25,
			WarningThreshold:  20,
			CriticalThreshold: 100,
			HistorySize:       500,
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

	// Re-save so config.json picks up options added since it was written.
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

// GetNetwork returns a copy of the network configuration.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// SetNetwork replaces the network configuration.
func (c *Config) SetNetwork(data NetworkConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Network = data
}

// GetClient returns a copy of the client configuration.
func (c *Config) GetClient() ClientConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Client
}

// SetClient updates the client configuration.
func (c *Config) SetClient(data ClientConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Client = data
}

func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

func (c *Config) GetMonitor() MonitorConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Monitor
}

// UpdateNetworkField updates a single network field by its JSON key.
func (c *Config) UpdateNetworkField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Network)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown network field %q", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, &c.Network); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath sets where Save writes.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// ListenAddr returns the UDP address the server binds.
func (n NetworkConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", n.ListenAddress, n.ListenPort)
}

// TickInterval returns the duration of one simulation tick.
func (n NetworkConfig) TickInterval() time.Duration {
	if n.TickRate <= 0 {
		return time.Second / DefaultTickRate
	}
	return time.Second / time.Duration(n.TickRate)
}

// Timeout returns how long a remote may stay silent.
func (n NetworkConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSec) * time.Second
}

// NeedsSetup returns true if the client has no player name yet.
func (c *Config) NeedsSetup() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Client.PlayerName == ""
}
