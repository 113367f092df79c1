// Package config handles configuration loading, validation, and persistence
// for the Statecast relay.
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
	DefaultConfigDir     = "config"
	DefaultConfigFile    = "config.json"
	DefaultListenAddress = "0.0.0.0"
	DefaultPort          = 8080
	DefaultWebSocketPath = "/websocket"
	DefaultReadLimit     = 192 << 20
)

// Config is the root configuration structure for Statecast.
type Config struct {
	mu   sync.RWMutex
	path string

	Server          ServerConfig    `json:"server"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerConfig contains the relay listener settings.
type ServerConfig struct {
	ListenAddress  string   `json:"listen_address"`
	Port           int      `json:"port"`
	WWWDirectory   string   `json:"www_directory"`
	WebSocketPath  string   `json:"websocket_path"`
	ReadLimitBytes int64    `json:"read_limit_bytes"`
	WriteTimeout   int      `json:"write_timeout_sec"`
	PingInterval   int      `json:"ping_interval_sec"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Addr returns the host:port the relay listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.ListenAddress, s.Port)
}

// WriteTimeoutDuration returns WriteTimeout as a time.Duration.
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// PingIntervalDuration returns PingInterval as a time.Duration.
func (s ServerConfig) PingIntervalDuration() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

// ApplicationData contains ambient application configuration.
type ApplicationData struct {
	Timers   TimerConfig    `json:"timers"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
}

// TimerConfig holds health check and task interval settings.
type TimerConfig struct {
	GeneralHealthInterval int `json:"general_health_interval_sec"`
	SessionReportInterval int `json:"session_report_interval_sec"`
	HeartbeatInterval     int `json:"heartbeat_interval_sec"`
	RetentionInterval     int `json:"retention_interval_sec"`
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

// SecurityConfig holds HTTP-facing security settings.
type SecurityConfig struct {
	TLSEnabled   bool   `json:"tls_enabled"`
	TLSCertFile  string `json:"tls_cert_file"`
	TLSKeyFile   string `json:"tls_key_file"`
	RateLimitRPS int    `json:"rate_limit_rps"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DatabaseConfig holds the session history store settings.
type DatabaseConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:  DefaultListenAddress,
			Port:           DefaultPort,
			WWWDirectory:   "www",
			WebSocketPath:  DefaultWebSocketPath,
			ReadLimitBytes: DefaultReadLimit,
			WriteTimeout:   10,
			PingInterval:   30,
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				GeneralHealthInterval: 60,
				SessionReportInterval: 300,
				HeartbeatInterval:     60,
				RetentionInterval:     86400,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Port:        1883,
				TopicPrefix: "statecast",
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
			Database: DatabaseConfig{
				Enabled:       true,
				Path:          filepath.Join(DefaultConfigDir, "sessions.db"),
				RetentionDays: 30,
			},
		},
	}
}

// Load reads configuration from a JSON file in configDir, creating it with
// defaults when it does not exist.
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

	// Re-save so config.json always carries fields added since it was written.
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

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Server
	s.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return s
}

// SetServer updates the server configuration.
func (c *Config) SetServer(s ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = s
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

// ApplyOverrides replaces the www directory and port with command line
// values. Empty and zero values leave the file setting in place.
func (c *Config) ApplyOverrides(wwwDir string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wwwDir != "" {
		c.Server.WWWDirectory = wwwDir
	}
	if port != 0 {
		c.Server.Port = port
	}
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if no www directory has been configured yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.WWWDirectory == ""
}
