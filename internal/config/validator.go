package config

import (
	"fmt"
	"net"
	"os"
	"strings"
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
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
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

// Validate checks the configuration and reports every problem found.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	server := cfg.GetServer()
	app := cfg.GetApplicationData()

	validateServer(&server, result)
	validateApplicationData(&app, result)

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if ip := net.ParseIP(s.ListenAddress); ip == nil && s.ListenAddress != "" && s.ListenAddress != "localhost" {
		result.AddError("server.listen_address",
			fmt.Sprintf("not an IP address: %s", s.ListenAddress))
	}

	validatePort(s.Port, "server.port", result)

	if strings.TrimSpace(s.WWWDirectory) == "" {
		result.AddError("server.www_directory", "www directory is required")
	} else if info, err := os.Stat(s.WWWDirectory); err != nil {
		result.AddWarning("server.www_directory",
			fmt.Sprintf("directory does not exist: %s", s.WWWDirectory))
	} else if !info.IsDir() {
		result.AddError("server.www_directory",
			fmt.Sprintf("not a directory: %s", s.WWWDirectory))
	}

	if !strings.HasPrefix(s.WebSocketPath, "/") {
		result.AddError("server.websocket_path", "path must start with /")
	} else if strings.HasPrefix(s.WebSocketPath, "/api/") || s.WebSocketPath == "/metrics" {
		result.AddError("server.websocket_path",
			fmt.Sprintf("path %s collides with a built-in route", s.WebSocketPath))
	}

	if s.ReadLimitBytes < 1024 {
		result.AddError("server.read_limit_bytes", "read limit must be at least 1024 bytes")
	}

	if s.WriteTimeout < 1 {
		result.AddError("server.write_timeout_sec", "write timeout must be at least 1 second")
	}

	if s.PingInterval < 0 {
		result.AddError("server.ping_interval_sec", "ping interval cannot be negative")
	} else if s.PingInterval == 0 {
		result.AddWarning("server.ping_interval_sec",
			"keepalive disabled, dead peers are only noticed on the next failed send")
	}

	for _, o := range s.AllowedOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			result.AddWarning("server.allowed_origins",
				fmt.Sprintf("origin %q has no http(s) scheme and will never match", o))
		}
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	validateTimers(&data.Timers, result)

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
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

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	// Database
	if data.Database.Enabled {
		if strings.TrimSpace(data.Database.Path) == "" {
			result.AddError("application_data.database.path", "database path is required when enabled")
		}
		if data.Database.RetentionDays < 1 {
			result.AddError("application_data.database.retention_days",
				"retention days must be at least 1")
		}
	}

	switch strings.ToLower(data.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		result.AddWarning("application_data.logging.level",
			fmt.Sprintf("unknown log level %q, falling back to info", data.Logging.Level))
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.GeneralHealthInterval < 10 {
		result.AddWarning("timers.general_health_interval",
			"health interval less than 10s may cause excessive polling")
	}
	if timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
	if timers.RetentionInterval < 60 {
		result.AddWarning("timers.retention_interval",
			"retention interval less than 60s prunes far more often than needed")
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

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
