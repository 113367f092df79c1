package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.Path())
	assert.Equal(t, DefaultPort, cfg.GetServer().Port)
	assert.FileExists(t, cfg.Path())
}

func TestLoad_OverlaysDefaultsAndResaves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":9001}}`), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	server := cfg.GetServer()
	assert.Equal(t, 9001, server.Port)
	assert.Equal(t, DefaultWebSocketPath, server.WebSocketPath)
	assert.Equal(t, 30, cfg.GetApplicationData().Database.RetentionDays)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var saved map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Contains(t, saved["server"], "websocket_path")
}

func TestLoad_RejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()

	cfg.ApplyOverrides("", 0)
	assert.Equal(t, "www", cfg.GetServer().WWWDirectory)
	assert.Equal(t, DefaultPort, cfg.GetServer().Port)

	cfg.ApplyOverrides("/srv/emu", 9090)
	assert.Equal(t, "/srv/emu", cfg.GetServer().WWWDirectory)
	assert.Equal(t, "0.0.0.0:9090", cfg.GetServer().Addr())
}

func TestGetServer_ReturnsCopy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.AllowedOrigins = []string{"https://a.example"}

	s := cfg.GetServer()
	s.AllowedOrigins[0] = "mutated"

	assert.Equal(t, "https://a.example", cfg.GetServer().AllowedOrigins[0])
}

func TestValidate(t *testing.T) {
	www := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		field   string
		isError bool
	}{
		{"valid", func(c *Config) {}, "", false},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port", true},
		{"missing www", func(c *Config) { c.Server.WWWDirectory = "" }, "server.www_directory", true},
		{"nonexistent www", func(c *Config) { c.Server.WWWDirectory = filepath.Join(www, "nope") }, "server.www_directory", false},
		{"relative ws path", func(c *Config) { c.Server.WebSocketPath = "websocket" }, "server.websocket_path", true},
		{"ws path collides", func(c *Config) { c.Server.WebSocketPath = "/api/ws" }, "server.websocket_path", true},
		{"tiny read limit", func(c *Config) { c.Server.ReadLimitBytes = 10 }, "server.read_limit_bytes", true},
		{"bad listen address", func(c *Config) { c.Server.ListenAddress = "not-an-ip" }, "server.listen_address", true},
		{"keepalive off", func(c *Config) { c.Server.PingInterval = 0 }, "server.ping_interval_sec", false},
		{"mqtt without broker", func(c *Config) { c.ApplicationData.MQTT.Enabled = true }, "application_data.mqtt.broker_url", true},
		{"tls without cert", func(c *Config) { c.ApplicationData.Security.TLSEnabled = true }, "application_data.security.tls_cert_file", true},
		{"zero retention", func(c *Config) { c.ApplicationData.Database.RetentionDays = 0 }, "application_data.database.retention_days", true},
		{"unknown log level", func(c *Config) { c.ApplicationData.Logging.Level = "loud" }, "application_data.logging.level", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Server.WWWDirectory = www
			tt.mutate(cfg)

			result := Validate(cfg)
			if tt.field == "" {
				assert.True(t, result.IsValid(), "errors: %v", result.Errors)
				return
			}

			list := result.Warnings
			if tt.isError {
				list = result.Errors
				assert.False(t, result.IsValid())
			}
			var fields []string
			for _, e := range list {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestRunSetupWizard(t *testing.T) {
	dir := t.TempDir()
	www := t.TempDir()

	cfg := DefaultConfig()
	cfg.path = filepath.Join(dir, DefaultConfigFile)

	answers := strings.Join([]string{
		"127.0.0.1", // listen address
		"9002",      // port
		www,         // www directory
		"",          // websocket path
		"yes",       // session history
		"7",         // retention days
		"no",        // mqtt
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, RunSetupWizard(cfg, strings.NewReader(answers), &out))

	server := cfg.GetServer()
	assert.Equal(t, "127.0.0.1:9002", server.Addr())
	assert.Equal(t, www, server.WWWDirectory)
	assert.Equal(t, DefaultWebSocketPath, server.WebSocketPath)
	assert.Equal(t, 7, cfg.GetApplicationData().Database.RetentionDays)
	assert.FileExists(t, cfg.Path())
	assert.Contains(t, out.String(), "Configuration saved")
}

func TestRunSetupWizard_GivesUpOnInvalidInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	answers := "\n70000\n\n\n\n\n\nno\n"

	var out bytes.Buffer
	err := RunSetupWizard(cfg, strings.NewReader(answers), &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "server.port")
}
