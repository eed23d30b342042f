package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad tests the Load function with various scenarios
func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with no env vars",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, "sqlite", cfg.Database.Driver)
				assert.Equal(t, "fs", cfg.Keys.Backend)
				assert.Equal(t, "v1", cfg.Keys.Version)
				assert.Equal(t, time.Hour, cfg.License.CacheTTL)
				assert.Equal(t, 30*24*time.Hour, cfg.License.RenewalWindowBefore)
				assert.Equal(t, 7*24*time.Hour, cfg.License.RenewalWindowAfter)
				assert.Equal(t, 3, cfg.Hardware.MaxAttempts)
				assert.Equal(t, 0.7, cfg.Hardware.SimilarityThreshold)
				assert.Equal(t, 10*time.Second, cfg.Domain.VerificationTimeout)
				assert.Contains(t, cfg.Domain.LocalSuffixes, ".test")
				assert.Equal(t, "json", cfg.Logging.Format)
			},
		},
		{
			name: "environment overrides defaults",
			env: map[string]string{
				"LICENSED_SERVER_PORT":              "9090",
				"LICENSED_DATABASE_DRIVER":          "postgres",
				"LICENSED_DATABASE_DSN":             "postgres://localhost/licensed",
				"LICENSED_HARDWARE_MAX_ATTEMPTS":    "5",
				"LICENSED_LICENSE_CACHE_TTL":        "10m",
				"LICENSED_SECURITY_ALLOWED_ORIGINS": "https://a.example.com,https://b.example.com",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, "postgres", cfg.Database.Driver)
				assert.Equal(t, "postgres://localhost/licensed", cfg.Database.DSN)
				assert.Equal(t, 5, cfg.Hardware.MaxAttempts)
				assert.Equal(t, 10*time.Minute, cfg.License.CacheTTL)
				assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Security.AllowedOrigins)
			},
		},
		{
			name: "file overlays defaults and env wins over file",
			file: `
server:
  port: 7070
  read_timeout: 5s
keys:
  backend: memory
license:
  max_failed_checks: 6
`,
			env: map[string]string{
				"LICENSED_SERVER_PORT": "6060",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 6060, cfg.Server.Port)
				assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, "memory", cfg.Keys.Backend)
				assert.Equal(t, 6, cfg.License.MaxFailedChecks)
				assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
			},
		},
		{
			name:    "invalid driver",
			env:     map[string]string{"LICENSED_DATABASE_DRIVER": "oracle"},
			wantErr: true,
		},
		{
			name:    "redis key backend without redis",
			env:     map[string]string{"LICENSED_KEYS_BACKEND": "redis"},
			wantErr: true,
		},
		{
			name:    "malformed env value",
			env:     map[string]string{"LICENSED_SERVER_PORT": "not-a-number"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LICENSED_CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.file != "" {
				path := filepath.Join(t.TempDir(), "licensed.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))
				t.Setenv("LICENSED_CONFIG_FILE", path)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

// TestValidate tests configuration validation rules
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default is valid", mutate: func(*Config) {}},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
		{name: "empty dsn", mutate: func(c *Config) { c.Database.DSN = "" }, wantErr: "dsn is required"},
		{name: "fs backend without root", mutate: func(c *Config) { c.Keys.Root = "" }, wantErr: "keys root"},
		{name: "key version with separator", mutate: func(c *Config) { c.Keys.Version = "v1.2" }, wantErr: "keys version"},
		{name: "threshold above one", mutate: func(c *Config) { c.Hardware.SimilarityThreshold = 1.5 }, wantErr: "similarity threshold"},
		{name: "redis enabled without url", mutate: func(c *Config) { c.Redis.Enabled = true; c.Redis.URL = "" }, wantErr: "redis url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
