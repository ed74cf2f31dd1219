package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "notebooklm-mcp", cfg.Server.Name)
	assert.Equal(t, "notebooklm-mcp.log", cfg.Server.LogFile)

	assert.Equal(t, "https://notebooklm.google.com", cfg.Browser.BaseURL)
	assert.Equal(t, "browser-profile", cfg.Browser.ProfileDir)
	assert.Equal(t, "30s", cfg.Browser.DefaultNavigationTimeout)
	assert.Equal(t, 1440, cfg.Browser.ViewportWidth)
	assert.Equal(t, 900, cfg.Browser.ViewportHeight)

	assert.Equal(t, "auth.json", cfg.Auth.ArtifactPath)
	assert.Equal(t, "168h", cfg.Auth.MaxAge)
	assert.Equal(t, "300s", cfg.Auth.LoginTimeout)

	assert.Equal(t, 2, cfg.Queue.ReadLaneSize)
	assert.Equal(t, "90s", cfg.Queue.WriteTimeout)
	assert.Equal(t, "30s", cfg.Queue.ReadTimeout)
	assert.Equal(t, 64, cfg.Queue.MaxPending)

	assert.Equal(t, "2s", cfg.Jobs.PollInitialBackoff)
	assert.Equal(t, "30s", cfg.Jobs.PollMaxBackoff)
	assert.Equal(t, "30m", cfg.Jobs.Retention)

	assert.Equal(t, 0, cfg.MCP.SSEPort)
	assert.True(t, cfg.Recorder.Enabled)
	assert.False(t, cfg.RPC.Enable)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Equal(t, "config path is required", err.Error())
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  name: "test-server"
  version: "1.0.0"
  log_file: "test.log"

browser:
  base_url: "https://notebooklm.google.com"
  headless: false
  default_navigation_timeout: "20s"
  viewport_width: 1280
  viewport_height: 720

auth:
  artifact_path: "/tmp/auth.json"
  max_age: "24h"

queue:
  read_lane_size: 4
  write_timeout: "60s"
  max_pending: 16

jobs:
  poll_initial_backoff: "1s"
  poll_max_backoff: "10s"

rpc:
  enable: true
  fact_buffer_limit: 512
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "test-server", cfg.Server.Name)
	assert.Equal(t, "1.0.0", cfg.Server.Version)
	assert.False(t, cfg.Browser.IsHeadless())
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Equal(t, "/tmp/auth.json", cfg.Auth.ArtifactPath)
	assert.Equal(t, 24*time.Hour, cfg.Auth.ArtifactMaxAge())
	assert.Equal(t, 4, cfg.Queue.LaneSize())
	assert.Equal(t, 16, cfg.Queue.Backlog())
	assert.Equal(t, time.Second, cfg.Jobs.InitialBackoff())
	assert.True(t, cfg.RPC.Enable)
	assert.Equal(t, 512, cfg.RPC.FactBufferLimit)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0o644))

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "defaults pass",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "empty server name",
			mutate:  func(c *Config) { c.Server.Name = "" },
			wantErr: "server.name is required",
		},
		{
			name:    "empty base url",
			mutate:  func(c *Config) { c.Browser.BaseURL = "" },
			wantErr: "browser.base_url is required",
		},
		{
			name:    "empty artifact path",
			mutate:  func(c *Config) { c.Auth.ArtifactPath = "" },
			wantErr: "auth.artifact_path is required",
		},
		{
			name:    "negative read lane",
			mutate:  func(c *Config) { c.Queue.ReadLaneSize = -1 },
			wantErr: "queue.read_lane_size cannot be negative",
		},
		{
			name:    "zero backlog",
			mutate:  func(c *Config) { c.Queue.MaxPending = 0 },
			wantErr: "queue.max_pending must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback time.Duration
		expected time.Duration
	}{
		{"empty string", "", 15 * time.Second, 15 * time.Second},
		{"valid duration", "20s", 15 * time.Second, 20 * time.Second},
		{"invalid duration", "not-a-duration", 15 * time.Second, 15 * time.Second},
		{"milliseconds", "500ms", time.Second, 500 * time.Millisecond},
		{"hours", "168h", time.Hour, 168 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseDuration(tt.raw, tt.fallback))
		})
	}
}

func TestBrowserHelpers(t *testing.T) {
	t.Run("nil headless defaults to true", func(t *testing.T) {
		cfg := BrowserConfig{}
		assert.True(t, cfg.IsHeadless())
	})

	t.Run("explicit false", func(t *testing.T) {
		val := false
		cfg := BrowserConfig{Headless: &val}
		assert.False(t, cfg.IsHeadless())
	})

	t.Run("viewport defaults", func(t *testing.T) {
		cfg := BrowserConfig{ViewportWidth: -100, ViewportHeight: 0}
		assert.Equal(t, 1440, cfg.GetViewportWidth())
		assert.Equal(t, 900, cfg.GetViewportHeight())
	})

	t.Run("wait timeout default", func(t *testing.T) {
		cfg := BrowserConfig{}
		assert.Equal(t, 15*time.Second, cfg.WaitTimeout())
	})
}

func TestQueueHelpers(t *testing.T) {
	cfg := QueueConfig{}
	assert.Equal(t, 2, cfg.LaneSize())
	assert.Equal(t, 90*time.Second, cfg.WriteDeadline())
	assert.Equal(t, 30*time.Second, cfg.ReadDeadline())
	assert.Equal(t, 64, cfg.Backlog())
}

func TestJobsHelpers(t *testing.T) {
	cfg := JobsConfig{}
	assert.Equal(t, 2*time.Second, cfg.InitialBackoff())
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff())
	assert.Equal(t, 2*time.Minute, cfg.AwaitDefault())
	assert.Equal(t, 30*time.Minute, cfg.RetentionWindow())
	assert.Equal(t, 5*time.Minute, cfg.GCInterval())
}

func TestResolveHomePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.ArtifactPath = "auth.json"
	cfg.Server.LogFile = "/var/log/nlm.log"

	resolved := resolveHomePaths(cfg, "/home/user/.notebooklm-mcp")

	assert.Equal(t, filepath.Join("/home/user/.notebooklm-mcp", "auth.json"), resolved.Auth.ArtifactPath)
	// Absolute paths are left alone.
	assert.Equal(t, "/var/log/nlm.log", resolved.Server.LogFile)
	assert.Equal(t, filepath.Join("/home/user/.notebooklm-mcp", "browser-profile"), resolved.Browser.ProfileDir)
}
