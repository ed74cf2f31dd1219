package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// HomeDirName is the per-user directory holding the auth artifact, browser
	// profile, and optional config overrides.
	HomeDirName = ".notebooklm-mcp"
	// HomeConfigFile is the config file name inside the home directory.
	HomeConfigFile = "config.yaml"
)

// Config captures all tunable settings for the NotebookLM MCP server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Browser  BrowserConfig  `yaml:"browser"`
	Auth     AuthConfig     `yaml:"auth"`
	Queue    QueueConfig    `yaml:"queue"`
	Jobs     JobsConfig     `yaml:"jobs"`
	MCP      MCPConfig      `yaml:"mcp"`
	Recorder RecorderConfig `yaml:"recorder"`
	RPC      RPCConfig      `yaml:"rpc"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we launch or attach to Chrome for Rod.
type BrowserConfig struct {
	// Product entry point. Everything the bridge drives lives under this origin.
	BaseURL string `yaml:"base_url"`
	// Control endpoint for Rod (e.g., ws://localhost:9222). When set, the bridge
	// attaches instead of launching its own Chrome.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional explicit Chrome/Chromium binary for launched mode.
	ChromeBin string `yaml:"chrome_bin"`
	// Profile directory so the driven session persists cookies between runs.
	ProfileDir string `yaml:"profile_dir"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	// Interactive login always runs headful regardless.
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "30s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default wait timeout for selectors (e.g., "15s").
	DefaultWaitTimeout string `yaml:"default_wait_timeout"`
	// Viewport width for the driven page (default: 1440).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for the driven page (default: 900).
	ViewportHeight int `yaml:"viewport_height"`
}

// AuthConfig controls the persisted session artifact and interactive login.
type AuthConfig struct {
	// Path of the session artifact JSON. Relative paths resolve under the home dir.
	ArtifactPath string `yaml:"artifact_path"`
	// Maximum artifact age before it is considered stale (e.g., "168h").
	MaxAge string `yaml:"max_age"`
	// How long the interactive login flow waits for the user (e.g., "300s").
	LoginTimeout string `yaml:"login_timeout"`
	// Watch the artifact file and hot-reload tokens written by the auth CLI.
	WatchArtifact *bool `yaml:"watch_artifact"`
}

// QueueConfig tunes the single-flight operation lane.
type QueueConfig struct {
	// Number of workers on the read-only side channel (default: 2).
	ReadLaneSize int `yaml:"read_lane_size"`
	// Deadline applied to write operations when the caller supplies none.
	WriteTimeout string `yaml:"write_timeout"`
	// Deadline applied to read operations when the caller supplies none.
	ReadTimeout string `yaml:"read_timeout"`
	// Maximum queued-but-not-started operations before Submit rejects.
	MaxPending int `yaml:"max_pending"`
}

// JobsConfig tunes job polling and retention.
type JobsConfig struct {
	// First poll interval for await loops (e.g., "2s").
	PollInitialBackoff string `yaml:"poll_initial_backoff"`
	// Backoff ceiling for await loops (e.g., "30s").
	PollMaxBackoff string `yaml:"poll_max_backoff"`
	// Default maxWait for await-style tool calls (e.g., "120s").
	DefaultAwait string `yaml:"default_await"`
	// How long terminal jobs are kept before the sweeper reclaims them.
	Retention string `yaml:"retention"`
	// Sweep cadence for the retention GC.
	SweepInterval string `yaml:"sweep_interval"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// RecorderConfig controls the JSONL flight recorder for tool calls.
type RecorderConfig struct {
	Enabled bool `yaml:"enabled"`
	// Directory holding the rotated per-run trace files.
	Path string `yaml:"path"`
}

// RPCConfig controls the batchexecute traffic observer.
type RPCConfig struct {
	Enable bool `yaml:"enable"`
	// Where discovered RPC ids are cached between runs.
	CachePath string `yaml:"cache_path"`
	// Cap on buffered traffic facts.
	FactBufferLimit int `yaml:"fact_buffer_limit"`
}

// DefaultConfig provides reasonable defaults for local use.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "notebooklm-mcp",
			Version: "0.3.1",
			LogFile: "notebooklm-mcp.log",
		},
		Browser: BrowserConfig{
			BaseURL:                  "https://notebooklm.google.com",
			ProfileDir:               "browser-profile",
			DefaultNavigationTimeout: "30s",
			DefaultWaitTimeout:       "15s",
			ViewportWidth:            1440,
			ViewportHeight:           900,
		},
		Auth: AuthConfig{
			ArtifactPath: "auth.json",
			MaxAge:       "168h",
			LoginTimeout: "300s",
		},
		Queue: QueueConfig{
			ReadLaneSize: 2,
			WriteTimeout: "90s",
			ReadTimeout:  "30s",
			MaxPending:   64,
		},
		Jobs: JobsConfig{
			PollInitialBackoff: "2s",
			PollMaxBackoff:     "30s",
			DefaultAwait:       "120s",
			Retention:          "30m",
			SweepInterval:      "5m",
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Recorder: RecorderConfig{
			Enabled: true,
			Path:    "traces",
		},
		RPC: RPCConfig{
			Enable:          false,
			CachePath:       "rpc_ids.json",
			FactBufferLimit: 2048,
		},
	}
}

// Home returns the per-user directory for artifacts, profiles, and logs.
func Home() (string, error) {
	base, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(base, HomeDirName), nil
}

// EnsureHome creates the home directory tree if it does not exist yet.
func EnsureHome() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", home, err)
	}
	return home, nil
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// LoadDefault loads <home>/config.yaml when present, otherwise plain defaults.
// Relative paths in the result are resolved against the home directory either way.
func LoadDefault() (Config, error) {
	cfg := DefaultConfig()

	home, err := Home()
	if err != nil {
		return cfg, err
	}

	path := filepath.Join(home, HomeConfigFile)
	if raw, readErr := os.ReadFile(path); readErr == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !errors.Is(readErr, os.ErrNotExist) {
		return cfg, fmt.Errorf("reading %s: %w", path, readErr)
	}

	cfg = resolveHomePaths(cfg, home)
	return cfg, cfg.Validate()
}

// resolveHomePaths resolves relative paths in the config against the home directory.
func resolveHomePaths(cfg Config, home string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(home, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Browser.ProfileDir = resolve(cfg.Browser.ProfileDir)
	cfg.Auth.ArtifactPath = resolve(cfg.Auth.ArtifactPath)
	cfg.Recorder.Path = resolve(cfg.Recorder.Path)
	cfg.RPC.CachePath = resolve(cfg.RPC.CachePath)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.BaseURL == "" {
		return errors.New("browser.base_url is required")
	}
	if c.Auth.ArtifactPath == "" {
		return errors.New("auth.artifact_path is required")
	}
	if c.Queue.ReadLaneSize < 0 {
		return errors.New("queue.read_lane_size cannot be negative")
	}
	if c.Queue.MaxPending < 1 {
		return errors.New("queue.max_pending must be at least 1")
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 30*time.Second)
}

// WaitTimeout returns the parsed selector-wait timeout with a sane default.
func (b BrowserConfig) WaitTimeout() time.Duration {
	return parseDuration(b.DefaultWaitTimeout, 15*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1440
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 900
	}
	return b.ViewportHeight
}

// ArtifactMaxAge returns the parsed artifact staleness bound (default: one week).
func (a AuthConfig) ArtifactMaxAge() time.Duration {
	return parseDuration(a.MaxAge, 168*time.Hour)
}

// LoginWait returns how long interactive login blocks for the user.
func (a AuthConfig) LoginWait() time.Duration {
	return parseDuration(a.LoginTimeout, 300*time.Second)
}

// WatchEnabled reports whether the artifact file watcher runs (default: true).
func (a AuthConfig) WatchEnabled() bool {
	if a.WatchArtifact == nil {
		return true
	}
	return *a.WatchArtifact
}

// LaneSize returns the read side-channel width (default: 2).
func (q QueueConfig) LaneSize() int {
	if q.ReadLaneSize <= 0 {
		return 2
	}
	return q.ReadLaneSize
}

// WriteDeadline returns the default write-operation deadline.
func (q QueueConfig) WriteDeadline() time.Duration {
	return parseDuration(q.WriteTimeout, 90*time.Second)
}

// ReadDeadline returns the default read-operation deadline.
func (q QueueConfig) ReadDeadline() time.Duration {
	return parseDuration(q.ReadTimeout, 30*time.Second)
}

// Backlog returns the maximum pending submissions (default: 64).
func (q QueueConfig) Backlog() int {
	if q.MaxPending <= 0 {
		return 64
	}
	return q.MaxPending
}

// InitialBackoff returns the first await poll interval.
func (j JobsConfig) InitialBackoff() time.Duration {
	return parseDuration(j.PollInitialBackoff, 2*time.Second)
}

// MaxBackoff returns the await poll interval ceiling.
func (j JobsConfig) MaxBackoff() time.Duration {
	return parseDuration(j.PollMaxBackoff, 30*time.Second)
}

// AwaitDefault returns the default maxWait for await-style calls.
func (j JobsConfig) AwaitDefault() time.Duration {
	return parseDuration(j.DefaultAwait, 120*time.Second)
}

// RetentionWindow returns how long terminal jobs are kept.
func (j JobsConfig) RetentionWindow() time.Duration {
	return parseDuration(j.Retention, 30*time.Minute)
}

// GCInterval returns the retention sweep cadence.
func (j JobsConfig) GCInterval() time.Duration {
	return parseDuration(j.SweepInterval, 5*time.Minute)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
