package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"notebooklm-mcp-server/internal/auth"
	"notebooklm-mcp-server/internal/browser"
	"notebooklm-mcp-server/internal/config"
	"notebooklm-mcp-server/internal/jobs"
	mcpserver "notebooklm-mcp-server/internal/mcp"
	"notebooklm-mcp-server/internal/notebooklm"
	"notebooklm-mcp-server/internal/queue"
	"notebooklm-mcp-server/internal/recorder"
	"notebooklm-mcp-server/internal/rpc"
)

// testConfig is the default config with every filesystem path pointed into a
// scratch directory, so the wiring tests never touch the real home dir.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Server.LogFile = filepath.Join(dir, "server.log")
	cfg.Browser.ProfileDir = filepath.Join(dir, "profile")
	cfg.Auth.ArtifactPath = filepath.Join(dir, "auth.json")
	cfg.Recorder.Path = filepath.Join(dir, "traces")
	cfg.RPC.Enable = true
	cfg.RPC.CachePath = filepath.Join(dir, "rpc_ids.json")
	return cfg
}

// TestServerWiring walks the same construction sequence run() performs, one
// dependency at a time, without launching a browser. The controller starts
// lazily, so everything up to the first page-driving tool call works offline.
func TestServerWiring(t *testing.T) {
	cfg := testConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	logger := zap.NewNop()

	store := auth.NewStore(cfg.Auth.ArtifactPath, cfg.Auth.ArtifactMaxAge(), logger)
	controller := browser.NewController(cfg.Browser, store, nil, logger)

	q := queue.New(cfg.Queue.LaneSize(), cfg.Queue.Backlog(), logger)
	q.Start()
	controller.SetGate(q)

	tracker := jobs.NewTracker(jobs.BackoffPolicy{
		InitialDelay: cfg.Jobs.InitialBackoff(),
		MaxDelay:     cfg.Jobs.MaxBackoff(),
		Multiplier:   2.0,
	}, cfg.Jobs.RetentionWindow(), cfg.Jobs.GCInterval(), logger)
	tracker.Run()

	observer, err := rpc.NewObserver(cfg.RPC, logger)
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}
	controller.SetRequestObserver(observer)

	rec, err := recorder.NewRecorder(cfg.Recorder.Path)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	if err := rec.Start("wiring-test"); err != nil {
		t.Fatalf("recorder start failed: %v", err)
	}

	client := notebooklm.New(controller, q, tracker, store, cfg.Browser.BaseURL, cfg.Queue, cfg.Jobs, logger)

	server, err := mcpserver.NewServer(cfg, client, controller, q, store, observer, rec, logger)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	t.Run("local tools answer without a session", func(t *testing.T) {
		result, err := server.ExecuteTool(context.Background(), "server_info", nil)
		if err != nil {
			t.Fatalf("server_info failed: %v", err)
		}
		info := result.(map[string]interface{})
		if info["name"] != cfg.Server.Name {
			t.Errorf("expected name %q, got %v", cfg.Server.Name, info["name"])
		}
		session := info["session"].(browser.Info)
		if session.Status != browser.StatusUninitialized {
			t.Errorf("expected uninitialized session before first use, got %q", session.Status)
		}

		if _, err := server.ExecuteTool(context.Background(), "rpc_discover", nil); err != nil {
			t.Fatalf("rpc_discover failed: %v", err)
		}
	})

	t.Run("graceful shutdown order", func(t *testing.T) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := q.Stop(shutdownCtx); err != nil {
			t.Errorf("queue stop: %v", err)
		}
		tracker.Stop()
		if err := controller.Shutdown(shutdownCtx); err != nil {
			t.Errorf("controller shutdown: %v", err)
		}
		if err := rec.Close(); err != nil {
			t.Errorf("recorder close: %v", err)
		}
	})
}

func TestBuildLogger(t *testing.T) {
	t.Run("stdio mode writes to the log file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.MCP.SSEPort = 0

		logger, err := buildLogger(cfg, false)
		if err != nil {
			t.Fatalf("buildLogger failed: %v", err)
		}
		logger.Info("hello from the wiring test")
		_ = logger.Sync()

		data, err := os.ReadFile(cfg.Server.LogFile)
		if err != nil {
			t.Fatalf("log file unreadable: %v", err)
		}
		if len(data) == 0 {
			t.Error("expected log output in the file")
		}
	})

	t.Run("stdio mode without a log file stays silent", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Server.LogFile = ""

		logger, err := buildLogger(cfg, false)
		if err != nil {
			t.Fatalf("buildLogger failed: %v", err)
		}
		// Must not panic or write anywhere; stdout is the MCP protocol.
		logger.Info("discarded")
	})

	t.Run("sse mode keeps stderr", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.MCP.SSEPort = 8917

		logger, err := buildLogger(cfg, true)
		if err != nil {
			t.Fatalf("buildLogger failed: %v", err)
		}
		if !logger.Core().Enabled(zap.DebugLevel) {
			t.Error("expected debug level with the debug flag set")
		}
	})
}
