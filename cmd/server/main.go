package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

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

func main() {
	configPath := flag.String("config", "", "Path to a config file (defaults to the one under the home dir)")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if err := run(*configPath, *ssePort, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "notebooklm-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, ssePort int, debug bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		if _, err := config.EnsureHome(); err != nil {
			return err
		}
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if ssePort != 0 {
		cfg.MCP.SSEPort = ssePort
	}

	logger, err := buildLogger(cfg, debug)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store := auth.NewStore(cfg.Auth.ArtifactPath, cfg.Auth.ArtifactMaxAge(), logger)
	login := &auth.InteractiveLogin{
		BaseURL:    cfg.Browser.BaseURL,
		ChromeBin:  cfg.Browser.ChromeBin,
		ProfileDir: cfg.Browser.ProfileDir,
		Wait:       cfg.Auth.LoginWait(),
		Logger:     logger,
	}
	controller := browser.NewController(cfg.Browser, store, login, logger)

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
		return fmt.Errorf("building rpc observer: %w", err)
	}
	if cfg.RPC.Enable {
		controller.SetRequestObserver(observer)
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.NewRecorder(cfg.Recorder.Path)
		if err != nil {
			return fmt.Errorf("preparing trace dir: %w", err)
		}
		if err := rec.Start(time.Now().Format("20060102-150405")); err != nil {
			logger.Warn("flight recorder disabled", zap.Error(err))
			rec = nil
		} else {
			defer func() { _ = rec.Close() }()
		}
	}

	client := notebooklm.New(controller, q, tracker, store, cfg.Browser.BaseURL, cfg.Queue, cfg.Jobs, logger)

	// Reload tokens the auth CLI writes while the server is up, so a login
	// on the side revives a degraded session without a restart.
	if cfg.Auth.WatchEnabled() {
		if err := store.Watch(ctx, controller.OnArtifactReload); err != nil {
			logger.Warn("artifact watch unavailable", zap.Error(err))
		}
	}

	server, err := mcpserver.NewServer(cfg, client, controller, q, store, observer, rec, logger)
	if err != nil {
		return fmt.Errorf("building mcp server: %w", err)
	}

	var serveErr error
	if cfg.MCP.SSEPort > 0 {
		logger.Info("starting sse server", zap.Int("port", cfg.MCP.SSEPort))
		serveErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		logger.Info("starting stdio server")
		serveErr = server.Start(ctx)
	}

	// Drain in dependency order: stop admitting operations, then the job
	// sweeper, then the browser itself.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.Stop(shutdownCtx); err != nil {
		logger.Warn("queue did not drain cleanly", zap.Error(err))
	}
	tracker.Stop()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		logger.Warn("browser shutdown failed", zap.Error(err))
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return fmt.Errorf("server exited: %w", serveErr)
	}
	return nil
}

// buildLogger routes structured logs away from the process streams in stdio
// mode, where stdout carries the MCP protocol and stderr reaches the client's
// terminal.
func buildLogger(cfg config.Config, debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if cfg.MCP.SSEPort == 0 {
		if cfg.Server.LogFile == "" {
			return zap.NewNop(), nil
		}
		zcfg.OutputPaths = []string{cfg.Server.LogFile}
		zcfg.ErrorOutputPaths = []string{cfg.Server.LogFile}
	}
	return zcfg.Build()
}
