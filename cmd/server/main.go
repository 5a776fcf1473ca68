package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"assistnerd-mcp-server/internal/browser"
	"assistnerd-mcp-server/internal/config"
	"assistnerd-mcp-server/internal/facts"
	mcpserver "assistnerd-mcp-server/internal/mcp"
	"assistnerd-mcp-server/internal/qase"
	"assistnerd-mcp-server/internal/recorder"
	"assistnerd-mcp-server/internal/relay"
	"assistnerd-mcp-server/internal/session"
	"assistnerd-mcp-server/internal/storage"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the AssistNERD MCP config file")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	var store *storage.Store
	if cfg.Storage.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			logger.Fatal("storage directory", zap.Error(err))
		}
		store, err = storage.Open(cfg.Storage.Path)
		if err != nil {
			logger.Fatal("storage open", zap.Error(err))
		}
		defer store.Close()
	}

	// Config and environment win; saved credentials from a previous run
	// are the fallback.
	if !cfg.Qase.Configured() {
		if creds, err := qase.LoadCredentials(store); err == nil {
			cfg.Qase.APIToken = creds.APIToken
			cfg.Qase.ProjectCode = creds.ProjectCode
			if cfg.Qase.BaseURL == "" {
				cfg.Qase.BaseURL = creds.BaseURL
			}
			logger.Info("qase credentials loaded from storage")
		}
	}

	var qaseClient *qase.Client
	if cfg.Qase.Configured() {
		opts := []qase.Option{}
		if cfg.Qase.BaseURL != "" {
			opts = append(opts, qase.WithBaseURL(cfg.Qase.BaseURL))
		}
		qaseClient = qase.NewClient(cfg.Qase.APIToken, cfg.Qase.ProjectCode, logger, opts...)
		if err := qase.SaveCredentials(store, qase.Credentials{
			APIToken:    cfg.Qase.APIToken,
			ProjectCode: cfg.Qase.ProjectCode,
			BaseURL:     cfg.Qase.BaseURL,
		}); err != nil {
			logger.Debug("qase credential save skipped", zap.Error(err))
		}
	} else {
		logger.Info("qase integration disabled; report-defect will be unavailable")
	}

	var factStore *facts.Store
	if cfg.Facts.Enable {
		factStore, err = facts.NewStore(cfg.Facts.FactBufferLimit, logger)
		if err != nil {
			logger.Fatal("fact store", zap.Error(err))
		}
		if cfg.Facts.RulesPath != "" {
			source, err := os.ReadFile(cfg.Facts.RulesPath)
			if err != nil {
				logger.Fatal("rules file", zap.Error(err))
			}
			if err := factStore.LoadRules(string(source)); err != nil {
				logger.Fatal("rules load", zap.Error(err))
			}
		}
	}

	var notifier relay.Notifier
	if cfg.Slack.Enabled() {
		notifier = relay.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel, logger)
	}
	helpRelay := relay.New(logger, store, notifier)

	var rec *recorder.Recorder
	if cfg.Recorder.Enable {
		rec, err = recorder.NewRecorder(cfg.Recorder.TraceDir)
		if err != nil {
			logger.Warn("trace recorder disabled", zap.Error(err))
			rec = nil
		}
	}

	coordinator := session.New(session.Options{
		Logger:   logger,
		Relay:    helpRelay,
		Facts:    factStore,
		Recorder: rec,
	})

	monitor := browser.NewMonitor(cfg.Browser, coordinator, logger)
	coordinator.SetPresence(monitor)

	if err := coordinator.Start(); err != nil {
		logger.Fatal("session coordinator", zap.Error(err))
	}
	defer coordinator.Stop()

	if cfg.Browser.AutoStart {
		if err := monitor.Start(ctx); err != nil {
			logger.Fatal("browser connect", zap.Error(err))
		}
		if url, err := monitor.Watch(ctx, ""); err != nil {
			logger.Warn("app watch failed; use watch-app later", zap.Error(err))
		} else {
			logger.Info("watching app", zap.String("url", url))
		}
	} else {
		logger.Info("browser auto-start disabled; use connect-browser and watch-app")
	}
	defer monitor.Shutdown()

	server, err := mcpserver.NewServer(cfg, mcpserver.Deps{
		Coordinator: coordinator,
		Monitor:     monitor,
		Relay:       helpRelay,
		Facts:       factStore,
		Qase:        qaseClient,
	})
	if err != nil {
		logger.Fatal("mcp server", zap.Error(err))
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		logger.Info("starting AssistNERD MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		logger.Info("starting AssistNERD MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		logger.Fatal("server exited", zap.Error(startErr))
	}
}

// newLogger builds the process logger. In stdio mode nothing may touch
// stdout or stderr, so logs go to the configured file only.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.MCP.SSEPort > 0 {
		zapCfg.OutputPaths = []string{"stderr"}
		return zapCfg.Build()
	}
	if cfg.Server.LogFile == "" {
		return zap.NewNop(), nil
	}
	zapCfg.OutputPaths = []string{cfg.Server.LogFile}
	zapCfg.ErrorOutputPaths = []string{cfg.Server.LogFile}
	logger, err := zapCfg.Build()
	if err != nil {
		// A broken log path must not leak output into the MCP stream.
		return zap.NewNop(), nil
	}
	return logger, err
}
