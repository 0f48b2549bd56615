package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"taskflow/server/internal/agentloop"
	"taskflow/server/internal/chat"
	"taskflow/server/internal/chatstore"
	"taskflow/server/internal/command"
	"taskflow/server/internal/config"
	"taskflow/server/internal/db"
	"taskflow/server/internal/httpapi"
	"taskflow/server/internal/logging"
	"taskflow/server/internal/taskstore"
	"taskflow/server/internal/tasktools"
)

var version = "dev"
var buildTime = "unknown"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig:   loadMergedConfig,
		RunServe:     runServe,
		RunMigrateUp: runMigrateUp,
	})
	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error"}).Error("taskflow failed", "err", err)
		os.Exit(1)
	}
}

// loadMergedConfig layers env config over the persisted settings file.
func loadMergedConfig() config.Config {
	cfg := config.LoadConfig()
	settings, err := config.NewSettingsStore(settingsDir(cfg)).LoadOrInit()
	if err != nil {
		return cfg
	}
	return config.ApplySettings(cfg, settings)
}

func settingsDir(cfg config.Config) string {
	if dir := filepath.Dir(cfg.DBPath); dir != "." && dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".taskflow")
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	gdb, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel})

	gdb, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	tasks, err := taskstore.NewStore(gdb)
	if err != nil {
		return err
	}
	conversations, err := chatstore.NewStore(gdb)
	if err != nil {
		return err
	}

	registry := agentloop.NewToolRegistry()
	if err := tasktools.Register(registry, tasks, logging.ForComponent(logger, "agentloop")); err != nil {
		return err
	}
	runner := &agentRunnerSource{
		registry: registry,
		settings: config.NewSettingsStore(settingsDir(cfg)),
	}
	orchestrator, err := chat.NewOrchestrator(conversations, runner, logging.ForComponent(logger, "chat"), chat.Options{
		HistoryLimit: cfg.HistoryLimit,
	})
	if err != nil {
		return err
	}

	apiServer := httpapi.NewServer(httpapi.Deps{
		Tasks:         tasks,
		Conversations: conversations,
		Chat:          orchestrator,
		Logger:        logging.ForComponent(logger, "httpapi"),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: apiServer.Handler(),
	}
	logger.Info("taskflow listening",
		"addr", addr,
		"db_path", cfg.DBPath,
		"version", version,
		"built", buildTime,
	)

	serveErr := make(chan error, 1)
	go func() {
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return <-serveErr
	case err := <-serveErr:
		return err
	}
}

// agentRunnerSource resolves the model client per chat turn through the
// config cache, so an endpoint or model changed in settings.toml takes
// effect without a restart. With no model configured the server still runs;
// chat turns fail with a clear error while task CRUD stays available.
type agentRunnerSource struct {
	registry *agentloop.ToolRegistry
	settings *config.SettingsStore

	mu       sync.Mutex
	endpoint string
	model    string
	apiKey   string
	runner   *agentloop.Runner
}

func (s *agentRunnerSource) Run(ctx context.Context, req agentloop.RunRequest) (*agentloop.RunResult, error) {
	runner, err := s.current()
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, req)
}

func (s *agentRunnerSource) current() (*agentloop.Runner, error) {
	cfg := *config.GetConfig()
	if settings, err := s.settings.LoadOrInit(); err == nil {
		cfg = config.ApplySettings(cfg, settings)
	}
	if cfg.OpenAIModel == "" || cfg.OpenAIAPIKey == "" {
		return nil, errors.New("no model configured: set OPENAI_MODEL and OPENAI_API_KEY")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner == nil || s.endpoint != cfg.OpenAIEndpoint || s.model != cfg.OpenAIModel || s.apiKey != cfg.OpenAIAPIKey {
		client := agentloop.NewResponsesClient(agentloop.OpenAIConfig{
			BaseURL: cfg.OpenAIEndpoint,
			Model:   cfg.OpenAIModel,
			APIKey:  cfg.OpenAIAPIKey,
		}, http.DefaultClient)
		s.runner = agentloop.NewRunner(client, s.registry, agentloop.RunnerOptions{})
		s.endpoint, s.model, s.apiKey = cfg.OpenAIEndpoint, cfg.OpenAIModel, cfg.OpenAIAPIKey
	}
	return s.runner, nil
}
