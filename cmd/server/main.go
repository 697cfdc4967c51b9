package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentfi/agentfi-social-agent/internal/actions"
	"github.com/agentfi/agentfi-social-agent/internal/agent"
	"github.com/agentfi/agentfi-social-agent/internal/auth"
	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/internal/connection/twitter"
	"github.com/agentfi/agentfi-social-agent/internal/engine"
	"github.com/agentfi/agentfi-social-agent/internal/imagegen"
	"github.com/agentfi/agentfi-social-agent/internal/llm"
	"github.com/agentfi/agentfi-social-agent/internal/server"
	"github.com/agentfi/agentfi-social-agent/internal/store"
	"github.com/agentfi/agentfi-social-agent/pkg/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server: fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// --- Config ---
	path := os.Getenv("SOCIALAGENT_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	initLogger(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		return err
	}
	slog.Info("config loaded", slog.Int("port", cfg.Server.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Agent catalog ---
	var (
		catalog agent.Catalog = agent.NewFileCatalog(cfg.Agent.Dir)
		journal actions.Journal
		reader  server.JournalReader
	)

	// --- Database ---
	if cfg.Database.DSN != "" {
		if err := store.Migrate(ctx, cfg.Database.DSN); err != nil {
			return err
		}
		pool, err := store.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		slog.Info("database connected")

		st := store.NewStore(pool)
		n, err := st.SyncDefinitions(ctx, catalog)
		if err != nil {
			return fmt.Errorf("sync agent definitions: %w", err)
		}
		slog.Info("agent definitions synced", slog.Int("count", n))
		catalog, journal, reader = st, st, st
	}

	// --- Redis ---
	var (
		states actions.StateStore
		loader server.StateLoader
		nonces auth.NonceStore
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")

		rs := store.NewRedisStateStore(rdb)
		states, loader, nonces = rs, rs, rdb
	}

	// --- Connections ---
	conns := connection.NewManager(
		twitter.New(cfg.Twitter),
		llm.NewOpenAIConnection(cfg.LLM),
		llm.NewOllamaConnection(cfg.Ollama),
	)
	images, err := imagegen.New(cfg.Image)
	if err != nil {
		return err
	}

	// --- Runtime ---
	svc := actions.NewService(conns, images, journal, states)
	ctrl := engine.NewController(engine.Config{
		PollInterval: cfg.Loop.PollInterval,
		ErrorBackoff: cfg.Loop.ErrorBackoff,
		StopTimeout:  cfg.Loop.StopTimeout,
	})
	rt := server.NewRuntime(catalog, conns, svc, ctrl, loader)

	if cfg.Agent.Default != "" {
		if _, err := rt.Load(ctx, cfg.Agent.Default); err != nil {
			slog.Warn("default agent not loaded",
				slog.String("agent", cfg.Agent.Default),
				slog.String("error", err.Error()),
			)
		}
	}

	// --- Router ---
	var authSvc *auth.Service
	if cfg.Auth.Enabled {
		authSvc = auth.NewService(nonces, cfg.Auth.JWTSecret, cfg.Auth.Operators)
	}
	limiter := server.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	go limiter.Run(ctx, 5*time.Minute)

	r := server.NewRouter(server.RouterDeps{
		Runtime:     rt,
		Catalog:     catalog,
		Journal:     reader,
		Auth:        authSvc,
		Limiter:     limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// --- HTTP Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down server...")
		if err := rt.Stop(); err != nil {
			slog.Error("agent loop stop error", slog.String("error", err.Error()))
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", slog.String("error", err.Error()))
		}
		cancel()
	}()

	slog.Info("server starting", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	slog.Info("server stopped")
	return nil
}

func initLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
