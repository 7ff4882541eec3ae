package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/socivy/rebel/internal/api"
	"github.com/socivy/rebel/internal/app"
	"github.com/socivy/rebel/internal/auth"
	"github.com/socivy/rebel/internal/config"
	"github.com/socivy/rebel/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	app.ConfigureLogger(cfg.Log)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var authManager *auth.Manager
	if cfg.Auth.Enabled {
		var sessions auth.SessionStore
		if a.Redis != nil {
			sessions = auth.NewRedisStore(a.Redis)
		}
		authManager = auth.NewManager(cfg.Auth, sessions)
		logger.Info("operator login enabled", "superusers", len(cfg.Auth.Superusers))
	}

	handlers := api.NewHandlers(a.Reconciler, a.DB, api.WithSuppressions(a.Suppressions))
	router := api.SetupRoutes(handlers, authManager, cfg.Server.AllowedOrigins)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
