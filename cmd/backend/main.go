package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/voicememo/external/audio"
	configloader "github.com/foxseedlab/voicememo/external/config"
	"github.com/foxseedlab/voicememo/external/httpapi"
	"github.com/foxseedlab/voicememo/external/realtime"
	transcriberimpl "github.com/foxseedlab/voicememo/external/transcriber"
	webhookimpl "github.com/foxseedlab/voicememo/external/webhook"
	"github.com/foxseedlab/voicememo/internal/config"
	"github.com/foxseedlab/voicememo/internal/metrics"
	"github.com/foxseedlab/voicememo/internal/session"
	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "recognizer", cfg.Recognizer)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: starting http server", "addr", cfg.ListenAddr)
	if err := runServer(injector); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	metrics.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)
	realtime.RegisterDI(injector)
	httpapi.RegisterDI(injector)

	return injector
}

func runServer(injector do.Injector) error {
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		return err
	}
	server, err := do.Invoke[*http.Server](injector)
	if err != nil {
		return err
	}
	manager.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Sessions first: hijacked WebSocket connections are not closed by
		// server.Shutdown.
		if err := manager.Shutdown(shutdownCtx); err != nil {
			slog.Error("session shutdown incomplete", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
