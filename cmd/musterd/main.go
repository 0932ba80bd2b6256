package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mheilberg/muster/internal/dispatch"
	"github.com/mheilberg/muster/internal/event"
	"github.com/mheilberg/muster/internal/jobs"
	"github.com/mheilberg/muster/internal/plugin"
	"github.com/mheilberg/muster/internal/registry"
	"github.com/mheilberg/muster/internal/scan"
	"github.com/mheilberg/muster/internal/server"
	"github.com/mheilberg/muster/internal/vault"
	"github.com/mheilberg/muster/internal/version"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("muster server starting", zap.String("version", version.Short()))

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	store, err := jobs.Open(config.GetString("jobs.path"))
	if err != nil {
		logger.Fatal("failed to open job store", zap.Error(err))
	}
	defer store.Close()

	bus := event.NewBus(logger.Named("event"))
	creds := vault.New()

	reg := registry.New(logger)
	plugins := []plugin.Plugin{
		creds,
		scan.New(store, bus),
		dispatch.New(creds, store, bus),
	}
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			logger.Fatal("failed to register module", zap.Error(err))
		}
	}

	if err := reg.InitAll(config); err != nil {
		logger.Fatal("failed to initialize modules", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start modules", zap.Error(err))
	}

	addr := config.GetString("server.host") + ":" + config.GetString("server.port")
	if addr == ":" {
		addr = "0.0.0.0:8080"
	}
	srv := server.New(addr, reg, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("muster server ready", zap.String("addr", addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reg.StopAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("muster server stopped")
}
