// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

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

	"github.com/spf13/pflag"

	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/config"
	"github.com/webeonic/treegix-sub004/lib/dcache"
	"github.com/webeonic/treegix-sub004/lib/history"
	"github.com/webeonic/treegix-sub004/lib/process"
	"github.com/webeonic/treegix-sub004/lib/service"
	"github.com/webeonic/treegix-sub004/lib/version"
)

const binaryName = "treegix-ipmi-manager"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the IPMI service config file (default $"+config.ConfigEnvVar+")")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		version.Print(binaryName)
		return nil
	}

	logger := process.NewLogger(binaryName)

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	inventory, err := dcache.LoadInventory(cfg.Inventory.Path, cfg.Inventory.IdentityFile)
	if err != nil {
		return err
	}
	cache := dcache.New(inventory, clk.Now(), dcache.Options{
		UnreachablePeriod: cfg.Availability.UnreachablePeriod,
		UnreachableDelay:  cfg.Availability.UnreachableDelay,
		UnavailableDelay:  cfg.Availability.UnavailableDelay,
		Logger:            logger.With("component", "dcache"),
	})
	hosts, items := cache.Len()
	logger.Info("inventory loaded", "path", cfg.Inventory.Path, "hosts", hosts, "items", items)

	store, err := history.Open(history.Config{
		Path:     cfg.History.Path,
		PoolSize: cfg.History.PoolSize,
		Logger:   logger.With("component", "history"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Flush(context.Background()); err != nil {
			logger.Error("final history flush failed", "error", err)
		}
		store.Close()
	}()

	socket, err := service.Listen(service.Config{
		SocketPath: cfg.IPMI.Socket,
		Logger:     logger.With("component", "ipc"),
	})
	if err != nil {
		return fmt.Errorf("cannot start IPMI service: %w", err)
	}
	defer socket.Close()

	manager := New(Config{
		Pollers:         cfg.IPMI.Pollers,
		ParentPID:       int64(os.Getppid()),
		ManagerDelay:    cfg.IPMI.ManagerDelay,
		CleanupInterval: cfg.IPMI.CleanupInterval,
		HostTTL:         cfg.IPMI.HostTTL,
		MaxBatch:        cfg.IPMI.MaxBatch,
		StatusInterval:  cfg.IPMI.StatusInterval,
		Cache:           cache,
		History:         store,
		Clock:           clk,
		Logger:          logger,
	})

	if cfg.Metrics.Listen != "" {
		shutdown := serveMetrics(cfg.Metrics.Listen, manager.MetricsHandler(), logger)
		defer shutdown()
	}

	logger.Info("IPMI manager running",
		"socket", cfg.IPMI.Socket,
		"pollers", cfg.IPMI.Pollers,
		"version", version.Info(),
	)
	if err := manager.Run(ctx, socket); err != nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// serveMetrics starts the /metrics endpoint and returns a function that
// stops it.
func serveMetrics(address string, handler http.Handler, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "address", address, "error", err)
		}
	}()
	logger.Info("metrics endpoint listening", "address", address)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}
