// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/webeonic/treegix-sub004/lib/bmc"
	"github.com/webeonic/treegix-sub004/lib/bmc/sim"
	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/config"
	"github.com/webeonic/treegix-sub004/lib/process"
	"github.com/webeonic/treegix-sub004/lib/service"
	"github.com/webeonic/treegix-sub004/lib/version"
)

const binaryName = "treegix-ipmi-poller"

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	driver, err := newDriver(cfg, clk, logger)
	if err != nil {
		return err
	}
	registry := bmc.NewRegistry(driver, clk, cfg.IPMI.OperationTimeout, logger.With("component", "bmc"))
	defer registry.Close()

	conn, err := service.Dial(ctx, cfg.IPMI.Socket, cfg.IPMI.ConnectTimeout, clk)
	if err != nil {
		return fmt.Errorf("cannot connect to IPMI service: %w", err)
	}
	defer conn.Close()

	poller := &Poller{
		conn:             conn,
		registry:         registry,
		clock:            clk,
		logger:           logger,
		wait:             cfg.IPMI.PollerWait,
		pump:             cfg.IPMI.PumpInterval,
		sessionIdleLimit: cfg.IPMI.SessionIdleLimit,
		statusInterval:   cfg.IPMI.StatusInterval,
	}
	if err := poller.Register(os.Getppid()); err != nil {
		return err
	}

	logger.Info("IPMI poller started", "socket", cfg.IPMI.Socket, "version", version.Info())
	return poller.Run(ctx)
}

// newDriver returns the simulated hardware library when fixtures are
// configured. Otherwise it returns nil and the registry reports every
// operation as unconfigured.
func newDriver(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (bmc.Driver, error) {
	if cfg.Simulator.Fixtures == "" {
		logger.Warn("no hardware library configured; IPMI operations will fail")
		return nil, nil
	}
	fixture, err := sim.ReadFile(cfg.Simulator.Fixtures)
	if err != nil {
		return nil, err
	}
	logger.Info("using simulated BMCs", "fixtures", cfg.Simulator.Fixtures, "controllers", len(fixture.Controllers))
	return sim.New(fixture, clk), nil
}
