// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/config"
	"github.com/webeonic/treegix-sub004/lib/process"
	"github.com/webeonic/treegix-sub004/lib/version"
)

const (
	binaryName        = "treegix-ipmi-daemon"
	managerBinaryName = "treegix-ipmi-manager"
	pollerBinaryName  = "treegix-ipmi-poller"

	socketPollInterval = 50 * time.Millisecond
	childStopTimeout   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		managerPath string
		pollerPath  string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the IPMI service config file (default $"+config.ConfigEnvVar+")")
	pflag.StringVar(&managerPath, "manager-binary", "", "path to "+managerBinaryName+" (default: search paths.bin, this binary's directory, PATH)")
	pflag.StringVar(&pollerPath, "poller-binary", "", "path to "+pollerBinaryName+" (default: search paths.bin, this binary's directory, PATH)")
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

	if managerPath == "" {
		if managerPath, err = cfg.BinaryPath(managerBinaryName); err != nil {
			return err
		}
	}
	if pollerPath == "" {
		if pollerPath, err = cfg.BinaryPath(pollerBinaryName); err != nil {
			return err
		}
	}

	// A socket left behind by a previous manager would satisfy the
	// startup wait before the new manager is listening.
	if err := os.Remove(cfg.IPMI.Socket); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var childArgs []string
	if configPath != "" {
		childArgs = []string{"--config", configPath}
	}
	manager := childSpec{name: managerBinaryName, path: managerPath, args: childArgs}
	pollers := make([]childSpec, cfg.IPMI.Pollers)
	for i := range pollers {
		pollers[i] = childSpec{
			name: fmt.Sprintf("%s #%d", pollerBinaryName, i+1),
			path: pollerPath,
			args: childArgs,
		}
	}

	supervisor := &Supervisor{
		clock:         clock.Real(),
		logger:        logger,
		stdout:        os.Stdout,
		stderr:        os.Stderr,
		socketPoll:    socketPollInterval,
		socketTimeout: cfg.IPMI.ConnectTimeout,
		stopTimeout:   childStopTimeout,
	}

	logger.Info("IPMI daemon starting",
		"manager", managerPath,
		"poller", pollerPath,
		"pollers", cfg.IPMI.Pollers,
		"version", version.Info(),
	)
	return supervisor.Run(ctx, manager, cfg.IPMI.Socket, pollers)
}
