// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Treegix-ipmi-script runs one IPMI control command on an inventory
// host through a running IPMI manager:
//
//	treegix-ipmi-script --host 10084 --command "chassis_power off"
//
// The command is "<control> [on|off|<value>]"; a missing value means
// on. The host's IPMI interface and credentials come from the
// inventory named in the config file. The command is routed to the
// poller that owns the host, so it runs in the same session as that
// host's regular polling. The exit status is non-zero when the command
// fails or no result arrives within --timeout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/config"
	"github.com/webeonic/treegix-sub004/lib/dcache"
	"github.com/webeonic/treegix-sub004/lib/ipmiclient"
	"github.com/webeonic/treegix-sub004/lib/process"
	"github.com/webeonic/treegix-sub004/lib/version"
)

const binaryName = "treegix-ipmi-script"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		hostID      uint64
		command     string
		timeout     time.Duration
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the IPMI service config file (default $"+config.ConfigEnvVar+")")
	pflag.Uint64Var(&hostID, "host", 0, "inventory id of the host to run the command on")
	pflag.StringVar(&command, "command", "", `IPMI command, "<control> [on|off|<value>]"`)
	pflag.DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the command result")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		version.Print(binaryName)
		return nil
	}
	if hostID == 0 {
		return errors.New("--host is required")
	}
	if command == "" {
		return errors.New("--command is required")
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runCommand(ctx, cfg, hostID, command, timeout, os.Stdout)
}

// runCommand loads the inventory, sends the command and prints the
// result text to out.
func runCommand(ctx context.Context, cfg *config.Config, hostID uint64, command string, timeout time.Duration, out io.Writer) error {
	inventory, err := dcache.LoadInventory(cfg.Inventory.Path, cfg.Inventory.IdentityFile)
	if err != nil {
		return err
	}

	request, err := ipmiclient.Prepare(inventory, hostID, command)
	if err != nil {
		return err
	}

	output, err := ipmiclient.Execute(ctx, cfg.IPMI.Socket, request, timeout, clock.Real())
	if err != nil {
		var commandErr *ipmiclient.CommandError
		if errors.As(err, &commandErr) {
			return fmt.Errorf("IPMI command %q on host %d failed: %s", command, hostID, commandErr.Message)
		}
		return err
	}

	if output == "" {
		output = "IPMI command executed"
	}
	fmt.Fprintln(out, output)
	return nil
}
