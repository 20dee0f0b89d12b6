// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipmiclient submits one-off control commands to the IPMI
// manager. A command is sent as a ScriptRequest on a fresh connection;
// the manager routes it to the poller that owns the host and relays the
// poller's result back as a ScriptResult.
package ipmiclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/dcache"
	"github.com/webeonic/treegix-sub004/lib/ipc"
	"github.com/webeonic/treegix-sub004/lib/ipmi"
	"github.com/webeonic/treegix-sub004/lib/service"
)

// ErrTimeout is returned when no result arrives in time.
var ErrTimeout = errors.New("timed out waiting for the IPMI command result")

// CommandError is a command the poller executed and reported as failed.
type CommandError struct {
	Code    ipmi.ErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Prepare builds the request for running command on the host with the
// given id. command is "<control> [on|off|<value>]".
func Prepare(inventory *dcache.Inventory, hostID uint64, command string) (ipc.ScriptRequest, error) {
	parsed, err := ipmi.ParseCommand(command)
	if err != nil {
		return ipc.ScriptRequest{}, err
	}

	host, ok := inventory.Host(hostID)
	if !ok {
		return ipc.ScriptRequest{}, fmt.Errorf("host %d is not in the inventory", hostID)
	}
	iface := host.Interface()
	port, err := inventory.ExpandPort(hostID, iface.Port)
	if err != nil {
		return ipc.ScriptRequest{}, err
	}

	return ipc.ScriptRequest{
		HostID: hostID,
		Command: ipc.CommandRequest{
			ObjectID:  hostID,
			Address:   iface.Address,
			Port:      port,
			AuthType:  iface.AuthType,
			Privilege: iface.Privilege,
			Username:  iface.Username,
			Password:  iface.Password,
			Control:   parsed.Control,
			Value:     parsed.Value,
		},
	}, nil
}

// Execute sends request to the manager listening on socketPath and
// waits up to timeout, connection included, for its result. It
// returns the result text on success and a *CommandError when the
// command itself failed.
func Execute(ctx context.Context, socketPath string, request ipc.ScriptRequest, timeout time.Duration, clk clock.Clock) (string, error) {
	deadline := clk.Now().Add(timeout)

	conn, err := service.Dial(ctx, socketPath, timeout, clk)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	message, err := ipc.Encode(ipc.CodeScriptRequest, request)
	if err != nil {
		return "", err
	}
	if err := conn.Send(message); err != nil {
		return "", err
	}

	reply, ok, err := conn.Recv(ctx, deadline.Sub(clk.Now()))
	if err != nil {
		return "", fmt.Errorf("waiting for the IPMI command result: %w", err)
	}
	if !ok {
		return "", ErrTimeout
	}

	if reply.Code != ipc.CodeScriptResult {
		return "", fmt.Errorf("unexpected %s reply to a script request", reply.Code)
	}
	var result ipc.Result
	if err := ipc.Decode(reply, &result); err != nil {
		return "", err
	}
	if result.ErrorCode != ipmi.Succeed {
		return "", &CommandError{Code: result.ErrorCode, Message: result.Value}
	}
	return result.Value, nil
}
