// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/webeonic/treegix-sub004/lib/bmc"
	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/ipc"
	"github.com/webeonic/treegix-sub004/lib/ipmi"
)

// managerConn is the poller's connection to the manager.
// *service.Conn implements it.
type managerConn interface {
	Send(message ipc.Message) error
	Recv(ctx context.Context, timeout time.Duration) (ipc.Message, bool, error)
}

// Poller serves the manager's requests against a session registry.
type Poller struct {
	conn     managerConn
	registry *bmc.Registry
	clock    clock.Clock
	logger   *slog.Logger

	// wait bounds each receive; pump bounds the library pumping
	// done after a receive times out.
	wait time.Duration
	pump time.Duration

	sessionIdleLimit time.Duration
	statusInterval   time.Duration

	statusStart time.Time
	polled      int
	idle        time.Duration
}

// Register announces the poller to the manager. The manager accepts
// it only if parentPID matches its own parent.
func (p *Poller) Register(parentPID int) error {
	message := ipc.MustEncode(ipc.CodeRegister, ipc.Register{ParentPID: int64(parentPID)})
	if err := p.conn.Send(message); err != nil {
		return fmt.Errorf("registering with the IPMI manager: %w", err)
	}
	return nil
}

// Run serves requests until ctx is cancelled or the manager connection
// fails. A lost connection is an error: the manager is gone.
func (p *Poller) Run(ctx context.Context) error {
	p.statusStart = p.clock.Now()
	for {
		start := p.clock.Now()
		p.reportStatus(start)

		message, err := p.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("cannot read IPMI service request: %w", err)
		}
		p.idle += p.clock.Now().Sub(start)

		if err := p.handle(message); err != nil {
			return err
		}
	}
}

// next waits for the manager's next message, pumping the hardware
// library whenever a receive times out.
func (p *Poller) next(ctx context.Context) (ipc.Message, error) {
	for {
		message, ok, err := p.conn.Recv(ctx, p.wait)
		if err != nil {
			return ipc.Message{}, err
		}
		if ok {
			return message, nil
		}
		p.registry.Pump(p.pump)
	}
}

func (p *Poller) handle(message ipc.Message) error {
	switch message.Code {
	case ipc.CodeValueRequest:
		p.polled++
		return p.handleValueRequest(message)
	case ipc.CodeCommandRequest:
		return p.handleCommandRequest(message)
	case ipc.CodeCleanupRequest:
		if err := ipc.DecodeCleanup(message); err != nil {
			p.logger.Warn("invalid cleanup request", "error", err)
			return nil
		}
		p.registry.CloseInactive(p.sessionIdleLimit)
		return nil
	default:
		p.logger.Warn("unexpected message from the IPMI manager", "code", message.Code)
		return nil
	}
}

func (p *Poller) handleValueRequest(message ipc.Message) error {
	var request ipc.ValueRequest
	if err := ipc.Decode(message, &request); err != nil {
		// The manager is waiting for a result either way.
		return p.sendResult(ipc.CodeValueResult, ipmi.AgentError, err.Error())
	}
	p.logger.Debug("value request",
		"item", request.ObjectID,
		"address", request.Address,
		"port", request.Port,
		"sensor", request.Sensor,
	)

	target := bmc.Target{
		Address:   request.Address,
		Port:      request.Port,
		AuthType:  request.AuthType,
		Privilege: request.Privilege,
		Username:  request.Username,
		Password:  request.Password,
	}
	value, err := p.registry.ReadValue(target, request.Sensor)
	if err != nil {
		return p.sendResult(ipc.CodeValueResult, bmc.CodeOf(err), err.Error())
	}
	return p.sendResult(ipc.CodeValueResult, ipmi.Succeed, value)
}

func (p *Poller) handleCommandRequest(message ipc.Message) error {
	var request ipc.CommandRequest
	if err := ipc.Decode(message, &request); err != nil {
		return p.sendResult(ipc.CodeCommandResult, ipmi.AgentError, err.Error())
	}
	p.logger.Debug("command request",
		"host", request.ObjectID,
		"address", request.Address,
		"port", request.Port,
		"control", request.Control,
		"value", request.Value,
	)

	target := bmc.Target{
		Address:   request.Address,
		Port:      request.Port,
		AuthType:  request.AuthType,
		Privilege: request.Privilege,
		Username:  request.Username,
		Password:  request.Password,
	}
	if err := p.registry.SetControl(target, request.Control, int(request.Value)); err != nil {
		return p.sendResult(ipc.CodeCommandResult, bmc.CodeOf(err), err.Error())
	}
	return p.sendResult(ipc.CodeCommandResult, ipmi.Succeed, "")
}

func (p *Poller) sendResult(code ipc.Code, errorCode ipmi.ErrorCode, value string) error {
	message := ipc.MustEncode(code, ipc.NewResult(p.clock.Now(), errorCode, value))
	if err := p.conn.Send(message); err != nil {
		return fmt.Errorf("sending %s: %w", code, err)
	}
	return nil
}

func (p *Poller) reportStatus(now time.Time) {
	elapsed := now.Sub(p.statusStart)
	if elapsed <= p.statusInterval {
		return
	}
	p.logger.Info("poller status",
		"polled", p.polled,
		"idle", p.idle.Round(time.Millisecond).String(),
		"period", elapsed.Round(time.Millisecond).String(),
		"sessions", p.registry.Len(),
	)
	p.statusStart = now
	p.polled = 0
	p.idle = 0
}
