// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/webeonic/treegix-sub004/lib/dcache"
	"github.com/webeonic/treegix-sub004/lib/history"
	"github.com/webeonic/treegix-sub004/lib/ipc"
	"github.com/webeonic/treegix-sub004/lib/ipmi"
)

// scheduleDue turns the items due at now into value requests. An item
// whose port does not expand is marked not supported on the spot. It
// returns the number of items taken and the next check time reported
// by the cache (zero if nothing is scheduled).
func (m *Manager) scheduleDue(now time.Time) (int, time.Time, error) {
	items, nextCheck := m.cache.DueItems(now, m.maxBatch)
	for _, item := range items {
		port, err := m.cache.ExpandPort(item.HostID, item.Interface.Port)
		if err != nil {
			m.history.Submit(history.Value{
				ItemID:    item.ID,
				Timestamp: now,
				State:     ipmi.ItemStateNotSupported,
				Error:     err.Error(),
			})
			m.cache.Requeue(item.ID, ipmi.ItemStateNotSupported, now, ipmi.ConfigError)
			continue
		}

		r := m.newRequest(requestValue, item.HostID)
		r.itemID = item.ID
		r.itemState = item.State
		r.message = ipc.MustEncode(ipc.CodeValueRequest, valueRequest(item, port))
		if err := m.schedule(r, now); err != nil {
			return 0, time.Time{}, err
		}
	}
	m.metrics.scheduled.Add(float64(len(items)))
	return len(items), nextCheck, nil
}

func valueRequest(item dcache.Item, port uint16) ipc.ValueRequest {
	return ipc.ValueRequest{
		ObjectID:  item.ID,
		Address:   item.Interface.Address,
		Port:      port,
		AuthType:  item.Interface.AuthType,
		Privilege: item.Interface.Privilege,
		Username:  item.Interface.Username,
		Password:  item.Interface.Password,
		Sensor:    item.Sensor,
	}
}

func (m *Manager) newRequest(kind requestKind, hostID uint64) *request {
	m.nextSequence++
	return &request{sequence: m.nextSequence, kind: kind, hostID: hostID}
}

// handleValueResult records a poller's reading, updates the host's
// availability, returns the item to the schedule and moves the poller
// on to its next request.
func (m *Manager) handleValueResult(client peer, message ipc.Message, now time.Time) error {
	p, r, ok := m.inFlight(client, message, requestValue)
	if !ok {
		return nil
	}

	var result ipc.Result
	if err := ipc.Decode(message, &result); err != nil {
		return fmt.Errorf("poller %d: %w", p.index, err)
	}
	ts := result.Time()

	if items := m.cache.ItemsByID([]uint64{r.itemID}); len(items) == 1 {
		switch result.ErrorCode.Availability() {
		case ipmi.AvailabilityActivate:
			m.updateHost(m.cache.ActivateHost(items[0], ts))
		case ipmi.AvailabilityDeactivate:
			m.updateHost(m.cache.DeactivateHost(items[0], ts, result.Value))
		}
	}

	// Network-level failures leave the item's state alone; the host's
	// availability already reports them.
	state := r.itemState
	switch result.ErrorCode {
	case ipmi.Succeed:
		state = ipmi.ItemStateNormal
		m.history.Submit(history.Value{ItemID: r.itemID, Timestamp: ts, State: state, Value: result.Value})
	case ipmi.NotSupported, ipmi.AgentError, ipmi.ConfigError:
		state = ipmi.ItemStateNotSupported
		m.history.Submit(history.Value{ItemID: r.itemID, Timestamp: ts, State: state, Error: result.Value})
	}
	m.cache.Requeue(r.itemID, state, ts, result.ErrorCode)

	m.metrics.polled.WithLabelValues(result.ErrorCode.String()).Inc()
	m.polled++
	p.inFlight = nil
	return m.processQueue(p, now)
}

// handleScriptRequest routes a client's command to the host's poller.
// The client is kept with the request until the result comes back.
func (m *Manager) handleScriptRequest(client peer, message ipc.Message, now time.Time) error {
	var script ipc.ScriptRequest
	if err := ipc.Decode(message, &script); err != nil {
		m.logger.Warn("invalid script request", "client", client.ID(), "error", err)
		client.Close()
		return nil
	}

	r := m.newRequest(requestCommand, script.HostID)
	r.requester = client
	r.message = ipc.MustEncode(ipc.CodeCommandRequest, script.Command)
	m.metrics.scripts.Inc()
	m.logger.Debug("script request",
		"client", client.ID(),
		"host", script.HostID,
		"control", script.Command.Control,
	)
	return m.schedule(r, now)
}

// handleCommandResult relays a poller's command result to the client
// that asked for it, if that client is still connected.
func (m *Manager) handleCommandResult(client peer, message ipc.Message, now time.Time) error {
	p, r, ok := m.inFlight(client, message, requestCommand)
	if !ok {
		return nil
	}

	requester := r.requester
	r.requester = nil
	switch {
	case !requester.Connected():
		m.metrics.relayed.WithLabelValues("disconnected").Inc()
		m.logger.Debug("script client left before its result", "client", requester.ID(), "host", r.hostID)
	default:
		if err := requester.Send(ipc.Retag(message, ipc.CodeScriptResult)); err != nil {
			m.metrics.relayed.WithLabelValues("failed").Inc()
			m.logger.Debug("relaying script result failed", "client", requester.ID(), "error", err)
		} else {
			m.metrics.relayed.WithLabelValues("delivered").Inc()
		}
	}

	p.inFlight = nil
	return m.processQueue(p, now)
}

// inFlight returns the poller behind client and its in-flight request
// if that request is of the expected kind. Results from unregistered
// clients disconnect them; stray results from a poller are logged.
func (m *Manager) inFlight(client peer, message ipc.Message, kind requestKind) (*poller, *request, bool) {
	p, ok := m.pollerFor(client)
	if !ok {
		m.logger.Warn("result from unregistered client", "client", client.ID(), "code", message.Code)
		client.Close()
		return nil, nil, false
	}
	if p.inFlight == nil || p.inFlight.kind != kind {
		m.logger.Error("unexpected result from poller", "poller", p.index, "code", message.Code)
		return nil, nil, false
	}
	return p, p.inFlight, true
}
