// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"time"

	"github.com/webeonic/treegix-sub004/lib/dcache"
	"github.com/webeonic/treegix-sub004/lib/ipc"
)

// host is the manager's cached view of a monitored host.
type host struct {
	id uint64

	// poller never changes while the entry exists.
	poller *poller

	lastCheck time.Time

	// disableUntil mirrors the host's cool-down from the availability
	// state returned by the configuration cache.
	disableUntil time.Time
}

// cacheHost returns the cache entry for hostID, creating it on the
// least loaded poller if the host is new, and marks it as used at now.
func (m *Manager) cacheHost(hostID uint64, now time.Time) *host {
	h, ok := m.hosts[hostID]
	if !ok {
		h = &host{id: hostID, poller: m.assignPoller()}
		m.hosts[hostID] = h
		m.logger.Debug("host assigned", "host", hostID, "poller", h.poller.index)
	}
	h.lastCheck = now
	return h
}

// updateHost copies the cool-down from fresh availability state.
func (m *Manager) updateHost(state dcache.Host) {
	h, ok := m.hosts[state.ID]
	if !ok {
		return
	}
	h.disableUntil = state.DisableUntil
}

// cleanup forgets hosts idle for at least the TTL and asks every
// registered poller to close its idle BMC sessions.
func (m *Manager) cleanup(now time.Time) {
	evicted := 0
	for id, h := range m.hosts {
		if now.Sub(h.lastCheck) < m.hostTTL {
			continue
		}
		m.releaseHost(h.poller)
		delete(m.hosts, id)
		evicted++
	}
	m.metrics.evicted.Add(float64(evicted))

	message := ipc.MustEncode(ipc.CodeCleanupRequest, nil)
	for _, p := range m.pollers {
		if p.client == nil {
			continue
		}
		if err := p.client.Send(message); err != nil {
			m.logger.Warn("sending cleanup request failed", "poller", p.index, "error", err)
		}
	}
	m.logger.Debug("host cleanup", "evicted", evicted, "hosts", len(m.hosts))
}
