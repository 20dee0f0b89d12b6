// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/prometheus/procfs"

	"github.com/webeonic/treegix-sub004/lib/ipc"
	"github.com/webeonic/treegix-sub004/lib/ipmi"
	"github.com/webeonic/treegix-sub004/lib/service"
)

// peer is a connected client as seen by the manager: a registered
// poller or a script requester. *service.Client implements it.
type peer interface {
	ID() uint64
	Credentials() service.Credentials
	Connected() bool
	Send(message ipc.Message) error
	Close() error
}

type requestKind int

const (
	requestValue requestKind = iota
	requestCommand
)

func (k requestKind) String() string {
	if k == requestCommand {
		return "command"
	}
	return "value"
}

// priority orders a poller's queue. Lower runs first.
func (k requestKind) priority() int {
	if k == requestCommand {
		return 0
	}
	return 1
}

// request is one unit of work routed to a poller.
type request struct {
	sequence uint64
	kind     requestKind
	hostID   uint64
	message  ipc.Message

	// Value requests only.
	itemID    uint64
	itemState ipmi.ItemState

	// requester is the script client waiting for a command's result.
	// It is dropped once the result has been relayed or discarded.
	requester peer
}

// poller is one pool slot.
type poller struct {
	index int

	// client is nil until a poller process registers for this slot.
	client peer

	inFlight *request
	queue    requestHeap

	// hosts is the number of cached hosts assigned to this poller.
	hosts int

	// loadIndex is the poller's position in the manager's load heap.
	loadIndex int
}

func (p *poller) idle() bool {
	return p.client != nil && p.inFlight == nil
}

// requestHeap is a min-heap of requests ordered by kind priority, then
// by submission sequence. Implements container/heap.Interface.
type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if pi, pj := h[i].kind.priority(), h[j].kind.priority(); pi != pj {
		return pi < pj
	}
	return h[i].sequence < h[j].sequence
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x any)   { *h = append(*h, x.(*request)) }
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// loadHeap is a min-heap of pollers ordered by assigned host count,
// ties broken by pool index. Implements container/heap.Interface.
type loadHeap []*poller

func (h loadHeap) Len() int { return len(h) }

func (h loadHeap) Less(i, j int) bool {
	if h[i].hosts != h[j].hosts {
		return h[i].hosts < h[j].hosts
	}
	return h[i].index < h[j].index
}

func (h loadHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].loadIndex = i
	h[j].loadIndex = j
}

func (h *loadHeap) Push(x any) {
	p := x.(*poller)
	p.loadIndex = len(*h)
	*h = append(*h, p)
}

func (h *loadHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.loadIndex = -1
	*h = old[:n-1]
	return p
}

// registerPoller binds a registering process to the next free pool
// slot. A process whose parent differs from the manager's is refused
// and disconnected. The parent it reports must agree with the parent
// of its kernel-reported pid. Running out of slots is fatal: the daemon starts
// exactly as many pollers as the pool has.
func (m *Manager) registerPoller(client peer, message ipc.Message, now time.Time) error {
	var registration ipc.Register
	if err := ipc.Decode(message, &registration); err != nil {
		m.logger.Warn("invalid poller registration", "client", client.ID(), "error", err)
		client.Close()
		return nil
	}
	if registration.ParentPID != m.parentPID {
		m.logger.Warn("refusing connection from foreign process",
			"client", client.ID(),
			"pid", client.Credentials().PID,
			"parent_pid", registration.ParentPID,
		)
		client.Close()
		return nil
	}
	pid := client.Credentials().PID
	actual, err := m.parentOf(pid)
	if err != nil || actual != registration.ParentPID {
		m.logger.Warn("refusing poller whose parent does not match its registration",
			"client", client.ID(),
			"pid", pid,
			"parent_pid", registration.ParentPID,
			"actual_parent_pid", actual,
			"error", err,
		)
		client.Close()
		return nil
	}
	if _, ok := m.pollersByClient[client.ID()]; ok {
		m.logger.Warn("poller registered twice", "client", client.ID())
		return nil
	}
	if m.nextPoller == len(m.pollers) {
		return fmt.Errorf("poller pool exhausted: all %d slots are registered", len(m.pollers))
	}

	p := m.pollers[m.nextPoller]
	m.nextPoller++
	p.client = client
	m.pollersByClient[client.ID()] = p

	m.logger.Info("poller registered",
		"poller", p.index,
		"pid", client.Credentials().PID,
		"queued", p.queue.Len(),
	)
	m.metrics.registered.Inc()
	return m.processQueue(p, now)
}

// procParent reads the parent pid of pid from /proc/<pid>/stat.
func procParent(pid int32) (int64, error) {
	proc, err := procfs.NewProc(int(pid))
	if err != nil {
		return 0, fmt.Errorf("looking up process %d: %w", pid, err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, fmt.Errorf("reading stat of process %d: %w", pid, err)
	}
	return int64(stat.PPID), nil
}

// pollerFor returns the registered poller behind client.
func (m *Manager) pollerFor(client peer) (*poller, bool) {
	p, ok := m.pollersByClient[client.ID()]
	return p, ok
}

// assignPoller picks the least loaded poller for a new host and counts
// the host against it.
func (m *Manager) assignPoller() *poller {
	p := m.load[0]
	p.hosts++
	heap.Fix(&m.load, p.loadIndex)
	return p
}

// releaseHost uncounts an evicted host from its poller.
func (m *Manager) releaseHost(p *poller) {
	p.hosts--
	heap.Fix(&m.load, p.loadIndex)
}

// schedule queues r on the poller that owns its host and sends it
// right away if that poller is idle.
func (m *Manager) schedule(r *request, now time.Time) error {
	h := m.cacheHost(r.hostID, now)
	heap.Push(&h.poller.queue, r)
	return m.processQueue(h.poller, now)
}

// processQueue sends the next queued request to p if p is idle. Value
// requests for hosts that are cooling down are dropped on the way and
// their items returned to the schedule.
func (m *Manager) processQueue(p *poller, now time.Time) error {
	if !p.idle() {
		return nil
	}
	for p.queue.Len() > 0 {
		r := heap.Pop(&p.queue).(*request)
		if r.kind == requestValue {
			h, ok := m.hosts[r.hostID]
			if !ok {
				// Evicted while queued. Put the item back on its normal
				// interval; the next request re-caches the host.
				m.logger.Warn("dropping request for evicted host", "host", r.hostID, "item", r.itemID)
				m.cache.Requeue(r.itemID, r.itemState, now, ipmi.Succeed)
				continue
			}
			if now.Before(h.disableUntil) {
				m.cache.RequeueUnreachable(r.itemID, now)
				m.metrics.dropped.Inc()
				continue
			}
		}
		return m.send(p, r)
	}
	return nil
}

// send hands r to p. A poller that cannot be written to leaves its
// hosts unserviceable, so the failure is fatal.
func (m *Manager) send(p *poller, r *request) error {
	if err := p.client.Send(r.message); err != nil {
		return fmt.Errorf("sending %s request to poller %d: %w", r.kind, p.index, err)
	}
	p.inFlight = r
	return nil
}
