// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"container/heap"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/dcache"
	"github.com/webeonic/treegix-sub004/lib/history"
	"github.com/webeonic/treegix-sub004/lib/ipc"
	"github.com/webeonic/treegix-sub004/lib/ipmi"
	"github.com/webeonic/treegix-sub004/lib/service"
)

// scheduler is the configuration cache as the manager uses it.
// *dcache.Cache implements it.
type scheduler interface {
	DueItems(now time.Time, limit int) ([]dcache.Item, time.Time)
	Requeue(itemID uint64, state ipmi.ItemState, ts time.Time, code ipmi.ErrorCode)
	RequeueUnreachable(itemID uint64, ts time.Time)
	ActivateHost(item dcache.Item, ts time.Time) dcache.Host
	DeactivateHost(item dcache.Item, ts time.Time, reason string) dcache.Host
	ItemsByID(ids []uint64) []dcache.Item
	ExpandPort(hostID uint64, raw string) (uint16, error)
}

// valueSink receives polled values. *history.Store implements it.
type valueSink interface {
	Submit(value history.Value)
	Flush(ctx context.Context) error
}

// eventSource delivers client messages. *service.Service implements it.
type eventSource interface {
	Recv(ctx context.Context, timeout time.Duration) (service.Event, bool, error)
}

// Config holds the manager's parameters and collaborators.
type Config struct {
	// Pollers is the size of the poller pool.
	Pollers int

	// ParentPID is the parent process id registering pollers must
	// present.
	ParentPID int64

	// ParentOf returns the parent of a connected process, by its
	// kernel-reported pid. Defaults to reading /proc.
	ParentOf func(pid int32) (int64, error)

	ManagerDelay    time.Duration
	CleanupInterval time.Duration
	HostTTL         time.Duration
	MaxBatch        int
	StatusInterval  time.Duration

	Cache   scheduler
	History valueSink
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Manager is the dispatcher state. It is owned by the goroutine
// running Run; none of its methods are safe for concurrent use.
type Manager struct {
	clock   clock.Clock
	logger  *slog.Logger
	cache   scheduler
	history valueSink
	metrics *managerMetrics

	parentPID       int64
	parentOf        func(pid int32) (int64, error)
	managerDelay    time.Duration
	cleanupInterval time.Duration
	hostTTL         time.Duration
	maxBatch        int
	statusInterval  time.Duration

	pollers         []*poller
	pollersByClient map[uint64]*poller
	load            loadHeap
	nextPoller      int

	hosts        map[uint64]*host
	nextSequence uint64

	// Counters for the periodic status line, reset on every report.
	statusStart time.Time
	scheduled   int
	polled      int
	idle        time.Duration
}

// New builds a manager with an empty pool of cfg.Pollers slots.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parentOf := cfg.ParentOf
	if parentOf == nil {
		parentOf = procParent
	}
	m := &Manager{
		clock:           cfg.Clock,
		logger:          logger,
		cache:           cfg.Cache,
		history:         cfg.History,
		metrics:         newManagerMetrics(),
		parentPID:       cfg.ParentPID,
		parentOf:        parentOf,
		managerDelay:    cfg.ManagerDelay,
		cleanupInterval: cfg.CleanupInterval,
		hostTTL:         cfg.HostTTL,
		maxBatch:        cfg.MaxBatch,
		statusInterval:  cfg.StatusInterval,
		pollersByClient: make(map[uint64]*poller),
		hosts:           make(map[uint64]*host),
	}
	for index := range cfg.Pollers {
		p := &poller{index: index}
		m.pollers = append(m.pollers, p)
		heap.Push(&m.load, p)
	}
	return m
}

// MetricsHandler serves the manager's Prometheus metrics.
func (m *Manager) MetricsHandler() http.Handler {
	return m.metrics.Handler()
}

// Run is the dispatch loop. It schedules due items, waits for the next
// message for at most the time until the next item is due (capped at
// the manager delay), handles it, and runs the periodic cleanup. It
// returns nil when ctx is cancelled and an error on any fatal
// condition.
func (m *Manager) Run(ctx context.Context, events eventSource) error {
	start := m.clock.Now()
	m.statusStart = start
	nextCleanup := start.Add(m.cleanupInterval)

	for {
		now := m.clock.Now()
		m.reportStatus(now)

		scheduled, nextCheck, err := m.scheduleDue(now)
		if err != nil {
			return err
		}
		m.scheduled += scheduled
		if err := m.history.Flush(ctx); err != nil {
			m.logger.Error("flushing history failed", "error", err)
		}

		timeout := m.managerDelay
		if !nextCheck.IsZero() {
			timeout = min(max(nextCheck.Sub(now), 0), m.managerDelay)
		}

		event, ok, err := events.Recv(ctx, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ok {
			if err := m.handle(event.Client, event.Message, now); err != nil {
				return err
			}
		} else {
			m.idle += m.clock.Now().Sub(now)
		}

		if !now.Before(nextCleanup) {
			m.cleanup(now)
			nextCleanup = now.Add(m.cleanupInterval)
		}
		m.metrics.observe(m)
	}
}

// handle dispatches one message by code.
func (m *Manager) handle(client peer, message ipc.Message, now time.Time) error {
	switch message.Code {
	case ipc.CodeRegister:
		return m.registerPoller(client, message, now)
	case ipc.CodeValueResult:
		return m.handleValueResult(client, message, now)
	case ipc.CodeScriptRequest:
		return m.handleScriptRequest(client, message, now)
	case ipc.CodeCommandResult:
		return m.handleCommandResult(client, message, now)
	default:
		m.logger.Warn("unexpected message", "client", client.ID(), "code", message.Code)
		client.Close()
		return nil
	}
}

// reportStatus logs the counters once per status interval.
func (m *Manager) reportStatus(now time.Time) {
	elapsed := now.Sub(m.statusStart)
	if elapsed <= m.statusInterval {
		return
	}
	m.logger.Info("manager status",
		"scheduled", m.scheduled,
		"polled", m.polled,
		"idle", m.idle.Round(time.Millisecond).String(),
		"period", elapsed.Round(time.Millisecond).String(),
		"hosts", len(m.hosts),
	)
	m.statusStart = now
	m.scheduled = 0
	m.polled = 0
	m.idle = 0
}
