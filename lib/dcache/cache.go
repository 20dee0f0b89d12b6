// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dcache

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/webeonic/treegix-sub004/lib/ipmi"
)

// Interface is a host's IPMI interface resolved to wire values.
type Interface struct {
	Address string

	// Port is the raw port text, which may contain user macros. See
	// [Cache.ExpandPort].
	Port string

	AuthType  int8
	Privilege uint8
	Username  string
	Password  string
}

// Item is a snapshot of one polled sensor.
type Item struct {
	ID        uint64
	HostID    uint64
	Key       string
	Sensor    string
	State     ipmi.ItemState
	Delay     time.Duration
	NextCheck time.Time
	Interface Interface
}

// Options configures host availability handling.
type Options struct {
	// UnreachablePeriod is how long a host may keep failing before it
	// is declared unavailable.
	UnreachablePeriod time.Duration

	// UnreachableDelay is the cool-down after a failure while the host
	// is still only unreachable.
	UnreachableDelay time.Duration

	// UnavailableDelay is the cool-down once the host is unavailable.
	UnavailableDelay time.Duration

	Logger *slog.Logger
}

// Cache is the in-memory configuration cache.
type Cache struct {
	mu       sync.Mutex
	options  Options
	logger   *slog.Logger
	macros   map[string]string
	hosts    map[uint64]*hostEntry
	items    map[uint64]*itemEntry
	schedule scheduleHeap
}

type hostEntry struct {
	Host
	macros map[string]string
	iface  Interface
}

type itemEntry struct {
	item   Item
	queued bool
}

// New builds a cache over inventory. Every item is scheduled for its
// first slot after now.
func New(inventory *Inventory, now time.Time, options Options) *Cache {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		options: options,
		logger:  logger,
		macros:  inventory.Macros,
		hosts:   make(map[uint64]*hostEntry),
		items:   make(map[uint64]*itemEntry),
	}
	for _, hostConfig := range inventory.Hosts {
		host := &hostEntry{
			Host:   Host{ID: hostConfig.ID, Name: hostConfig.Name},
			macros: hostConfig.Macros,
			iface:  hostConfig.Interface(),
		}
		c.hosts[hostConfig.ID] = host
		for _, itemConfig := range hostConfig.Items {
			entry := &itemEntry{item: Item{
				ID:     itemConfig.ID,
				HostID: hostConfig.ID,
				Key:    itemConfig.Key,
				Sensor: itemConfig.Sensor,
				State:  ipmi.ItemStateNormal,
				Delay:  itemConfig.Delay,
			}}
			c.items[itemConfig.ID] = entry
			c.enqueueLocked(entry, nextCheck(itemConfig.ID, itemConfig.Delay, now))
		}
	}
	return c
}

// Len returns the number of hosts and items in the cache.
func (c *Cache) Len() (hosts, items int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hosts), len(c.items)
}

// DueItems removes up to limit items due at now from the schedule and
// returns them, together with the next check time of the earliest item
// still scheduled. The returned time is zero when nothing is scheduled.
func (c *Cache) DueItems(now time.Time, limit int) ([]Item, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []Item
	for len(due) < limit {
		entry := c.peekLocked()
		if entry == nil || entry.item.NextCheck.After(now) {
			break
		}
		heap.Pop(&c.schedule)
		entry.queued = false
		due = append(due, c.snapshotLocked(entry))
	}

	var next time.Time
	if entry := c.peekLocked(); entry != nil {
		next = entry.item.NextCheck
	}
	return due, next
}

// Requeue returns a polled item to the schedule with its new state.
// After a host-level failure the next check is held back until the
// host's cool-down ends.
func (c *Cache) Requeue(itemID uint64, state ipmi.ItemState, ts time.Time, code ipmi.ErrorCode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[itemID]
	if !ok {
		return
	}
	entry.item.State = state

	next := nextCheck(itemID, entry.item.Delay, ts)
	if code.HostLevel() {
		next = c.unreachableNextCheckLocked(entry, ts)
	}
	c.enqueueLocked(entry, next)
}

// RequeueUnreachable returns an item whose request was dropped because
// its host is cooling down. The item keeps its state and is scheduled
// for the first slot after the cool-down.
func (c *Cache) RequeueUnreachable(itemID uint64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[itemID]
	if !ok {
		return
	}
	c.enqueueLocked(entry, c.unreachableNextCheckLocked(entry, ts))
}

// ItemsByID returns snapshots of the items with the given ids, in the
// same order. Unknown ids are skipped.
func (c *Cache) ItemsByID(ids []uint64) []Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		if entry, ok := c.items[id]; ok {
			items = append(items, c.snapshotLocked(entry))
		}
	}
	return items
}

// HostByID returns the availability state of a host.
func (c *Cache) HostByID(id uint64) (Host, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	host, ok := c.hosts[id]
	if !ok {
		return Host{}, false
	}
	return host.Host, true
}

// HostInterface returns a host's IPMI interface.
func (c *Cache) HostInterface(id uint64) (Interface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	host, ok := c.hosts[id]
	if !ok {
		return Interface{}, false
	}
	return host.iface, true
}

// ExpandPort expands user macros in raw for the given host and parses
// the result as a port number.
func (c *Cache) ExpandPort(hostID uint64, raw string) (uint16, error) {
	c.mu.Lock()
	var hostMacros map[string]string
	if host, ok := c.hosts[hostID]; ok {
		hostMacros = host.macros
	}
	lookup := macroLookup(c.macros, hostMacros)
	c.mu.Unlock()

	return ipmi.ExpandPort(raw, lookup)
}

func (c *Cache) snapshotLocked(entry *itemEntry) Item {
	item := entry.item
	if host, ok := c.hosts[item.HostID]; ok {
		item.Interface = host.iface
	}
	return item
}

func (c *Cache) enqueueLocked(entry *itemEntry, next time.Time) {
	entry.item.NextCheck = next
	entry.queued = true
	heap.Push(&c.schedule, scheduleEntry{nextCheck: next, itemID: entry.item.ID})
}

// peekLocked returns the item at the top of the schedule, discarding
// stale heap entries on the way.
func (c *Cache) peekLocked() *itemEntry {
	for c.schedule.Len() > 0 {
		top := c.schedule[0]
		entry, ok := c.items[top.itemID]
		if ok && entry.queued && entry.item.NextCheck.Equal(top.nextCheck) {
			return entry
		}
		heap.Pop(&c.schedule)
	}
	return nil
}

func (c *Cache) unreachableNextCheckLocked(entry *itemEntry, ts time.Time) time.Time {
	next := nextCheck(entry.item.ID, entry.item.Delay, ts)
	if host, ok := c.hosts[entry.item.HostID]; ok {
		step := time.Duration(period(entry.item.Delay)) * time.Second
		for next.Before(host.DisableUntil) {
			next = next.Add(step)
		}
	}
	return next
}

// nextCheck returns the first whole second after from at which the
// item is due. Items are spread across their delay by id so that items
// sharing a delay do not all fall due together.
func nextCheck(itemID uint64, delay time.Duration, from time.Time) time.Time {
	step := period(delay)
	base := from.Unix()
	next := base - base%step + int64(itemID%uint64(step))
	for next <= base {
		next += step
	}
	return time.Unix(next, 0)
}

// period is the item delay in whole seconds, at least one.
func period(delay time.Duration) int64 {
	return max(int64(delay/time.Second), 1)
}

type scheduleEntry struct {
	nextCheck time.Time
	itemID    uint64
}

// scheduleHeap is a min-heap of scheduled items ordered by next check
// time, then item id. Entries are deleted lazily: a popped entry is
// only acted on if it still matches the item's current schedule.
type scheduleHeap []scheduleEntry

func (h scheduleHeap) Len() int { return len(h) }

func (h scheduleHeap) Less(i, j int) bool {
	if !h[i].nextCheck.Equal(h[j].nextCheck) {
		return h[i].nextCheck.Before(h[j].nextCheck)
	}
	return h[i].itemID < h[j].itemID
}

func (h scheduleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *scheduleHeap) Push(x any)   { *h = append(*h, x.(scheduleEntry)) }
func (h *scheduleHeap) Pop() any {
	old := *h
	entry := old[len(old)-1]
	*h = old[:len(old)-1]
	return entry
}
