// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dcache

import (
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/webeonic/treegix-sub004/lib/ipmi"
)

// epoch is aligned to a whole minute, so an item's first check is
// epoch plus its id modulo its delay in seconds.
var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return epoch.Add(time.Duration(seconds) * time.Second)
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	return New(parseTestInventory(t), epoch, Options{
		UnreachablePeriod: 45 * time.Second,
		UnreachableDelay:  15 * time.Second,
		UnavailableDelay:  60 * time.Second,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func itemIDs(items []Item) []uint64 {
	ids := make([]uint64, len(items))
	for index, item := range items {
		ids[index] = item.ID
	}
	return ids
}

func requireItem(t *testing.T, cache *Cache, id uint64) Item {
	t.Helper()
	items := cache.ItemsByID([]uint64{id})
	if len(items) != 1 {
		t.Fatalf("item %d not found", id)
	}
	return items[0]
}

func TestDueItemsOrder(t *testing.T) {
	cache := newTestCache(t)

	due, next := cache.DueItems(epoch, 128)
	if len(due) != 0 {
		t.Fatalf("items due at load time: %v", itemIDs(due))
	}
	if !next.Equal(at(5)) {
		t.Errorf("next check = %v, want %v", next, at(5))
	}

	due, next = cache.DueItems(at(13), 128)
	if want := []uint64{28010, 28001, 28003}; !slices.Equal(itemIDs(due), want) {
		t.Errorf("due = %v, want %v", itemIDs(due), want)
	}
	if !next.Equal(at(42)) {
		t.Errorf("next check = %v, want %v", next, at(42))
	}

	first := due[1]
	if first.HostID != 1 || first.Sensor != "CPU Temp" || first.Key != "ipmi.cpu_temp" {
		t.Errorf("item = %+v", first)
	}
	if first.Interface.Address != "10.0.0.5" || first.Interface.Username != "monitor" {
		t.Errorf("interface = %+v", first.Interface)
	}
}

func TestDueItemsLimit(t *testing.T) {
	cache := newTestCache(t)

	due, next := cache.DueItems(at(60), 2)
	if want := []uint64{28010, 28001}; !slices.Equal(itemIDs(due), want) {
		t.Fatalf("due = %v, want %v", itemIDs(due), want)
	}
	if !next.Equal(at(13)) {
		t.Errorf("next check = %v, want the first item left behind", next)
	}
}

func TestHandedOutItemsWaitForRequeue(t *testing.T) {
	cache := newTestCache(t)

	due, _ := cache.DueItems(at(11), 128)
	if !slices.Contains(itemIDs(due), 28001) {
		t.Fatalf("due = %v, want 28001", itemIDs(due))
	}

	due, _ = cache.DueItems(at(600), 128)
	if slices.Contains(itemIDs(due), 28001) {
		t.Fatal("item handed out twice without being requeued")
	}

	cache.Requeue(28001, ipmi.ItemStateNormal, at(600), ipmi.Succeed)
	due, _ = cache.DueItems(at(700), 128)
	if !slices.Contains(itemIDs(due), 28001) {
		t.Errorf("requeued item not due again: %v", itemIDs(due))
	}
}

func TestRequeue(t *testing.T) {
	cache := newTestCache(t)
	cache.DueItems(at(13), 128)

	cache.Requeue(28001, ipmi.ItemStateNotSupported, at(12), ipmi.NotSupported)
	item := requireItem(t, cache, 28001)
	if item.State != ipmi.ItemStateNotSupported {
		t.Errorf("state = %s, want notsupported", item.State)
	}
	if !item.NextCheck.Equal(at(41)) {
		t.Errorf("next check = %v, want %v", item.NextCheck, at(41))
	}

	// A duplicate requeue leaves a single schedule entry.
	cache.Requeue(28001, ipmi.ItemStateNormal, at(12), ipmi.Succeed)
	due, _ := cache.DueItems(at(45), 128)
	count := 0
	for _, id := range itemIDs(due) {
		if id == 28001 {
			count++
		}
	}
	if count != 1 {
		t.Errorf("item 28001 handed out %d times, want 1", count)
	}
	if due[0].State != ipmi.ItemStateNormal {
		t.Errorf("state = %s, want the latest requeue to win", due[0].State)
	}
}

func TestRequeueWaitsForCoolDown(t *testing.T) {
	cache := newTestCache(t)
	due, _ := cache.DueItems(at(5), 128)
	item := due[0]

	host := cache.DeactivateHost(item, at(12), "timed out")
	if !host.DisableUntil.Equal(at(27)) {
		t.Fatalf("disable until = %v, want %v", host.DisableUntil, at(27))
	}

	cache.Requeue(item.ID, ipmi.ItemStateNormal, at(12), ipmi.TimeoutError)
	if next := requireItem(t, cache, item.ID).NextCheck; !next.Equal(at(30)) {
		t.Errorf("next check after host-level failure = %v, want %v", next, at(30))
	}

	cache.DueItems(at(30), 128)
	cache.RequeueUnreachable(item.ID, at(12))
	if next := requireItem(t, cache, item.ID).NextCheck; !next.Equal(at(30)) {
		t.Errorf("next check after dropped request = %v, want %v", next, at(30))
	}
}

func TestAvailabilityStateMachine(t *testing.T) {
	cache := newTestCache(t)
	item := requireItem(t, cache, 28001)

	host := cache.DeactivateHost(item, at(0), "connection refused")
	if !host.ErrorsFrom.Equal(at(0)) || !host.DisableUntil.Equal(at(15)) {
		t.Errorf("first error: errors from %v, disable until %v", host.ErrorsFrom, host.DisableUntil)
	}
	if host.Available == Unavailable {
		t.Error("host unavailable after the first error")
	}

	host = cache.DeactivateHost(item, at(20), "connection refused")
	if !host.DisableUntil.Equal(at(35)) || host.Available == Unavailable {
		t.Errorf("second error: disable until %v, available %s", host.DisableUntil, host.Available)
	}
	if !host.ErrorsFrom.Equal(at(0)) {
		t.Errorf("errors from moved to %v", host.ErrorsFrom)
	}

	host = cache.DeactivateHost(item, at(50), "connection refused")
	if host.Available != Unavailable || !host.DisableUntil.Equal(at(110)) {
		t.Errorf("past the unreachable period: available %s, disable until %v", host.Available, host.DisableUntil)
	}

	host = cache.DeactivateHost(item, at(120), "connection refused")
	if host.Available != Unavailable || !host.DisableUntil.Equal(at(180)) {
		t.Errorf("while unavailable: available %s, disable until %v", host.Available, host.DisableUntil)
	}
	if host.Error != "connection refused" {
		t.Errorf("error = %q", host.Error)
	}

	host = cache.ActivateHost(item, at(200))
	if host.Available != Available || !host.ErrorsFrom.IsZero() || !host.DisableUntil.IsZero() || host.Error != "" {
		t.Errorf("after activation: %+v", host)
	}

	stored, ok := cache.HostByID(1)
	if !ok || stored != host {
		t.Errorf("HostByID = %+v, %v; want %+v", stored, ok, host)
	}

	// Hosts share nothing.
	other, _ := cache.HostByID(2)
	if other.Available != AvailabilityUnknown {
		t.Errorf("other host availability = %s", other.Available)
	}
}

func TestUnknownHostAndItem(t *testing.T) {
	cache := newTestCache(t)

	host := cache.ActivateHost(Item{ID: 1, HostID: 99}, epoch)
	if host.ID != 99 || host.Available != AvailabilityUnknown {
		t.Errorf("unknown host = %+v", host)
	}
	if _, ok := cache.HostByID(99); ok {
		t.Error("unknown host was created")
	}
	if _, ok := cache.HostInterface(99); ok {
		t.Error("unknown host has an interface")
	}

	// Unknown items are ignored.
	cache.Requeue(12345, ipmi.ItemStateNormal, epoch, ipmi.Succeed)
	cache.RequeueUnreachable(12345, epoch)
	if items := cache.ItemsByID([]uint64{12345, 28002}); len(items) != 1 || items[0].ID != 28002 {
		t.Errorf("ItemsByID = %v", itemIDs(items))
	}

	hosts, items := cache.Len()
	if hosts != 2 || items != 4 {
		t.Errorf("Len = %d hosts, %d items; want 2, 4", hosts, items)
	}
}

func TestCacheExpandPort(t *testing.T) {
	cache := newTestCache(t)

	iface, ok := cache.HostInterface(2)
	if !ok {
		t.Fatal("host 2 has no interface")
	}
	if _, err := cache.ExpandPort(2, iface.Port); err == nil {
		t.Error("host 2 port expanded, want an error for the nested macro")
	}
	port, err := cache.ExpandPort(1, "{$IPMI_PORT}")
	if err != nil || port != 623 {
		t.Errorf("port = %d, %v; want 623", port, err)
	}
}

func TestNextCheck(t *testing.T) {
	tests := []struct {
		itemID uint64
		delay  time.Duration
		from   time.Time
		want   time.Time
	}{
		{28001, 30 * time.Second, epoch, at(11)},
		{28001, 30 * time.Second, at(11), at(41)},
		{28001, 30 * time.Second, at(10), at(11)},
		{28002, time.Minute, at(42), at(102)},
		{7, 500 * time.Millisecond, at(3), at(4)},
		{7, 0, epoch.Add(300 * time.Millisecond), at(1)},
	}
	for _, test := range tests {
		if got := nextCheck(test.itemID, test.delay, test.from); !got.Equal(test.want) {
			t.Errorf("nextCheck(%d, %v, %v) = %v, want %v", test.itemID, test.delay, test.from, got, test.want)
		}
	}
}
