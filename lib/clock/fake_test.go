// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(25 * time.Hour)
	if got, want := clock.Now(), epoch.Add(25*time.Hour); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAfterFiresAtDeadline(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(5 * time.Second)

	clock.Advance(4 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	clock.Advance(time.Second)
	select {
	case fired := <-channel:
		if !fired.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("fired at %v, want %v", fired, epoch.Add(5*time.Second))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if clock.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after firing, want 0", clock.PendingCount())
	}
}

func TestFakeClockAfterNonPositive(t *testing.T) {
	clock := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-clock.After(d):
		default:
			t.Errorf("After(%v) should be ready immediately", d)
		}
	}
	if clock.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", clock.PendingCount())
	}
}

func TestFakeClockSleepWakesOnAdvance(t *testing.T) {
	clock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		clock.Sleep(time.Minute)
		close(done)
	}()

	clock.WaitForTimers(1)
	clock.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestFakeClockSleepNonPositiveReturns(t *testing.T) {
	clock := Fake(epoch)
	clock.Sleep(0)
	clock.Sleep(-time.Second)
}

func TestFakeClockConcurrentWaiters(t *testing.T) {
	clock := Fake(epoch)
	const sleepers = 8

	var wg sync.WaitGroup
	for index := range sleepers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Sleep(time.Duration(index+1) * time.Second)
		}()
	}

	clock.WaitForTimers(sleepers)
	clock.Advance(sleepers * time.Second)

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("not every sleeper woke up")
	}
}

func TestClocksImplementInterface(t *testing.T) {
	var _ Clock = Fake(epoch)
	var _ Clock = Real()
}
