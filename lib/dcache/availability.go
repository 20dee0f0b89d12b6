// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dcache

import (
	"fmt"
	"time"
)

// Availability is a host's IPMI reachability.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	Available
	Unavailable
)

func (a Availability) String() string {
	switch a {
	case AvailabilityUnknown:
		return "unknown"
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("Availability(%d)", int(a))
	}
}

// Host is a snapshot of a host's availability state.
type Host struct {
	ID        uint64
	Name      string
	Available Availability

	// ErrorsFrom is when the current run of network failures began.
	// Zero while the host answers.
	ErrorsFrom time.Time

	// DisableUntil is the end of the host's cool-down. Value requests
	// for the host are not sent before it.
	DisableUntil time.Time

	// Error is the last network-level error text.
	Error string
}

// ActivateHost records a successful exchange with the item's host and
// ends any cool-down.
func (c *Cache) ActivateHost(item Item, ts time.Time) Host {
	c.mu.Lock()
	defer c.mu.Unlock()

	host, ok := c.hosts[item.HostID]
	if !ok {
		return Host{ID: item.HostID}
	}

	switch {
	case host.Available == Unavailable:
		c.logger.Warn("resuming IPMI checks on host: connection restored",
			"host", host.Name, "host_id", host.ID)
	case !host.ErrorsFrom.IsZero():
		c.logger.Warn("enabling IPMI checks on host: host became available",
			"host", host.Name, "host_id", host.ID)
	}

	host.Available = Available
	host.ErrorsFrom = time.Time{}
	host.DisableUntil = time.Time{}
	host.Error = ""
	return host.Host
}

// DeactivateHost records a network-level failure of the item's host at
// ts and starts or extends its cool-down.
func (c *Cache) DeactivateHost(item Item, ts time.Time, reason string) Host {
	c.mu.Lock()
	defer c.mu.Unlock()

	host, ok := c.hosts[item.HostID]
	if !ok {
		return Host{ID: item.HostID}
	}

	switch {
	case host.ErrorsFrom.IsZero():
		host.ErrorsFrom = ts
		host.DisableUntil = ts.Add(c.options.UnreachableDelay)
		c.logger.Warn("IPMI item failed: first network error",
			"item", item.Key, "host", host.Name, "host_id", host.ID,
			"wait", c.options.UnreachableDelay, "error", reason)
	case host.Available != Unavailable && ts.Sub(host.ErrorsFrom) < c.options.UnreachablePeriod:
		host.DisableUntil = ts.Add(c.options.UnreachableDelay)
		c.logger.Warn("IPMI item failed: another network error",
			"item", item.Key, "host", host.Name, "host_id", host.ID,
			"wait", c.options.UnreachableDelay, "error", reason)
	default:
		if host.Available != Unavailable {
			c.logger.Warn("temporarily disabling IPMI checks on host: host unavailable",
				"host", host.Name, "host_id", host.ID,
				"failing_for", ts.Sub(host.ErrorsFrom), "error", reason)
		}
		host.Available = Unavailable
		host.DisableUntil = ts.Add(c.options.UnavailableDelay)
	}
	host.Error = reason
	return host.Host
}
