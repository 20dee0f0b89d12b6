// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipmi

import "fmt"

// ErrorCode classifies the outcome of a hardware operation. The numeric
// values are part of the wire protocol.
type ErrorCode int32

const (
	Succeed      ErrorCode = 0
	Fail         ErrorCode = -1
	NotSupported ErrorCode = -2
	NetworkError ErrorCode = -3
	TimeoutError ErrorCode = -4
	AgentError   ErrorCode = -5
	GatewayError ErrorCode = -6
	ConfigError  ErrorCode = -7
)

func (c ErrorCode) String() string {
	switch c {
	case Succeed:
		return "SUCCEED"
	case Fail:
		return "FAIL"
	case NotSupported:
		return "NOTSUPPORTED"
	case NetworkError:
		return "NETWORK_ERROR"
	case TimeoutError:
		return "TIMEOUT_ERROR"
	case AgentError:
		return "AGENT_ERROR"
	case GatewayError:
		return "GATEWAY_ERROR"
	case ConfigError:
		return "CONFIG_ERROR"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int32(c))
	}
}

// Availability is the effect an operation outcome has on the
// reachability state of the host it ran against.
type Availability int

const (
	// AvailabilityUnchanged leaves host reachability alone.
	AvailabilityUnchanged Availability = iota
	// AvailabilityActivate marks the host reachable and ends any
	// cool-down.
	AvailabilityActivate
	// AvailabilityDeactivate starts or extends the host's cool-down.
	AvailabilityDeactivate
)

// Availability reports how an outcome with this code affects the host.
// The controller answered for Succeed, NotSupported and AgentError, so
// the host is reachable. Network, timeout and gateway failures mean it
// was not. Configuration errors say nothing about the host.
func (c ErrorCode) Availability() Availability {
	switch c {
	case Succeed, NotSupported, AgentError:
		return AvailabilityActivate
	case NetworkError, TimeoutError, GatewayError:
		return AvailabilityDeactivate
	default:
		return AvailabilityUnchanged
	}
}

// HostLevel reports whether the error concerns the host as a whole
// rather than the individual item.
func (c ErrorCode) HostLevel() bool {
	return c.Availability() == AvailabilityDeactivate
}

// ItemState is the state stored for an item alongside its values.
type ItemState uint8

const (
	ItemStateNormal       ItemState = 0
	ItemStateNotSupported ItemState = 1
)

func (s ItemState) String() string {
	switch s {
	case ItemStateNormal:
		return "normal"
	case ItemStateNotSupported:
		return "notsupported"
	default:
		return fmt.Sprintf("ItemState(%d)", uint8(s))
	}
}

// Authentication types and privilege levels as configured on a host's
// IPMI interface. The values are those of the IPMI specification and
// travel unchanged on the wire.
const (
	AuthTypeDefault  int8 = -1
	AuthTypeNone     int8 = 0
	AuthTypeMD2      int8 = 1
	AuthTypeMD5      int8 = 2
	AuthTypeStraight int8 = 4
	AuthTypeOEM      int8 = 5
	AuthTypeRMCPPlus int8 = 6

	PrivilegeCallback uint8 = 1
	PrivilegeUser     uint8 = 2
	PrivilegeOperator uint8 = 3
	PrivilegeAdmin    uint8 = 4
	PrivilegeOEM      uint8 = 5
)
