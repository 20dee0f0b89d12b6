// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bmc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ErrIdle is returned by Driver.PerformOne when no event arrived within
// the timeout.
var ErrIdle = errors.New("no hardware library event")

// Target holds the connection parameters of one BMC session.
type Target struct {
	Address   string
	Port      uint16
	AuthType  int8
	Privilege uint8
	Username  string
	Password  string
}

// String returns "[address]:port", the form used in error messages.
func (t Target) String() string {
	return fmt.Sprintf("[%s]:%d", t.Address, t.Port)
}

// Fingerprint identifies the session the target needs. Two targets
// share a session only if every connection parameter matches. The
// password takes part in the hash but cannot be recovered from it, so
// the fingerprint is safe to log.
func (t Target) Fingerprint() string {
	var builder strings.Builder
	for _, field := range []string{
		t.Address,
		strconv.FormatUint(uint64(t.Port), 10),
		strconv.FormatInt(int64(t.AuthType), 10),
		strconv.FormatUint(uint64(t.Privilege), 10),
		t.Username,
		t.Password,
	} {
		builder.WriteString(strconv.Itoa(len(field)))
		builder.WriteByte(':')
		builder.WriteString(field)
	}
	sum := blake3.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:16])
}

// Driver is the hardware-session library. Every callback a driver
// invokes runs on the goroutine calling PerformOne, and a driver is not
// safe for concurrent use.
type Driver interface {
	// Open starts connecting to target. up is called once, from
	// PerformOne, with the usable domain or the connection error. An
	// error from Open itself means the attempt could not be started
	// and up will not be called.
	Open(target Target, up func(Domain, error)) error

	// PerformOne waits up to timeout for one library event and
	// dispatches its callbacks. It returns ErrIdle if nothing happened.
	PerformOne(timeout time.Duration) error
}

// Domain is an open session with one controller.
type Domain interface {
	Sensors() []Sensor
	Controls() []Control

	// Close starts closing the session. closed is called from
	// PerformOne when it is done.
	Close(closed func()) error
}

// SensorKind is the reading type of a sensor.
type SensorKind uint8

const (
	// SensorThreshold sensors report an analog reading.
	SensorThreshold SensorKind = iota
	// SensorDiscrete sensors report a set of asserted states.
	SensorDiscrete
)

// Reading is the value a sensor reports. Value is set for threshold
// sensors, States for discrete sensors (bit n set means state n is
// asserted).
type Reading struct {
	Value  float64
	States uint64
}

// Sensor is a readable hardware value.
type Sensor interface {
	ID() string
	FullName() string
	Kind() SensorKind
	Read(done func(Reading, error)) error
}

// Control is a writable hardware setting.
type Control interface {
	ID() string
	FullName() string
	Settable() bool
	Read(done func(int, error)) error
	Set(value int, done func(error)) error
}
