// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bmc

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/ipmi"
)

// discreteStates is the number of states a discrete sensor can report.
const discreteStates = 15

// Error is a failed hardware operation, classified for the manager.
type Error struct {
	Code    ipmi.ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

// CodeOf returns the error code to report for err: Succeed for nil,
// the carried code for an *Error, AgentError for anything else.
func CodeOf(err error) ipmi.ErrorCode {
	if err == nil {
		return ipmi.Succeed
	}
	var bmcError *Error
	if errors.As(err, &bmcError) {
		return bmcError.Code
	}
	return ipmi.AgentError
}

func newError(code ipmi.ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// errTimedOut is returned by await when the operation did not complete.
var errTimedOut = errors.New("timed out")

// Registry is the per-process cache of open BMC sessions. It is owned
// by the poller's main goroutine and is not safe for concurrent use.
type Registry struct {
	driver   Driver
	clock    clock.Clock
	timeout  time.Duration
	logger   *slog.Logger
	sessions map[string]*session
}

// session is a cached connection to one BMC. It is cached as soon as
// the connect starts: domain stays nil until the driver reports the
// connection up, and a connect that outlives the operation timeout is
// finished by a later poll instead of being started again.
type session struct {
	target     Target
	domain     Domain
	lastAccess time.Time

	// connecting is set until the driver reports the outcome, which is
	// also delivered once on up.
	connecting bool
	up         chan error
}

// NewRegistry creates a registry that runs every operation through
// driver, bounded by timeout. A nil driver is accepted: every
// operation then fails the way an uninitialised hardware library does.
func NewRegistry(driver Driver, clk clock.Clock, timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		driver:   driver,
		clock:    clk,
		timeout:  timeout,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Len returns the number of cached sessions, including those still
// connecting.
func (r *Registry) Len() int { return len(r.sessions) }

// ReadValue reads the sensor named by sensor (optionally prefixed with
// "id:" or "name:") from target. When no sensor matches, a control with
// that name is read instead.
func (r *Registry) ReadValue(target Target, sensor string) (string, error) {
	if r.driver == nil {
		return "", newError(ipmi.ConfigError, "IPMI handler is not initialised.")
	}

	current, err := r.open(target)
	if err != nil {
		return "", err
	}

	name, lookup := ipmi.ParseSensorName(sensor)
	if found := findSensor(current.domain, name, lookup); found != nil {
		return r.readSensor(current, found)
	}
	if found := findControl(current.domain, name, lookup); found != nil {
		return r.readControl(current, found)
	}
	return "", newError(ipmi.NotSupported, "sensor or control %s@[%s]:%d does not exist",
		sensor, target.Address, target.Port)
}

// SetControl sets the control named by control on target to value.
func (r *Registry) SetControl(target Target, control string, value int) error {
	if r.driver == nil {
		return newError(ipmi.NotSupported, "IPMI handler is not initialised.")
	}

	current, err := r.open(target)
	if err != nil {
		return err
	}

	name, lookup := ipmi.ParseSensorName(control)
	found := findControl(current.domain, name, lookup)
	if found == nil {
		return newError(ipmi.NotSupported, "Control \"%s\" at address \"%s:%d\" does not exist.",
			control, target.Address, target.Port)
	}
	if !found.Settable() {
		return newError(ipmi.NotSupported, "control is not settable")
	}

	done := make(chan error, 1)
	if err := found.Set(value, func(err error) { done <- err }); err != nil {
		return newError(ipmi.NotSupported, "Cannot set control %s. %v", found.ID(), err)
	}
	setErr, err := await(r, done)
	if err != nil {
		return r.fail(current, "setting control "+found.ID(), err)
	}
	if setErr != nil {
		return newError(ipmi.NotSupported, "error while setting control: %v", setErr)
	}
	return nil
}

// Pump services library events until none arrives for idle. Pollers
// call it between messages so asynchronous library work keeps moving.
func (r *Registry) Pump(idle time.Duration) {
	if r.driver == nil {
		return
	}
	for {
		err := r.driver.PerformOne(idle)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrIdle) {
			r.logger.Warn("hardware library event processing failed", "error", err)
		}
		return
	}
}

// CloseInactive closes every session not used within limit and returns
// how many were closed.
func (r *Registry) CloseInactive(limit time.Duration) int {
	now := r.clock.Now()
	closed := 0
	for key, current := range r.sessions {
		if current.connecting || now.Sub(current.lastAccess) <= limit {
			continue
		}
		r.closeSession(current)
		delete(r.sessions, key)
		closed++
	}
	if closed > 0 {
		r.logger.Info("closed inactive BMC sessions", "count", closed, "remaining", len(r.sessions))
	}
	return closed
}

// Close closes every session.
func (r *Registry) Close() {
	for key, current := range r.sessions {
		r.closeSession(current)
		delete(r.sessions, key)
	}
}

func (r *Registry) open(target Target) (*session, error) {
	key := target.Fingerprint()
	current, ok := r.sessions[key]
	if !ok {
		current = &session{target: target, connecting: true, up: make(chan error, 1)}
		r.sessions[key] = current
		err := r.driver.Open(target, func(domain Domain, err error) {
			r.connected(key, current, domain, err)
		})
		if err != nil {
			delete(r.sessions, key)
			return nil, newError(ipmi.NetworkError, "Cannot connect to IPMI host %s. %v", target, err)
		}
	}
	current.lastAccess = r.clock.Now()
	if !current.connecting {
		return current, nil
	}

	connectErr, err := await(r, current.up)
	if errors.Is(err, errTimedOut) {
		return nil, newError(ipmi.TimeoutError, "Cannot connect to IPMI host %s. Connection timed out.", target)
	}
	if err != nil {
		return nil, newError(ipmi.AgentError, "Cannot connect to IPMI host %s. %v", target, err)
	}
	if connectErr != nil {
		return nil, newError(ipmi.NetworkError, "cannot connect to IPMI host: %v", connectErr)
	}
	return current, nil
}

// connected is the driver's connection callback for current. It may
// run long after the open that started the connect has timed out.
func (r *Registry) connected(key string, current *session, domain Domain, err error) {
	current.connecting = false
	if err != nil {
		if r.sessions[key] == current {
			delete(r.sessions, key)
		}
		r.logger.Debug("BMC connection failed", "target", current.target.String(), "error", err)
	} else {
		current.domain = domain
		r.logger.Debug("opened BMC session", "target", current.target.String(), "session", key)
	}
	current.up <- err
}

func (r *Registry) readSensor(current *session, sensor Sensor) (string, error) {
	type outcome struct {
		reading Reading
		err     error
	}
	done := make(chan outcome, 1)
	if err := sensor.Read(func(reading Reading, err error) {
		done <- outcome{reading: reading, err: err}
	}); err != nil {
		return "", newError(ipmi.NotSupported, "Cannot read sensor \"%s\". %v", sensor.ID(), err)
	}

	result, err := await(r, done)
	if err != nil {
		return "", r.fail(current, "reading sensor "+sensor.ID(), err)
	}
	if result.err != nil {
		return "", newError(ipmi.NotSupported, "%v", result.err)
	}

	if sensor.Kind() == SensorThreshold {
		return strconv.FormatFloat(result.reading.Value, 'f', 6, 64), nil
	}
	return strconv.FormatUint(result.reading.States&(1<<discreteStates-1), 10), nil
}

func (r *Registry) readControl(current *session, control Control) (string, error) {
	type outcome struct {
		value int
		err   error
	}
	done := make(chan outcome, 1)
	if err := control.Read(func(value int, err error) {
		done <- outcome{value: value, err: err}
	}); err != nil {
		return "", newError(ipmi.NotSupported, "Cannot read control %s. %v", control.ID(), err)
	}

	result, err := await(r, done)
	if err != nil {
		return "", r.fail(current, "reading control "+control.ID(), err)
	}
	if result.err != nil {
		return "", newError(ipmi.NotSupported, "%v", result.err)
	}
	return strconv.Itoa(result.value), nil
}

// fail classifies a failure of the pump itself and closes the session,
// which can no longer be trusted to answer.
func (r *Registry) fail(current *session, operation string, err error) *Error {
	r.closeSession(current)
	delete(r.sessions, current.target.Fingerprint())
	if errors.Is(err, errTimedOut) {
		return newError(ipmi.TimeoutError, "timeout while %s on %s", operation, current.target)
	}
	return newError(ipmi.AgentError, "hardware library failed while %s on %s: %v", operation, current.target, err)
}

func (r *Registry) closeSession(current *session) {
	if current.domain == nil {
		return
	}
	closed := make(chan struct{}, 1)
	if err := current.domain.Close(func() { closed <- struct{}{} }); err != nil {
		r.logger.Debug("cannot close BMC session", "target", current.target.String(), "error", err)
		return
	}
	if _, err := await(r, closed); err != nil {
		r.logger.Debug("BMC session did not close cleanly", "target", current.target.String(), "error", err)
	}
}

// await pumps the driver until ch is ready or the operation timeout
// expires.
func await[T any](r *Registry, ch <-chan T) (T, error) {
	deadline := r.clock.Now().Add(r.timeout)
	for {
		select {
		case value := <-ch:
			return value, nil
		default:
		}

		remaining := deadline.Sub(r.clock.Now())
		if remaining <= 0 {
			var zero T
			return zero, errTimedOut
		}
		if err := r.driver.PerformOne(remaining); err != nil && !errors.Is(err, ErrIdle) {
			var zero T
			return zero, err
		}
	}
}

func findSensor(domain Domain, name string, lookup ipmi.SensorLookup) Sensor {
	for _, sensor := range domain.Sensors() {
		if matches(sensor.ID(), sensor.FullName(), name, lookup) {
			return sensor
		}
	}
	return nil
}

func findControl(domain Domain, name string, lookup ipmi.SensorLookup) Control {
	for _, control := range domain.Controls() {
		if matches(control.ID(), control.FullName(), name, lookup) {
			return control
		}
	}
	return nil
}

func matches(id, fullName, name string, lookup ipmi.SensorLookup) bool {
	if lookup == ipmi.LookupByFullName {
		return fullName == name
	}
	return id == name
}
