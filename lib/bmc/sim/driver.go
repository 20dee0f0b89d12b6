// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sim

import (
	"container/heap"
	"errors"
	"fmt"
	"time"

	"github.com/webeonic/treegix-sub004/lib/bmc"
	"github.com/webeonic/treegix-sub004/lib/clock"
)

var (
	errNoRoute     = errors.New("no route to host")
	errRefused     = errors.New("connection refused")
	errAuth        = errors.New("authentication failed")
	errUnavailable = errors.New("sensor data is not available")
	errClosed      = errors.New("domain is closed")
)

// Driver is a simulated hardware library. Like the library it stands
// in for, it is single-threaded: callbacks run inside PerformOne on the
// caller's goroutine.
type Driver struct {
	clock       clock.Clock
	controllers map[string]*controller
	queue       eventQueue
	sequence    uint64
	opens       int
	closes      int
}

type controller struct {
	fixture        ControllerFixture
	latency        time.Duration
	connectLatency time.Duration
	sensors        []*sensor
	controls       []*control
}

// New builds a driver over the controllers in fixture. The fixture
// must have passed Validate.
func New(fixture *Fixture, clk clock.Clock) *Driver {
	driver := &Driver{
		clock:       clk,
		controllers: make(map[string]*controller),
	}
	for _, controllerFixture := range fixture.Controllers {
		latency, _ := time.ParseDuration(controllerFixture.Latency)
		current := &controller{fixture: controllerFixture, latency: latency, connectLatency: latency}
		if controllerFixture.ConnectLatency != "" {
			current.connectLatency, _ = time.ParseDuration(controllerFixture.ConnectLatency)
		}
		for _, sensorFixture := range controllerFixture.Sensors {
			current.sensors = append(current.sensors, &sensor{driver: driver, owner: current, fixture: sensorFixture})
		}
		for _, controlFixture := range controllerFixture.Controls {
			current.controls = append(current.controls, &control{driver: driver, owner: current, fixture: controlFixture, value: controlFixture.Value})
		}
		driver.controllers[controllerKey(controllerFixture.Address, controllerFixture.Port)] = current
	}
	return driver
}

func controllerKey(address string, port uint16) string {
	return fmt.Sprintf("%s:%d", address, port)
}

// Opens returns how many sessions have been opened successfully.
func (d *Driver) Opens() int { return d.opens }

// Live returns how many opened sessions have not been closed.
func (d *Driver) Live() int { return d.opens - d.closes }

// ControlValue returns the current value of a control, for tests.
func (d *Driver) ControlValue(address string, port uint16, id string) (int, bool) {
	current, ok := d.controllers[controllerKey(address, port)]
	if !ok {
		return 0, false
	}
	for _, candidate := range current.controls {
		if candidate.fixture.ID == id {
			return candidate.value, true
		}
	}
	return 0, false
}

// Open implements bmc.Driver.
func (d *Driver) Open(target bmc.Target, up func(bmc.Domain, error)) error {
	current, ok := d.controllers[controllerKey(target.Address, target.Port)]
	if !ok {
		d.schedule(0, func() { up(nil, errNoRoute) })
		return nil
	}
	if current.fixture.Hang {
		return nil
	}
	if current.fixture.Unreachable {
		d.schedule(current.connectLatency, func() { up(nil, errRefused) })
		return nil
	}
	if current.fixture.Username != "" && current.fixture.Username != target.Username ||
		current.fixture.Password != "" && current.fixture.Password != target.Password {
		d.schedule(current.connectLatency, func() { up(nil, errAuth) })
		return nil
	}
	d.schedule(current.connectLatency, func() {
		d.opens++
		up(&domain{driver: d, owner: current}, nil)
	})
	return nil
}

// PerformOne implements bmc.Driver.
func (d *Driver) PerformOne(timeout time.Duration) error {
	if d.queue.Len() == 0 {
		d.clock.Sleep(timeout)
		return bmc.ErrIdle
	}
	wait := d.queue[0].due.Sub(d.clock.Now())
	if wait > timeout {
		d.clock.Sleep(timeout)
		return bmc.ErrIdle
	}
	if wait > 0 {
		d.clock.Sleep(wait)
	}
	next := heap.Pop(&d.queue).(*event)
	next.fire()
	return nil
}

func (d *Driver) schedule(delay time.Duration, fire func()) {
	d.sequence++
	heap.Push(&d.queue, &event{due: d.clock.Now().Add(delay), sequence: d.sequence, fire: fire})
}

type domain struct {
	driver *Driver
	owner  *controller
	closed bool
}

func (s *domain) Sensors() []bmc.Sensor {
	if s.closed {
		return nil
	}
	sensors := make([]bmc.Sensor, len(s.owner.sensors))
	for index, current := range s.owner.sensors {
		sensors[index] = current
	}
	return sensors
}

func (s *domain) Controls() []bmc.Control {
	if s.closed {
		return nil
	}
	controls := make([]bmc.Control, len(s.owner.controls))
	for index, current := range s.owner.controls {
		controls[index] = current
	}
	return controls
}

func (s *domain) Close(closed func()) error {
	if s.closed {
		return errClosed
	}
	s.closed = true
	s.driver.schedule(0, func() {
		s.driver.closes++
		closed()
	})
	return nil
}

type sensor struct {
	driver  *Driver
	owner   *controller
	fixture SensorFixture
}

func (s *sensor) ID() string { return s.fixture.ID }

func (s *sensor) FullName() string { return fullName(s.fixture.Entity, s.fixture.ID) }

func (s *sensor) Kind() bmc.SensorKind {
	if s.fixture.Kind == "discrete" {
		return bmc.SensorDiscrete
	}
	return bmc.SensorThreshold
}

func (s *sensor) Read(done func(bmc.Reading, error)) error {
	if s.owner.fixture.Stall {
		return nil
	}
	s.driver.schedule(s.owner.latency, func() {
		if s.fixture.Unavailable {
			done(bmc.Reading{}, errUnavailable)
			return
		}
		var states uint64
		for _, state := range s.fixture.States {
			states |= 1 << uint(state)
		}
		done(bmc.Reading{Value: s.fixture.Value, States: states}, nil)
	})
	return nil
}

type control struct {
	driver  *Driver
	owner   *controller
	fixture ControlFixture
	value   int
}

func (c *control) ID() string { return c.fixture.ID }

func (c *control) FullName() string { return fullName(c.fixture.Entity, c.fixture.ID) }

func (c *control) Settable() bool { return c.fixture.Settable }

func (c *control) Read(done func(int, error)) error {
	if c.owner.fixture.Stall {
		return nil
	}
	c.driver.schedule(c.owner.latency, func() { done(c.value, nil) })
	return nil
}

func (c *control) Set(value int, done func(error)) error {
	if c.owner.fixture.Stall {
		return nil
	}
	c.driver.schedule(c.owner.latency, func() {
		c.value = value
		done(nil)
	})
	return nil
}

func fullName(entity, id string) string {
	if entity == "" {
		return id
	}
	return entity + "." + id
}

type event struct {
	due      time.Time
	sequence uint64
	fire     func()
}

// eventQueue orders pending callbacks by due time, then scheduling
// order.
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if !q[i].due.Equal(q[j].due) {
		return q[i].due.Before(q[j].due)
	}
	return q[i].sequence < q[j].sequence
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*event)) }

func (q *eventQueue) Pop() any {
	old := *q
	last := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return last
}
