// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/webeonic/treegix-sub004/lib/bmc"
	"github.com/webeonic/treegix-sub004/lib/bmc/sim"
	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/ipc"
	"github.com/webeonic/treegix-sub004/lib/ipmi"
	"github.com/webeonic/treegix-sub004/lib/service"
	"github.com/webeonic/treegix-sub004/lib/testutil"
)

const pollerFixture = `{
  "controllers": [
    {
      "address": "10.0.0.5",
      "port": 623,
      "username": "monitor",
      "sensors": [
        {"id": "CPU Temp", "entity": "3.1", "kind": "threshold", "value": 41.5},
        {"id": "Fan 2", "kind": "threshold", "unavailable": true},
      ],
      "controls": [
        {"id": "chassis_power", "value": 1, "settable": true},
        {"id": "identify_led", "value": 0},
      ],
    },
    {"address": "10.0.0.6", "port": 623, "unreachable": true},
  ],
}`

// idle stands for a receive that timed out.
var idle = ipc.Message{Code: 0}

// scriptedConn feeds the poller a fixed sequence of messages, then
// cancels the run.
type scriptedConn struct {
	incoming []ipc.Message
	recvErr  error
	cancel   context.CancelFunc
	sent     []ipc.Message
}

func (c *scriptedConn) Send(message ipc.Message) error {
	c.sent = append(c.sent, message)
	return nil
}

func (c *scriptedConn) Recv(ctx context.Context, timeout time.Duration) (ipc.Message, bool, error) {
	if len(c.incoming) == 0 {
		if c.recvErr != nil {
			return ipc.Message{}, false, c.recvErr
		}
		c.cancel()
		return ipc.Message{}, false, ctx.Err()
	}
	message := c.incoming[0]
	c.incoming = c.incoming[1:]
	if message.Code == idle.Code {
		return ipc.Message{}, false, nil
	}
	return message, true, nil
}

func (c *scriptedConn) results(t *testing.T, code ipc.Code) []ipc.Result {
	t.Helper()
	var results []ipc.Result
	for _, message := range c.sent {
		if message.Code != code {
			continue
		}
		var result ipc.Result
		if err := ipc.Decode(message, &result); err != nil {
			t.Fatalf("decoding %s: %v", code, err)
		}
		results = append(results, result)
	}
	return results
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(t *testing.T, driver bmc.Driver, conn managerConn) *Poller {
	t.Helper()
	clk := clock.Real()
	return &Poller{
		conn:             conn,
		registry:         bmc.NewRegistry(driver, clk, time.Second, testLogger()),
		clock:            clk,
		logger:           testLogger(),
		wait:             10 * time.Millisecond,
		pump:             time.Millisecond,
		sessionIdleLimit: time.Nanosecond,
		statusInterval:   time.Minute,
	}
}

func simDriver(t *testing.T) *sim.Driver {
	t.Helper()
	fixture, err := sim.Parse([]byte(pollerFixture))
	if err != nil {
		t.Fatalf("sim.Parse: %v", err)
	}
	return sim.New(fixture, clock.Real())
}

func valueRequest(itemID uint64, address, sensor string) ipc.Message {
	return ipc.MustEncode(ipc.CodeValueRequest, ipc.ValueRequest{
		ObjectID:  itemID,
		Address:   address,
		Port:      623,
		AuthType:  ipmi.AuthTypeDefault,
		Privilege: ipmi.PrivilegeUser,
		Username:  "monitor",
		Sensor:    sensor,
	})
}

func commandRequest(control string, value int32) ipc.Message {
	return ipc.MustEncode(ipc.CodeCommandRequest, ipc.CommandRequest{
		ObjectID:  10084,
		Address:   "10.0.0.5",
		Port:      623,
		AuthType:  ipmi.AuthTypeDefault,
		Privilege: ipmi.PrivilegeOperator,
		Username:  "monitor",
		Control:   control,
		Value:     value,
	})
}

func runScript(t *testing.T, poller *Poller, conn *scriptedConn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.cancel = cancel
	if err := poller.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRegister(t *testing.T) {
	conn := &scriptedConn{}
	poller := newTestPoller(t, nil, conn)

	if err := poller.Register(31337); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var registration ipc.Register
	if err := ipc.Decode(conn.sent[0], &registration); err != nil {
		t.Fatalf("decoding registration: %v", err)
	}
	if registration.ParentPID != 31337 {
		t.Errorf("registered parent pid %d, want 31337", registration.ParentPID)
	}
}

func TestValueRequests(t *testing.T) {
	conn := &scriptedConn{incoming: []ipc.Message{
		valueRequest(1, "10.0.0.5", "CPU Temp"),
		idle,
		valueRequest(2, "10.0.0.5", "Fan 2"),
		valueRequest(3, "10.0.0.5", "Inlet Temp"),
		valueRequest(4, "10.0.0.6", "CPU Temp"),
		valueRequest(5, "10.0.0.5", "id:chassis_power"),
	}}
	poller := newTestPoller(t, simDriver(t), conn)
	runScript(t, poller, conn)

	want := []struct {
		code  ipmi.ErrorCode
		value string
	}{
		{ipmi.Succeed, "41.500000"},
		{ipmi.NotSupported, ""},
		{ipmi.NotSupported, "does not exist"},
		{ipmi.NetworkError, "cannot connect"},
		{ipmi.Succeed, "1"},
	}
	results := conn.results(t, ipc.CodeValueResult)
	if len(results) != len(want) {
		t.Fatalf("got %d value results, want %d", len(results), len(want))
	}
	for index, result := range results {
		if result.ErrorCode != want[index].code {
			t.Errorf("result %d: code %s, want %s (%q)", index, result.ErrorCode, want[index].code, result.Value)
		}
		if result.ErrorCode == ipmi.Succeed && result.Value != want[index].value {
			t.Errorf("result %d: value %q, want %q", index, result.Value, want[index].value)
		}
		if result.ErrorCode != ipmi.Succeed && !strings.Contains(result.Value, want[index].value) {
			t.Errorf("result %d: error %q does not mention %q", index, result.Value, want[index].value)
		}
	}
	if got := poller.registry.Len(); got != 1 {
		t.Errorf("registry holds %d sessions, want 1", got)
	}
}

func TestCommandRequests(t *testing.T) {
	driver := simDriver(t)
	conn := &scriptedConn{incoming: []ipc.Message{
		commandRequest("chassis_power", 0),
		commandRequest("identify_led", 1),
		commandRequest("fan_speed", 3),
	}}
	poller := newTestPoller(t, driver, conn)
	runScript(t, poller, conn)

	results := conn.results(t, ipc.CodeCommandResult)
	if len(results) != 3 {
		t.Fatalf("got %d command results, want 3", len(results))
	}
	if results[0].ErrorCode != ipmi.Succeed || results[0].Value != "" {
		t.Errorf("setting chassis_power: %s %q", results[0].ErrorCode, results[0].Value)
	}
	if value, _ := driver.ControlValue("10.0.0.5", 623, "chassis_power"); value != 0 {
		t.Errorf("chassis_power = %d after setting it to 0", value)
	}
	if results[1].ErrorCode != ipmi.NotSupported || !strings.Contains(results[1].Value, "not settable") {
		t.Errorf("setting read-only control: %s %q", results[1].ErrorCode, results[1].Value)
	}
	if results[2].ErrorCode != ipmi.NotSupported || !strings.Contains(results[2].Value, "does not exist") {
		t.Errorf("setting unknown control: %s %q", results[2].ErrorCode, results[2].Value)
	}
}

func TestCleanupClosesIdleSessions(t *testing.T) {
	conn := &scriptedConn{incoming: []ipc.Message{
		valueRequest(1, "10.0.0.5", "CPU Temp"),
		idle,
		ipc.MustEncode(ipc.CodeCleanupRequest, nil),
	}}
	poller := newTestPoller(t, simDriver(t), conn)
	runScript(t, poller, conn)

	if got := poller.registry.Len(); got != 0 {
		t.Errorf("registry holds %d sessions after cleanup, want 0", got)
	}
	if len(conn.sent) != 1 {
		t.Errorf("poller sent %d messages, want only the value result", len(conn.sent))
	}
}

func TestWithoutDriver(t *testing.T) {
	conn := &scriptedConn{incoming: []ipc.Message{
		valueRequest(1, "10.0.0.5", "CPU Temp"),
		commandRequest("chassis_power", 1),
	}}
	poller := newTestPoller(t, nil, conn)
	runScript(t, poller, conn)

	values := conn.results(t, ipc.CodeValueResult)
	if len(values) != 1 || values[0].ErrorCode != ipmi.ConfigError {
		t.Errorf("value results = %+v, want one CONFIG_ERROR", values)
	}
	commands := conn.results(t, ipc.CodeCommandResult)
	if len(commands) != 1 || commands[0].ErrorCode != ipmi.NotSupported {
		t.Errorf("command results = %+v, want one NOTSUPPORTED", commands)
	}
}

func TestGarbledRequestIsAnswered(t *testing.T) {
	conn := &scriptedConn{incoming: []ipc.Message{
		{Code: ipc.CodeValueRequest, Payload: []byte{0x01}},
		{Code: ipc.CodeCommandRequest},
	}}
	poller := newTestPoller(t, simDriver(t), conn)
	runScript(t, poller, conn)

	if values := conn.results(t, ipc.CodeValueResult); len(values) != 1 || values[0].ErrorCode != ipmi.AgentError {
		t.Errorf("value results = %+v, want one AGENT_ERROR", values)
	}
	if commands := conn.results(t, ipc.CodeCommandResult); len(commands) != 1 || commands[0].ErrorCode != ipmi.AgentError {
		t.Errorf("command results = %+v, want one AGENT_ERROR", commands)
	}
}

func TestLostManagerIsFatal(t *testing.T) {
	conn := &scriptedConn{recvErr: service.ErrConnectionClosed}
	poller := newTestPoller(t, nil, conn)

	err := poller.Run(context.Background())
	if !errors.Is(err, service.ErrConnectionClosed) {
		t.Fatalf("Run returned %v, want ErrConnectionClosed", err)
	}
}

func TestPollerOverSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "ipmi.sock")
	manager, err := service.Listen(service.Config{SocketPath: socketPath, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := service.Dial(ctx, socketPath, 5*time.Second, clock.Real())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	poller := newTestPoller(t, simDriver(t), conn)
	if err := poller.Register(4242); err != nil {
		t.Fatalf("Register: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	event, ok, err := manager.Recv(ctx, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("waiting for registration: ok=%v err=%v", ok, err)
	}
	if event.Message.Code != ipc.CodeRegister {
		t.Fatalf("first message is %s, want Register", event.Message.Code)
	}

	if err := event.Client.Send(valueRequest(28001, "10.0.0.5", "name:3.1.CPU Temp")); err != nil {
		t.Fatalf("sending value request: %v", err)
	}
	reply, ok, err := manager.Recv(ctx, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("waiting for value result: ok=%v err=%v", ok, err)
	}
	var result ipc.Result
	if err := ipc.Decode(reply.Message, &result); err != nil {
		t.Fatalf("decoding value result: %v", err)
	}
	if result.ErrorCode != ipmi.Succeed || result.Value != "41.500000" {
		t.Errorf("result = %s %q, want SUCCEED 41.500000", result.ErrorCode, result.Value)
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for the poller to stop"); err != nil {
		t.Errorf("Run: %v", err)
	}
}
