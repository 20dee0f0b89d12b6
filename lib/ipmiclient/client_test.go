// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipmiclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/dcache"
	"github.com/webeonic/treegix-sub004/lib/ipc"
	"github.com/webeonic/treegix-sub004/lib/ipmi"
	"github.com/webeonic/treegix-sub004/lib/service"
	"github.com/webeonic/treegix-sub004/lib/testutil"
)

const inventorySource = `
macros:
  IPMI_PORT: "1623"
hosts:
  - id: 10084
    ipmi:
      address: 10.0.0.5
      port: "{$IPMI_PORT}"
      privilege: operator
      username: admin
      password: calvin
  - id: 10085
    ipmi:
      address: 10.0.0.6
      port: "{$UNDEFINED}"
`

func testInventory(t *testing.T) *dcache.Inventory {
	t.Helper()
	inventory, err := dcache.ParseInventory([]byte(inventorySource), "")
	if err != nil {
		t.Fatalf("ParseInventory: %v", err)
	}
	return inventory
}

func TestPrepare(t *testing.T) {
	request, err := Prepare(testInventory(t), 10084, "chassis_power off")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	want := ipc.CommandRequest{
		ObjectID:  10084,
		Address:   "10.0.0.5",
		Port:      1623,
		AuthType:  ipmi.AuthTypeDefault,
		Privilege: ipmi.PrivilegeOperator,
		Username:  "admin",
		Password:  "calvin",
		Control:   "chassis_power",
		Value:     0,
	}
	if request.HostID != 10084 || request.Command != want {
		t.Errorf("request = %+v, want host 10084 and %+v", request, want)
	}
}

func TestPrepareErrors(t *testing.T) {
	inventory := testInventory(t)
	tests := []struct {
		name    string
		hostID  uint64
		command string
		want    string
	}{
		{"empty command", 10084, "   ", "IPMI command is empty"},
		{"bad value", 10084, "chassis_power maybe", "IPMI command value is not supported [maybe]"},
		{"unknown host", 1, "chassis_power", "host 1 is not in the inventory"},
		{"bad port", 10085, "chassis_power", `Invalid port value "{$UNDEFINED}"`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Prepare(inventory, test.hostID, test.command)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %v, want it to contain %q", err, test.want)
			}
		})
	}
}

// fakeManager answers every script request with reply, or never
// answers when reply is nil.
func fakeManager(t *testing.T, reply func(ipc.ScriptRequest) *ipc.Result) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "manager.sock")
	listener, err := service.Listen(service.Config{
		SocketPath: socketPath,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.Cleanup(func() {
		cancel()
		<-done
		listener.Close()
	})

	go func() {
		defer close(done)
		for {
			event, ok, err := listener.Recv(ctx, time.Second)
			if err != nil {
				return
			}
			if !ok {
				continue
			}
			var request ipc.ScriptRequest
			if err := ipc.Decode(event.Message, &request); err != nil {
				t.Errorf("manager received %s: %v", event.Message.Code, err)
				continue
			}
			if result := reply(request); result != nil {
				event.Client.Send(ipc.MustEncode(ipc.CodeScriptResult, *result))
			}
		}
	}()
	return socketPath
}

func TestExecuteSuccess(t *testing.T) {
	socketPath := fakeManager(t, func(request ipc.ScriptRequest) *ipc.Result {
		result := ipc.NewResult(time.Now(), ipmi.Succeed, "set "+request.Command.Control)
		return &result
	})
	request, err := Prepare(testInventory(t), 10084, "chassis_power on")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	output, err := Execute(context.Background(), socketPath, request, 5*time.Second, clock.Real())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if output != "set chassis_power" {
		t.Errorf("output = %q", output)
	}
}

func TestExecuteCommandFailure(t *testing.T) {
	socketPath := fakeManager(t, func(ipc.ScriptRequest) *ipc.Result {
		result := ipc.NewResult(time.Now(), ipmi.NotSupported, `Control "fan" at address "10.0.0.5:1623" does not exist.`)
		return &result
	})
	request, err := Prepare(testInventory(t), 10084, "fan 3")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	_, err = Execute(context.Background(), socketPath, request, 5*time.Second, clock.Real())
	var commandError *CommandError
	if !errors.As(err, &commandError) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if commandError.Code != ipmi.NotSupported || !strings.Contains(commandError.Message, "does not exist") {
		t.Errorf("command error = %+v", commandError)
	}
}

func TestExecuteTimeout(t *testing.T) {
	socketPath := fakeManager(t, func(ipc.ScriptRequest) *ipc.Result { return nil })
	request, err := Prepare(testInventory(t), 10084, "chassis_power")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	_, err = Execute(context.Background(), socketPath, request, 200*time.Millisecond, clock.Real())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestExecuteNoManager(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "missing.sock")
	_, err := Execute(context.Background(), socketPath, ipc.ScriptRequest{HostID: 1}, 200*time.Millisecond, clock.Real())
	if err == nil {
		t.Fatal("Execute succeeded without a manager")
	}
}
