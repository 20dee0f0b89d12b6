// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipmi

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Command
		wantErr string
	}{
		{name: "bare control means on", input: "power", want: Command{Control: "power", Value: 1}},
		{name: "leading blanks", input: " \t power on", want: Command{Control: "power", Value: 1}},
		{name: "on any case", input: "power ON", want: Command{Control: "power", Value: 1}},
		{name: "off", input: "power\tOff", want: Command{Control: "power", Value: 0}},
		{name: "numeric", input: "fan_speed 42", want: Command{Control: "fan_speed", Value: 42}},
		{name: "max uint31", input: "x 2147483647", want: Command{Control: "x", Value: 2147483647}},
		{name: "empty", input: "   ", wantErr: "IPMI command is empty"},
		{name: "uint31 overflow", input: "x 2147483648", wantErr: "IPMI command value is not supported [2147483648]"},
		{name: "negative", input: "x -1", wantErr: "IPMI command value is not supported [-1]"},
		{name: "word", input: "power reboot", wantErr: "IPMI command value is not supported [reboot]"},
		{name: "trailing blank after on", input: "power on ", wantErr: "IPMI command value is not supported [on ]"},
		{name: "too long", input: strings.Repeat("c", MaxNameLength+1), wantErr: "IPMI command is too long"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseCommand(test.input)
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("ParseCommand(%q) = %+v, want error %q", test.input, got, test.wantErr)
				}
				if !strings.Contains(err.Error(), test.wantErr) {
					t.Errorf("error = %q, want it to contain %q", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q): %v", test.input, err)
			}
			if got != test.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", test.input, got, test.want)
			}
		})
	}
}

func TestParseCommandAcceptsMaxLengthName(t *testing.T) {
	name := strings.Repeat("c", MaxNameLength)
	got, err := ParseCommand(name + " off")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if got.Control != name || got.Value != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestParseSensorName(t *testing.T) {
	tests := []struct {
		input  string
		name   string
		lookup SensorLookup
	}{
		{"CPU Temp", "CPU Temp", LookupByID},
		{"id:CPU Temp", "CPU Temp", LookupByID},
		{"name:CPU Temp (3.1)", "CPU Temp (3.1)", LookupByFullName},
		{"Name:upper", "Name:upper", LookupByID},
	}
	for _, test := range tests {
		name, lookup := ParseSensorName(test.input)
		if name != test.name || lookup != test.lookup {
			t.Errorf("ParseSensorName(%q) = (%q, %d), want (%q, %d)", test.input, name, lookup, test.name, test.lookup)
		}
	}
}

func TestErrorCodeAvailability(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want Availability
	}{
		{Succeed, AvailabilityActivate},
		{NotSupported, AvailabilityActivate},
		{AgentError, AvailabilityActivate},
		{NetworkError, AvailabilityDeactivate},
		{TimeoutError, AvailabilityDeactivate},
		{GatewayError, AvailabilityDeactivate},
		{ConfigError, AvailabilityUnchanged},
	}
	for _, test := range tests {
		if got := test.code.Availability(); got != test.want {
			t.Errorf("%s.Availability() = %d, want %d", test.code, got, test.want)
		}
		if got := test.code.HostLevel(); got != (test.want == AvailabilityDeactivate) {
			t.Errorf("%s.HostLevel() = %v", test.code, got)
		}
	}
}
