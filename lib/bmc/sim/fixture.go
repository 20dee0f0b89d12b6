// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sim is a simulated BMC hardware library. It implements
// [bmc.Driver] over controllers described in a JSONC fixture, so
// pollers, their tests and local development setups can run without
// real hardware.
//
// A fixture lists controllers by address and port:
//
//	{
//	  "controllers": [
//	    {
//	      "address": "10.0.0.5",
//	      "port": 623,
//	      "username": "monitor",     // optional: reject other credentials
//	      "latency": "20ms",         // delay before every callback
//	      "connect_latency": "2s",   // optional: overrides latency when connecting
//	      "sensors": [
//	        {"id": "CPU Temp", "entity": "3.1", "kind": "threshold", "value": 41.5},
//	        {"id": "PSU1", "kind": "discrete", "states": [0, 3]},
//	      ],
//	      "controls": [
//	        {"id": "chassis_power", "value": 1, "settable": true},
//	      ],
//	    },
//	    {"address": "10.0.0.6", "port": 623, "unreachable": true},
//	    {"address": "10.0.0.7", "port": 623, "hang": true},
//	    {"address": "10.0.0.8", "port": 623, "stall": true},
//	  ],
//	}
//
// Comments and trailing commas are allowed.
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// Fixture describes every simulated controller.
type Fixture struct {
	Controllers []ControllerFixture `json:"controllers"`
}

// ControllerFixture describes one simulated BMC.
type ControllerFixture struct {
	Address  string `json:"address"`
	Port     uint16 `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Unreachable controllers fail every connection attempt.
	Unreachable bool `json:"unreachable,omitempty"`

	// Hang controllers never finish connecting.
	Hang bool `json:"hang,omitempty"`

	// Stall controllers connect but never answer a read or set.
	Stall bool `json:"stall,omitempty"`

	// Latency delays every callback. Parsed with time.ParseDuration.
	Latency string `json:"latency,omitempty"`

	// ConnectLatency, when set, replaces Latency for the connection
	// callback only.
	ConnectLatency string `json:"connect_latency,omitempty"`

	Sensors  []SensorFixture  `json:"sensors,omitempty"`
	Controls []ControlFixture `json:"controls,omitempty"`
}

// SensorFixture describes one simulated sensor.
type SensorFixture struct {
	ID     string `json:"id"`
	Entity string `json:"entity,omitempty"`

	// Kind is "threshold" or "discrete".
	Kind string `json:"kind"`

	Value  float64 `json:"value,omitempty"`
	States []int   `json:"states,omitempty"`

	// Unavailable sensors answer with "sensor data is not available".
	Unavailable bool `json:"unavailable,omitempty"`
}

// ControlFixture describes one simulated control.
type ControlFixture struct {
	ID       string `json:"id"`
	Entity   string `json:"entity,omitempty"`
	Value    int    `json:"value"`
	Settable bool   `json:"settable,omitempty"`
}

// Parse strips JSONC comments and trailing commas from data and decodes
// the fixture.
func Parse(data []byte) (*Fixture, error) {
	var fixture Fixture
	if err := json.Unmarshal(jsonc.ToJSON(data), &fixture); err != nil {
		return nil, fmt.Errorf("parsing simulator fixture: %w", err)
	}
	if err := fixture.Validate(); err != nil {
		return nil, err
	}
	return &fixture, nil
}

// ReadFile reads and parses a JSONC fixture file.
func ReadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	fixture, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fixture, nil
}

// Validate checks the fixture for structural errors.
func (f *Fixture) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for index, controller := range f.Controllers {
		key := fmt.Sprintf("%s:%d", controller.Address, controller.Port)
		if controller.Address == "" || controller.Port == 0 {
			errs = append(errs, fmt.Errorf("controllers[%d]: address and port are required", index))
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("controllers[%d]: duplicate controller %s", index, key))
		}
		seen[key] = true
		if controller.Latency != "" {
			if _, err := time.ParseDuration(controller.Latency); err != nil {
				errs = append(errs, fmt.Errorf("controllers[%d]: invalid latency: %w", index, err))
			}
		}
		if controller.ConnectLatency != "" {
			if _, err := time.ParseDuration(controller.ConnectLatency); err != nil {
				errs = append(errs, fmt.Errorf("controllers[%d]: invalid connect_latency: %w", index, err))
			}
		}
		for sensorIndex, sensor := range controller.Sensors {
			if sensor.ID == "" {
				errs = append(errs, fmt.Errorf("controllers[%d].sensors[%d]: id is required", index, sensorIndex))
			}
			if sensor.Kind != "threshold" && sensor.Kind != "discrete" {
				errs = append(errs, fmt.Errorf("controllers[%d].sensors[%d]: kind must be threshold or discrete, got %q",
					index, sensorIndex, sensor.Kind))
			}
		}
		for controlIndex, control := range controller.Controls {
			if control.ID == "" {
				errs = append(errs, fmt.Errorf("controllers[%d].controls[%d]: id is required", index, controlIndex))
			}
		}
	}
	return errors.Join(errs...)
}
