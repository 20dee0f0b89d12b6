// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAcceptsComments(t *testing.T) {
	fixture, err := Parse([]byte(`{
	  // rack 4
	  "controllers": [
	    {"address": "10.0.0.5", "port": 623, "latency": "5ms",
	     "sensors": [{"id": "CPU Temp", "kind": "threshold", "value": 40},],},
	  ],
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(fixture.Controllers) != 1 {
		t.Fatalf("got %d controllers, want 1", len(fixture.Controllers))
	}
	controller := fixture.Controllers[0]
	if controller.Address != "10.0.0.5" || controller.Port != 623 {
		t.Errorf("controller = %s:%d", controller.Address, controller.Port)
	}
	if len(controller.Sensors) != 1 || controller.Sensors[0].Value != 40 {
		t.Errorf("sensors = %+v", controller.Sensors)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "missing port",
			source: `{"controllers": [{"address": "10.0.0.5"}]}`,
			want:   "address and port are required",
		},
		{
			name:   "duplicate",
			source: `{"controllers": [{"address": "a", "port": 1}, {"address": "a", "port": 1}]}`,
			want:   "duplicate controller a:1",
		},
		{
			name:   "bad latency",
			source: `{"controllers": [{"address": "a", "port": 1, "latency": "soon"}]}`,
			want:   "invalid latency",
		},
		{
			name:   "bad connect latency",
			source: `{"controllers": [{"address": "a", "port": 1, "connect_latency": "-"}]}`,
			want:   "invalid connect_latency",
		},
		{
			name:   "bad kind",
			source: `{"controllers": [{"address": "a", "port": 1, "sensors": [{"id": "x", "kind": "analog"}]}]}`,
			want:   `kind must be threshold or discrete, got "analog"`,
		},
		{
			name:   "control without id",
			source: `{"controllers": [{"address": "a", "port": 1, "controls": [{"value": 1}]}]}`,
			want:   "controls[0]: id is required",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.source))
			if err == nil {
				t.Fatal("Parse succeeded, want an error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %q, want it to contain %q", err, test.want)
			}
		})
	}
}

func TestReadFileNamesThePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bmc.jsonc")
	if err := os.WriteFile(path, []byte(`{"controllers": [{"address": ""}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadFile(path)
	if err == nil || !strings.HasPrefix(err.Error(), path+":") {
		t.Fatalf("ReadFile error = %v, want it prefixed with the path", err)
	}
}
