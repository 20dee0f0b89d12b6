// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipmi

import "strings"

// SensorLookup selects how a sensor name is matched against the
// sensors a controller reports.
type SensorLookup int

const (
	// LookupByID matches the sensor's short id string.
	LookupByID SensorLookup = iota
	// LookupByFullName matches the sensor's full name, which includes
	// the entity it belongs to.
	LookupByFullName
)

// ParseSensorName strips an optional "id:" or "name:" prefix. A name
// without prefix is matched by id.
func ParseSensorName(sensor string) (string, SensorLookup) {
	if name, ok := strings.CutPrefix(sensor, "name:"); ok {
		return name, LookupByFullName
	}
	if name, ok := strings.CutPrefix(sensor, "id:"); ok {
		return name, LookupByID
	}
	return sensor, LookupByID
}
