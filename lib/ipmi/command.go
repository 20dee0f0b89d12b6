// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipmi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxNameLength is the longest sensor or control name accepted.
const MaxNameLength = 128

// Command is a parsed script command: set Control to Value.
type Command struct {
	Control string
	Value   int32
}

// ParseCommand parses "<control> [on|off|<n>]". Leading blanks are
// skipped, the first blank-delimited token is the control name, and the
// remainder (after blanks) is the value: empty or "on" (any case) is 1,
// "off" is 0, anything else must be a non-negative 31-bit integer.
func ParseCommand(command string) (Command, error) {
	rest := strings.TrimLeft(command, " \t")
	end := strings.IndexAny(rest, " \t")
	if end < 0 {
		end = len(rest)
	}
	name := rest[:end]

	if name == "" {
		return Command{}, errors.New("IPMI command is empty")
	}
	if len(name) > MaxNameLength {
		return Command{}, fmt.Errorf("IPMI command is too long [%s]", name)
	}

	argument := strings.TrimLeft(rest[end:], " \t")
	switch {
	case argument == "" || strings.EqualFold(argument, "on"):
		return Command{Control: name, Value: 1}, nil
	case strings.EqualFold(argument, "off"):
		return Command{Control: name, Value: 0}, nil
	}

	value, ok := parseUint31(argument)
	if !ok {
		return Command{}, fmt.Errorf("IPMI command value is not supported [%s]", argument)
	}
	return Command{Control: name, Value: value}, nil
}

func parseUint31(text string) (int32, bool) {
	if text == "" {
		return 0, false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	value, err := strconv.ParseUint(text, 10, 31)
	if err != nil {
		return 0, false
	}
	return int32(value), true
}
