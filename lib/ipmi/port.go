// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipmi

import (
	"fmt"
	"regexp"
	"strconv"
)

// userMacroPattern matches {$NAME} and {$NAME:"context"} user macros.
var userMacroPattern = regexp.MustCompile(`\{\$([A-Z0-9_.]+)(?::"[^"]*")?\}`)

// ExpandUserMacros replaces every user macro in text with the value
// returned by lookup. Macros lookup does not know are left in place.
func ExpandUserMacros(text string, lookup func(name string) (string, bool)) string {
	return userMacroPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := userMacroPattern.FindStringSubmatch(match)[1]
		if value, ok := lookup(name); ok {
			return value
		}
		return match
	})
}

// ExpandPort expands user macros in an interface port and converts the
// result to a port number. Zero, out-of-range and non-numeric values
// (including unresolved macros) are errors that quote the original
// unexpanded text.
func ExpandPort(raw string, lookup func(name string) (string, bool)) (uint16, error) {
	expanded := ExpandUserMacros(raw, lookup)
	port, err := strconv.ParseUint(expanded, 10, 16)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("Invalid port value \"%s\"", raw)
	}
	return uint16(port), nil
}
