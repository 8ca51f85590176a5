// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CBOR map keys shared by command arguments, response bodies and events.
const (
	KeyFastMs        = 0  // uint: fast interval in milliseconds
	KeySlowMs        = 1  // uint: slow interval in milliseconds
	KeyFastFields    = 2  // []string: fast register names
	KeySlowFields    = 3  // []string: slow register names
	KeyEnabled       = 4  // bool
	KeyMessage       = 5  // string: error detail
	KeyUptimeMs      = 6  // uint
	KeyRunning       = 7  // bool: scheduler state
	KeyFramingErrors = 8  // uint
	KeyLengthErrors  = 9  // uint
	KeyCRCErrors     = 10 // uint
	KeyVersion       = 11 // string: firmware version
	KeyProtocol      = 12 // uint: link protocol version
	KeyNames         = 13 // []string
	KeyValues        = 14 // []float
	KeyReadErrors    = 15 // []uint: per-register error counts, parallel to KeyNames
	KeyFrames        = 16 // uint: frames received
	KeyFailed        = 17 // uint: registers that failed in the last tick
	KeySSID          = 18 // string
)

var keyNames = map[int]string{
	KeyFastMs:        "fast_ms",
	KeySlowMs:        "slow_ms",
	KeyFastFields:    "fast",
	KeySlowFields:    "slow",
	KeyEnabled:       "enabled",
	KeyMessage:       "message",
	KeyUptimeMs:      "uptime_ms",
	KeyRunning:       "running",
	KeyFramingErrors: "framing_errors",
	KeyLengthErrors:  "length_errors",
	KeyCRCErrors:     "crc_errors",
	KeyVersion:       "version",
	KeyProtocol:      "protocol",
	KeyNames:         "names",
	KeyValues:        "values",
	KeyReadErrors:    "read_errors",
	KeyFrames:        "frames",
	KeyFailed:        "failed",
	KeySSID:          "ssid",
}

// KeyName returns the name of a map key, or its number when unknown
func KeyName(key int) string {
	if name, ok := keyNames[key]; ok {
		return name
	}
	return strconv.Itoa(key)
}

// KeyByName looks up a map key by name
func KeyByName(name string) (int, bool) {
	for key, n := range keyNames {
		if n == name {
			return key, true
		}
	}
	return 0, false
}

// ParseArg converts a "name=value" pair into a map key and a typed value.
// Integers become uint64, other numbers float64, true/false bool, values
// containing commas []string and everything else string.
func ParseArg(pair string) (int, interface{}, error) {
	name, raw, ok := strings.Cut(pair, "=")
	if !ok {
		return 0, nil, fmt.Errorf("argument %q is not name=value", pair)
	}
	key, ok := KeyByName(name)
	if !ok {
		n, err := strconv.Atoi(name)
		if err != nil {
			return 0, nil, fmt.Errorf("unknown argument %q", name)
		}
		key = n
	}

	if u, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return key, u, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return key, f, nil
	}
	if b, err := strconv.ParseBool(raw); err == nil && (raw == "true" || raw == "false") {
		return key, b, nil
	}
	if strings.Contains(raw, ",") {
		return key, strings.Split(raw, ","), nil
	}
	if key == KeyFastFields || key == KeySlowFields || key == KeyNames {
		if raw == "" {
			return key, []string{}, nil
		}
		return key, []string{raw}, nil
	}
	return key, raw, nil
}

// FormatArgs renders an argument map as "name=value" pairs in key order
func FormatArgs(m map[int]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", KeyName(k), m[k]))
	}
	return strings.Join(parts, " ")
}
