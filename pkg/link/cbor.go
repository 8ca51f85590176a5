// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encodeArgs encodes an argument map as CBOR. Empty maps encode to nothing.
func encodeArgs(args map[int]interface{}) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data, err := cbor.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR arguments: %w", err)
	}
	return data, nil
}

// ParseArgs decodes a CBOR argument map with integer keys.
// Empty input yields a nil map.
func ParseArgs(data []byte) (map[int]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var raw interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}

	// Convert map[interface{}]interface{} to map[int]interface{}
	m, ok := raw.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("expected CBOR map, got %T", raw)
	}
	args := make(map[int]interface{}, len(m))
	for key, val := range m {
		switch k := key.(type) {
		case uint64:
			args[int(k)] = val
		case int64:
			args[int(k)] = val
		default:
			return nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return args, nil
}

// Map value extraction helpers

// GetMapUint extracts a uint64 from a CBOR map by key
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	case float64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

// GetMapFloat extracts a float64 from a CBOR map by key
func GetMapFloat(m map[int]interface{}, key int) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// GetMapBool extracts a bool from a CBOR map by key
func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	val, ok := v.(bool)
	return val, ok
}

// GetMapString extracts a string from a CBOR map by key
func GetMapString(m map[int]interface{}, key int) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	val, ok := v.(string)
	return val, ok
}

// GetMapStrings extracts a string array from a CBOR map by key
func GetMapStrings(m map[int]interface{}, key int) ([]string, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// GetMapFloats extracts a numeric array from a CBOR map by key
func GetMapFloats(m map[int]interface{}, key int) ([]float64, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	tmp := make(map[int]interface{}, 1)
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		tmp[0] = item
		f, ok := GetMapFloat(tmp, 0)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
