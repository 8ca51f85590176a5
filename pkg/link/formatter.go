// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"math"
	"strings"
)

// FormatFrame formats a frame into a human-readable string. fields is the
// FieldSet used to decode telemetry; when nil, telemetry is shown as hex.
func FormatFrame(f *Frame, fields *FieldSet) string {
	timestamp := f.Timestamp().Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) seq=%d len=%d\n", timestamp, f.Type(), uint8(f.Type()), f.Seq(), f.Length())
	result += FormatPayload(f, fields)
	return result
}

// FormatPayload renders the decoded body of a frame, one line per item
func FormatPayload(f *Frame, fields *FieldSet) string {
	switch f.Type() {
	case TypeTelemetry:
		return formatTelemetry(f, fields)

	case TypeCommand:
		cmd, err := ParseCommand(f)
		if cmd == nil {
			return fmt.Sprintf("  (decode error: %v)\n", err)
		}
		result := fmt.Sprintf("  Command: %s\n", cmd.ID)
		if args := FormatArgs(cmd.Args); args != "" {
			result += fmt.Sprintf("  Args: %s\n", args)
		}
		return result

	case TypeResponse:
		resp, err := ParseResponse(f)
		if err != nil {
			return fmt.Sprintf("  (decode error: %v)\n", err)
		}
		result := fmt.Sprintf("  Response: %s -> %s (reply to seq=%d)\n", resp.Command, resp.Status, resp.ReplyTo)
		result += formatBody(resp.Body)
		return result

	case TypeEvent:
		ev, err := ParseEvent(f)
		if err != nil {
			return fmt.Sprintf("  (decode error: %v)\n", err)
		}
		result := fmt.Sprintf("  Event: %s\n", ev.Code)
		result += formatBody(ev.Fields)
		return result

	default:
		if f.Length() == 0 {
			return ""
		}
		return fmt.Sprintf("  Payload: % X\n", f.Payload())
	}
}

func formatTelemetry(f *Frame, fields *FieldSet) string {
	if fields == nil {
		return fmt.Sprintf("  Payload: % X\n", f.Payload())
	}
	mask, values, err := DecodeTelemetry(fields.Names(), f.Payload())
	if err != nil {
		return fmt.Sprintf("  (decode error: %v)\n", err)
	}

	result := fmt.Sprintf("  Mask: 0x%08X (%d fields)\n", uint32(mask), mask.Count())
	for i, name := range fields.Names() {
		if !mask.Has(i) {
			continue
		}
		result += fmt.Sprintf("  %-24s %s\n", name+":", formatValue(values[name]))
	}
	return result
}

// formatBody renders a CBOR body map, special-casing the snapshot tables
func formatBody(m map[int]interface{}) string {
	if len(m) == 0 {
		return ""
	}

	names, hasNames := GetMapStrings(m, KeyNames)
	values, hasValues := GetMapFloats(m, KeyValues)
	if hasNames && hasValues && len(names) == len(values) {
		errs, _ := GetMapFloats(m, KeyReadErrors)
		result := ""
		for i, name := range names {
			line := fmt.Sprintf("  %-24s %s", name+":", formatValue(values[i]))
			if i < len(errs) && errs[i] > 0 {
				line += fmt.Sprintf(" (%d errors)", int(errs[i]))
			}
			result += line + "\n"
		}
		rest := make(map[int]interface{}, len(m))
		for k, v := range m {
			if k != KeyNames && k != KeyValues && k != KeyReadErrors {
				rest[k] = v
			}
		}
		if len(rest) > 0 {
			result += "  " + FormatArgs(rest) + "\n"
		}
		return result
	}

	if uptime, ok := GetMapUint(m, KeyUptimeMs); ok {
		rest := make(map[int]interface{}, len(m))
		for k, v := range m {
			if k != KeyUptimeMs {
				rest[k] = v
			}
		}
		result := fmt.Sprintf("  Uptime: %s\n", FormatDuration(uptime))
		if len(rest) > 0 {
			result += "  " + FormatArgs(rest) + "\n"
		}
		return result
	}

	return "  " + FormatArgs(m) + "\n"
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "unavailable"
	}
	return fmt.Sprintf("%.2f", v)
}

// FormatDuration converts milliseconds to human-readable duration
func FormatDuration(ms uint64) string {
	seconds := ms / 1000
	if seconds == 0 {
		return fmt.Sprintf("%d ms", ms)
	}

	const (
		secondsPerMinute = 60
		secondsPerHour   = 60 * secondsPerMinute
		secondsPerDay    = 24 * secondsPerHour
	)

	units := []struct {
		size uint64
		name string
	}{
		{secondsPerDay, "day"},
		{secondsPerHour, "hour"},
		{secondsPerMinute, "minute"},
		{1, "second"},
	}

	parts := []string{}
	for _, u := range units {
		n := seconds / u.size
		seconds %= u.size
		switch {
		case n == 1:
			parts = append(parts, "1 "+u.name)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	if len(parts) <= 2 {
		return strings.Join(parts, " and ")
	}
	last := parts[len(parts)-1]
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + last
}
