// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"math"
	"strings"
	"testing"
)

func TestFormatFrame_Command(t *testing.T) {
	f, err := NewCommand(4, CmdSetRate, map[int]interface{}{KeyFastMs: uint64(100)})
	if err != nil {
		t.Fatalf("NewCommand failed: %v", err)
	}
	out := FormatFrame(f, nil)
	for _, want := range []string{"COMMAND (0x02)", "seq=4", "Command: set_rate", "fast_ms=100"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatFrame_Telemetry(t *testing.T) {
	fs, err := NewFieldSet([]string{"motor_rpm"}, []string{"battery_voltage"})
	if err != nil {
		t.Fatalf("NewFieldSet failed: %v", err)
	}
	payload, err := EncodeTelemetry(fs.Names(), fs.AllMask(), map[string]float64{"battery_voltage": 42})
	if err != nil {
		t.Fatalf("EncodeTelemetry failed: %v", err)
	}
	out := FormatFrame(NewFrame(TypeTelemetry, 0, payload), fs)
	if !strings.Contains(out, "battery_voltage:") || !strings.Contains(out, "42.00") {
		t.Errorf("voltage not shown:\n%s", out)
	}
	if !strings.Contains(out, "unavailable") {
		t.Errorf("missing value not shown as unavailable:\n%s", out)
	}
}

func TestFormatFrame_SnapshotResponse(t *testing.T) {
	f, err := NewResponse(0, CmdSnapshot, StatusOK, 9, map[int]interface{}{
		KeyNames:      []string{"motor_rpm", "speed"},
		KeyValues:     []float64{250, math.NaN()},
		KeyReadErrors: []uint64{0, 3},
	})
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}
	out := FormatFrame(f, nil)
	for _, want := range []string{"snapshot -> OK", "reply to seq=9", "250.00", "(3 errors)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{500, "500 ms"},
		{1000, "1 second"},
		{61000, "1 minute and 1 second"},
		{3661000, "1 hour, 1 minute, and 1 second"},
		{2 * 86400000, "2 days"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestStatistics(t *testing.T) {
	s := NewStatistics()
	s.Update(NewFrame(TypeTelemetry, 0, nil))
	s.Update(NewFrame(TypeTelemetry, 1, nil))
	s.Update(NewFrame(TypeEvent, 2, nil))
	s.Update(NewFrame(FrameType(0x40), 3, nil))
	s.UpdateCounters(Counters{CRC: 2, Framing: 1})

	if s.TotalFrames != 4 || s.TelemetryFrames != 2 || s.EventFrames != 1 || s.UnknownFrames != 1 {
		t.Errorf("frame counts = %+v", s)
	}
	if s.Errors() != 3 {
		t.Errorf("Errors() = %d, want 3", s.Errors())
	}
	out := s.String()
	if !strings.Contains(out, "CRC Errors:") || !strings.Contains(out, "Framing Errors:") {
		t.Errorf("summary missing error lines:\n%s", out)
	}
	if strings.Contains(out, "Length Errors:") {
		t.Errorf("summary shows zero length errors:\n%s", out)
	}

	// Faults before Reset are not reported afterwards
	s.Reset(Counters{CRC: 2, Framing: 1})
	s.UpdateCounters(Counters{CRC: 3, Framing: 1})
	if s.TotalFrames != 0 || s.CRCErrors != 1 || s.FramingErrors != 0 {
		t.Errorf("after reset: %+v", s)
	}
}
