// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"time"
)

// Statistics tracks received frames and parser faults over time
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Frames by type
	TotalFrames     uint64
	TelemetryFrames uint64
	CommandFrames   uint64
	ResponseFrames  uint64
	EventFrames     uint64
	UnknownFrames   uint64

	// Parser faults since start
	FramingErrors uint64
	LengthErrors  uint64
	CRCErrors     uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec

	base Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts a received frame
func (s *Statistics) Update(f *Frame) {
	s.TotalFrames++
	switch f.Type() {
	case TypeTelemetry:
		s.TelemetryFrames++
	case TypeCommand:
		s.CommandFrames++
	case TypeResponse:
		s.ResponseFrames++
	case TypeEvent:
		s.EventFrames++
	default:
		s.UnknownFrames++
	}
	s.LastUpdateTime = time.Now()
}

// UpdateCounters takes the parser's absolute counters and records the
// faults seen since the last Reset.
func (s *Statistics) UpdateCounters(c Counters) {
	s.FramingErrors = delta(c.Framing, s.base.Framing)
	s.LengthErrors = delta(c.Length, s.base.Length)
	s.CRCErrors = delta(c.CRC, s.base.CRC)
}

func delta(now, base uint64) uint64 {
	if now < base {
		return now
	}
	return now - base
}

// Errors returns the total number of parser faults
func (s *Statistics) Errors() uint64 {
	return s.FramingErrors + s.LengthErrors + s.CRCErrors
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	// Error percentages are relative to everything the parser attempted
	attempted := s.TotalFrames + s.Errors()
	percent := func(n uint64) float64 {
		if attempted == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(attempted)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d (%.1f%%)\n", s.TotalFrames, percent(s.TotalFrames))
	if s.TelemetryFrames > 0 {
		result += fmt.Sprintf("  Telemetry:        %5d\n", s.TelemetryFrames)
	}
	if s.CommandFrames > 0 {
		result += fmt.Sprintf("  Command:          %5d\n", s.CommandFrames)
	}
	if s.ResponseFrames > 0 {
		result += fmt.Sprintf("  Response:         %5d\n", s.ResponseFrames)
	}
	if s.EventFrames > 0 {
		result += fmt.Sprintf("  Event:            %5d\n", s.EventFrames)
	}
	if s.UnknownFrames > 0 {
		result += fmt.Sprintf("  Unknown type:     %5d\n", s.UnknownFrames)
	}

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.LengthErrors > 0 {
		result += fmt.Sprintf("Length Errors:   %8d (%.1f%%)\n", s.LengthErrors, percent(s.LengthErrors))
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, percent(s.FramingErrors))
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset clears all statistics. c is the parser's current counters, which
// become the new baseline for fault deltas.
func (s *Statistics) Reset(c Counters) {
	*s = Statistics{base: c}
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
}
