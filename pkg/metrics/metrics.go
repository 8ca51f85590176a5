// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes register readings and link health to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/cadence/pkg/device"
	"github.com/Thermoquad/cadence/pkg/link"
)

// Frame directions
const (
	DirectionTx = "tx"
	DirectionRx = "rx"
)

// Metrics holds the collectors on a private registry. A nil *Metrics
// ignores every observation.
type Metrics struct {
	registry *prometheus.Registry
	units    map[string]string

	registerValue *prometheus.GaugeVec
	readErrors    *prometheus.CounterVec
	linkErrors    *prometheus.CounterVec
	linkFrames    *prometheus.CounterVec

	mu   sync.Mutex
	last link.Counters
}

// New creates and registers the collectors. regs supplies the unit label.
func New(regs *device.RegisterMap) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		units:    make(map[string]string),
		registerValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cadence_register_value",
			Help: "Last good physical value of a motor controller register",
		}, []string{"name", "unit"}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_register_read_errors_total",
			Help: "Failed register reads",
		}, []string{"name"}),
		linkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_link_errors_total",
			Help: "Inter-controller link parser faults",
		}, []string{"kind"}),
		linkFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_link_frames_total",
			Help: "Inter-controller link frames",
		}, []string{"direction", "type"}),
	}
	if regs != nil {
		for _, s := range regs.Specs() {
			m.units[s.Name] = s.Unit
		}
	}

	m.registry.MustRegister(m.registerValue, m.readErrors, m.linkErrors, m.linkFrames)

	// Make the error series visible before the first fault
	for _, kind := range []string{"framing", "length", "crc"} {
		m.linkErrors.WithLabelValues(kind)
	}
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReading records one register read
func (m *Metrics) ObserveReading(name string, r device.Reading) {
	if m == nil {
		return
	}
	if r.Err != nil {
		m.readErrors.WithLabelValues(name).Inc()
		return
	}
	m.registerValue.WithLabelValues(name, m.units[name]).Set(r.Value)
}

// ObserveFrame counts a frame sent or received
func (m *Metrics) ObserveFrame(direction string, t link.FrameType) {
	if m == nil {
		return
	}
	m.linkFrames.WithLabelValues(direction, t.String()).Inc()
}

// ObserveCounters folds cumulative parser counters into the error totals.
// A counter that went backwards (parser reset) restarts the baseline.
func (m *Metrics) ObserveCounters(c link.Counters) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	add := func(kind string, now, prev uint64) {
		if now > prev {
			m.linkErrors.WithLabelValues(kind).Add(float64(now - prev))
		}
	}
	add("framing", c.Framing, m.last.Framing)
	add("length", c.Length, m.last.Length)
	add("crc", c.CRC, m.last.CRC)
	m.last = c
}
