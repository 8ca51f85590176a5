// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/cadence/pkg/device"
)

// Entry is the cached state of one register
type Entry struct {
	Value   float64 // last good value, NaN if never read
	Err     error   // outcome of the most recent read
	Errors  uint64  // failed reads since the cache was created or cleared
	Updated time.Time
}

// Valid reports whether a value has ever been read
func (e Entry) Valid() bool {
	return !math.IsNaN(e.Value)
}

// PollCache holds the most recent value and error count per register.
// The scheduler is the only writer; readers get copies.
type PollCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewPollCache creates an empty cache
func NewPollCache() *PollCache {
	return &PollCache{entries: make(map[string]Entry)}
}

// Update records a read. A failed read keeps the last good value.
func (c *PollCache) Update(name string, r device.Reading, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		e.Value = math.NaN()
	}
	e.Err = r.Err
	e.Updated = now
	if r.Err != nil {
		e.Errors++
	} else {
		e.Value = r.Value
	}
	c.entries[name] = e
}

// Get returns a copy of one entry
func (c *PollCache) Get(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e, ok
}

// Snapshot returns a copy of every entry
func (c *PollCache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Values returns the cached value of each name, NaN when unknown
func (c *PollCache) Values(names []string) map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(names))
	for _, name := range names {
		if e, ok := c.entries[name]; ok {
			out[name] = e.Value
		} else {
			out[name] = math.NaN()
		}
	}
	return out
}

// Clear drops every entry
func (c *PollCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}
