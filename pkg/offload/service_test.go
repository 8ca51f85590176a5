// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package offload

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/cadence/pkg/device"
	"github.com/Thermoquad/cadence/pkg/link"
	"github.com/Thermoquad/cadence/pkg/telemetry"
)

// fakeReader answers every name from a fixed table
type fakeReader struct {
	mu      sync.Mutex
	values  map[string]float64
	fail    bool
	gate    chan struct{} // when set, reads block until it is closed
	entered chan struct{}
}

func newFakeReader() *fakeReader {
	return &fakeReader{values: map[string]float64{
		"motor_rpm":       250,
		"speed":           21.5,
		"battery_voltage": 42,
		"throttle":        12.5,
	}}
}

func (r *fakeReader) setFail(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

func (r *fakeReader) ReadValues(ctx context.Context, names []string) map[string]device.Reading {
	r.mu.Lock()
	gate, entered, fail := r.gate, r.entered, r.fail
	r.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	out := make(map[string]device.Reading, len(names))
	for _, name := range names {
		if fail {
			out[name] = device.Reading{Value: math.NaN(), Err: errors.New("bus timeout")}
			continue
		}
		out[name] = device.Reading{Value: r.values[name]}
	}
	return out
}

type harness struct {
	svc    *Service
	sched  *telemetry.Scheduler
	fields *link.FieldSet
	client *link.Endpoint
	frames chan *link.Frame

	debugMu sync.Mutex
	debug   []bool
}

func newHarness(t *testing.T, reader telemetry.ValueReader, mut func(*Config)) *harness {
	t.Helper()
	a, b := net.Pipe()

	fs, err := link.NewFieldSet([]string{"motor_rpm", "speed"}, []string{"battery_voltage"})
	require.NoError(t, err)
	sched, err := telemetry.NewScheduler(reader, telemetry.Config{
		Fields:       fs,
		FastInterval: 20 * time.Millisecond,
		SlowInterval: 100 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	h := &harness{
		sched:  sched,
		fields: fs,
		client: link.NewEndpoint(b, zerolog.Nop()),
		frames: make(chan *link.Frame, 256),
	}

	cfg := Config{
		Scheduler:   sched,
		Endpoint:    link.NewEndpoint(a, zerolog.Nop()),
		Logger:      zerolog.Nop(),
		Version:     "1.2.3",
		WaitForMain: true,
		StopTimeout: time.Second,
		SetDebug: func(enabled bool) {
			h.debugMu.Lock()
			h.debug = append(h.debug, enabled)
			h.debugMu.Unlock()
		},
	}
	if mut != nil {
		mut(&cfg)
	}
	h.svc, err = NewService(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = h.svc.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = h.client.Run(ctx, link.HandlerFunc(func(_ context.Context, f *link.Frame) {
			select {
			case h.frames <- f:
			default:
			}
		}))
	}()

	t.Cleanup(func() {
		cancel()
		a.Close()
		b.Close()
		wg.Wait()
	})
	return h
}

func (h *harness) request(t *testing.T, id link.CommandID, args map[int]interface{}) *link.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := h.client.Request(ctx, id, args)
	require.NoError(t, err)
	require.Equal(t, id, resp.Command)
	return resp
}

// waitFrame returns the first frame of type t accepted by match
func (h *harness) waitFrame(t *testing.T, ft link.FrameType, match func(*link.Frame) bool) *link.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-h.frames:
			if f.Type() == ft && (match == nil || match(f)) {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", ft)
			return nil
		}
	}
}

func (h *harness) waitEvent(t *testing.T, code link.EventCode) *link.Event {
	t.Helper()
	f := h.waitFrame(t, link.TypeEvent, func(f *link.Frame) bool {
		ev, err := link.ParseEvent(f)
		return err == nil && ev.Code == code
	})
	ev, err := link.ParseEvent(f)
	require.NoError(t, err)
	return ev
}

func TestNewService_Requires(t *testing.T) {
	_, err := NewService(Config{})
	require.Error(t, err)
}

func TestService_ForwardsTelemetry(t *testing.T) {
	h := newHarness(t, newFakeReader(), func(c *Config) { c.WaitForMain = false })

	f := h.waitFrame(t, link.TypeTelemetry, nil)
	mask, values, err := link.DecodeTelemetry(h.fields.Names(), f.Payload())
	require.NoError(t, err)

	// First sample carries the slow fields too
	assert.Equal(t, h.fields.AllMask(), mask)
	assert.Equal(t, 250.0, values["motor_rpm"])
	assert.Equal(t, 21.5, values["speed"])
	assert.Equal(t, 42.0, values["battery_voltage"])
}

func TestService_Ping(t *testing.T) {
	h := newHarness(t, newFakeReader(), nil)

	resp := h.request(t, link.CmdPing, nil)
	assert.Equal(t, link.StatusOK, resp.Status)
	_, ok := link.GetMapUint(resp.Body, link.KeyUptimeMs)
	assert.True(t, ok)
}

func TestService_SetRate(t *testing.T) {
	h := newHarness(t, newFakeReader(), nil)

	resp := h.request(t, link.CmdSetRate, map[int]interface{}{link.KeyFastMs: uint64(40), link.KeySlowMs: uint64(400)})
	require.Equal(t, link.StatusOK, resp.Status)
	fast, _ := link.GetMapUint(resp.Body, link.KeyFastMs)
	slow, _ := link.GetMapUint(resp.Body, link.KeySlowMs)
	assert.Equal(t, uint64(40), fast)
	assert.Equal(t, uint64(400), slow)
	assert.Equal(t, 40*time.Millisecond, h.sched.Status().Fast)

	// Fast above slow is clamped
	resp = h.request(t, link.CmdSetRate, map[int]interface{}{link.KeyFastMs: uint64(1000)})
	fast, _ = link.GetMapUint(resp.Body, link.KeyFastMs)
	assert.Equal(t, uint64(400), fast)

	// Both above the current slow interval are applied slow first
	resp = h.request(t, link.CmdSetRate, map[int]interface{}{link.KeyFastMs: uint64(2000), link.KeySlowMs: uint64(5000)})
	fast, _ = link.GetMapUint(resp.Body, link.KeyFastMs)
	slow, _ = link.GetMapUint(resp.Body, link.KeySlowMs)
	assert.Equal(t, uint64(2000), fast)
	assert.Equal(t, uint64(5000), slow)

	resp = h.request(t, link.CmdSetRate, nil)
	assert.Equal(t, link.StatusError, resp.Status)

	// Values beyond the longest interval saturate instead of wrapping
	resp = h.request(t, link.CmdSetRate, map[int]interface{}{link.KeyFastMs: uint64(math.MaxUint64), link.KeySlowMs: uint64(math.MaxUint64)})
	require.Equal(t, link.StatusOK, resp.Status)
	assert.Equal(t, telemetry.MaxInterval, h.sched.Status().Slow)
	assert.Equal(t, telemetry.MaxInterval, h.sched.Status().Fast)
}

func TestService_SetFields(t *testing.T) {
	h := newHarness(t, newFakeReader(), nil)

	resp := h.request(t, link.CmdSetFields, map[int]interface{}{link.KeyFastFields: []string{"throttle"}})
	require.Equal(t, link.StatusOK, resp.Status)
	assert.Equal(t, []string{"throttle"}, h.sched.Fields().Fast())
	assert.Equal(t, []string{"battery_voltage"}, h.sched.Fields().Slow())

	resp = h.request(t, link.CmdSetFields, map[int]interface{}{link.KeySlowFields: []string{"warp_factor"}})
	assert.Equal(t, link.StatusError, resp.Status)
	msg, _ := link.GetMapString(resp.Body, link.KeyMessage)
	assert.Contains(t, msg, "warp_factor")

	resp = h.request(t, link.CmdSetFields, map[int]interface{}{link.KeyFastFields: []string{"battery_voltage"}})
	assert.Equal(t, link.StatusError, resp.Status)

	resp = h.request(t, link.CmdSetFields, nil)
	assert.Equal(t, link.StatusError, resp.Status)
}

func TestService_SleepAndMainOnline(t *testing.T) {
	h := newHarness(t, newFakeReader(), nil)
	assert.False(t, h.sched.Running())

	resp := h.request(t, link.CmdMainOnline, nil)
	require.Equal(t, link.StatusOK, resp.Status)
	assert.True(t, h.sched.Running())
	h.waitFrame(t, link.TypeTelemetry, nil)

	resp = h.request(t, link.CmdSleep, nil)
	require.Equal(t, link.StatusOK, resp.Status)
	assert.False(t, h.sched.Running())
}

func TestService_Unsupported(t *testing.T) {
	h := newHarness(t, newFakeReader(), nil)

	resp := h.request(t, link.CmdWifiConnect, map[int]interface{}{link.KeySSID: "garage"})
	assert.Equal(t, link.StatusUnsupported, resp.Status)

	seq, err := h.client.Send(link.TypeCommand, []byte{0x7E})
	require.NoError(t, err)
	f := h.waitFrame(t, link.TypeResponse, func(f *link.Frame) bool {
		r, err := link.ParseResponse(f)
		return err == nil && r.ReplyTo == seq
	})
	r, err := link.ParseResponse(f)
	require.NoError(t, err)
	assert.Equal(t, link.StatusUnsupported, r.Status)
	assert.Equal(t, link.CommandID(0x7E), r.Command)
}

func TestService_StatusAndVersion(t *testing.T) {
	h := newHarness(t, newFakeReader(), nil)

	resp := h.request(t, link.CmdStatus, nil)
	require.Equal(t, link.StatusOK, resp.Status)
	running, ok := link.GetMapBool(resp.Body, link.KeyRunning)
	assert.True(t, ok)
	assert.False(t, running)
	fast, _ := link.GetMapUint(resp.Body, link.KeyFastMs)
	assert.Equal(t, uint64(20), fast)
	crc, ok := link.GetMapUint(resp.Body, link.KeyCRCErrors)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), crc)

	resp = h.request(t, link.CmdVersion, nil)
	require.Equal(t, link.StatusOK, resp.Status)
	v, _ := link.GetMapString(resp.Body, link.KeyVersion)
	assert.Equal(t, "1.2.3", v)
	p, _ := link.GetMapUint(resp.Body, link.KeyProtocol)
	assert.Equal(t, uint64(link.ProtocolVersion), p)
}

func TestService_Debug(t *testing.T) {
	h := newHarness(t, newFakeReader(), nil)

	resp := h.request(t, link.CmdDebug, map[int]interface{}{link.KeyEnabled: true})
	require.Equal(t, link.StatusOK, resp.Status)
	resp = h.request(t, link.CmdDebug, map[int]interface{}{link.KeyEnabled: false})
	require.Equal(t, link.StatusOK, resp.Status)

	resp = h.request(t, link.CmdDebug, nil)
	assert.Equal(t, link.StatusError, resp.Status)

	h.debugMu.Lock()
	defer h.debugMu.Unlock()
	assert.Equal(t, []bool{true, false}, h.debug)
}

func TestService_PollAndSnapshot(t *testing.T) {
	h := newHarness(t, newFakeReader(), nil)

	// Never read yet
	resp := h.request(t, link.CmdSnapshot, nil)
	require.Equal(t, link.StatusOK, resp.Status)
	values, ok := link.GetMapFloats(resp.Body, link.KeyValues)
	require.True(t, ok)
	require.Len(t, values, 3)
	assert.True(t, math.IsNaN(values[0]))

	resp = h.request(t, link.CmdPoll, nil)
	require.Equal(t, link.StatusOK, resp.Status)
	f := h.waitFrame(t, link.TypeTelemetry, nil)
	mask, _, err := link.DecodeTelemetry(h.fields.Names(), f.Payload())
	require.NoError(t, err)
	assert.Equal(t, h.fields.AllMask(), mask)

	resp = h.request(t, link.CmdSnapshot, nil)
	require.Equal(t, link.StatusOK, resp.Status)
	names, _ := link.GetMapStrings(resp.Body, link.KeyNames)
	values, _ = link.GetMapFloats(resp.Body, link.KeyValues)
	assert.Equal(t, []string{"motor_rpm", "speed", "battery_voltage"}, names)
	assert.Equal(t, []float64{250, 21.5, 42}, values)

	resp = h.request(t, link.CmdSnapshot, map[int]interface{}{link.KeyNames: []string{"nope"}})
	assert.Equal(t, link.StatusError, resp.Status)
}

func TestService_PollBusy(t *testing.T) {
	reader := newFakeReader()
	reader.gate = make(chan struct{})
	reader.entered = make(chan struct{}, 1)
	h := newHarness(t, reader, func(c *Config) { c.WaitForMain = false })

	select {
	case <-reader.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never sampled")
	}

	resp := h.request(t, link.CmdPoll, nil)
	assert.Equal(t, link.StatusBusy, resp.Status)

	reader.mu.Lock()
	close(reader.gate)
	reader.mu.Unlock()
}

func TestService_BusFaultEvents(t *testing.T) {
	reader := newFakeReader()
	reader.setFail(true)
	h := newHarness(t, reader, func(c *Config) { c.WaitForMain = false })

	ev := h.waitEvent(t, link.EventBusFault)
	n, ok := link.GetMapUint(ev.Fields, link.KeyFailed)
	assert.True(t, ok)
	assert.NotZero(t, n)

	reader.setFail(false)
	h.waitEvent(t, link.EventBusRecovered)
}

func TestService_HealthEvents(t *testing.T) {
	h := newHarness(t, newFakeReader(), func(c *Config) { c.HealthInterval = 20 * time.Millisecond })

	ev := h.waitEvent(t, link.EventLinkHealth)
	for _, key := range []int{link.KeyFramingErrors, link.KeyLengthErrors, link.KeyCRCErrors, link.KeyUptimeMs} {
		_, ok := link.GetMapUint(ev.Fields, key)
		assert.True(t, ok, "missing %s", link.KeyName(key))
	}
}

func TestService_Reboot(t *testing.T) {
	h := newHarness(t, newFakeReader(), func(c *Config) { c.WaitForMain = false })
	h.waitFrame(t, link.TypeTelemetry, nil)

	resp := h.request(t, link.CmdReboot, nil)
	require.Equal(t, link.StatusOK, resp.Status)
	running, _ := link.GetMapBool(resp.Body, link.KeyRunning)
	assert.True(t, running)
	assert.True(t, h.sched.Running())
}
