// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package offload runs the offload controller: it forwards telemetry samples
// to the main controller and answers its commands.
package offload

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/cadence/pkg/device"
	"github.com/Thermoquad/cadence/pkg/link"
	"github.com/Thermoquad/cadence/pkg/metrics"
	"github.com/Thermoquad/cadence/pkg/telemetry"
)

// DefaultStopTimeout bounds how long sleep and reboot wait for the scheduler
const DefaultStopTimeout = time.Second

// Config configures a Service
type Config struct {
	Scheduler *telemetry.Scheduler
	Endpoint  *link.Endpoint
	Registers *device.RegisterMap
	Metrics   *metrics.Metrics // optional
	Logger    zerolog.Logger

	// Version is reported by the version command
	Version string

	// HealthInterval is the link_health event period; zero disables it
	HealthInterval time.Duration

	StopTimeout time.Duration

	// WaitForMain keeps the scheduler stopped until main_online arrives
	WaitForMain bool

	// SetDebug toggles debug logging. Defaults to the zerolog global level.
	SetDebug func(enabled bool)
}

// Service binds a telemetry scheduler to a link endpoint
type Service struct {
	sched    *telemetry.Scheduler
	ep       *link.Endpoint
	regs     *device.RegisterMap
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	version  string
	health   time.Duration
	stopWait time.Duration
	waitMain bool
	setDebug func(bool)
	started  time.Time

	mu       sync.Mutex
	runCtx   context.Context
	busFault bool
}

// NewService checks cfg and creates a Service
func NewService(cfg Config) (*Service, error) {
	if cfg.Scheduler == nil || cfg.Endpoint == nil {
		return nil, errors.New("offload: scheduler and endpoint are required")
	}
	if cfg.Registers == nil {
		cfg.Registers = device.DefaultRegisterMap()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.SetDebug == nil {
		cfg.SetDebug = func(enabled bool) {
			if enabled {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		}
	}

	return &Service{
		sched:    cfg.Scheduler,
		ep:       cfg.Endpoint,
		regs:     cfg.Registers,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		version:  cfg.Version,
		health:   cfg.HealthInterval,
		stopWait: cfg.StopTimeout,
		waitMain: cfg.WaitForMain,
		setDebug: cfg.SetDebug,
		started:  time.Now(),
		runCtx:   context.Background(),
	}, nil
}

// Run serves the link until it closes or ctx is done, then stops the
// scheduler.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	if !s.waitMain {
		s.sched.Start(ctx)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.forwardLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.healthLoop(ctx)
	}()

	s.logger.Info().Bool("wait_for_main", s.waitMain).Msg("offload service running")
	err := s.ep.Run(ctx, s)

	cancel()
	if stopErr := s.sched.Stop(s.stopWait); stopErr != nil {
		s.logger.Error().Err(stopErr).Msg("scheduler did not stop")
	}
	wg.Wait()
	s.logger.Info().Msg("offload service stopped")
	return err
}

func (s *Service) forwardLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case smp := <-s.sched.Samples():
			s.forward(smp)
		}
	}
}

func (s *Service) healthLoop(ctx context.Context) {
	if s.health <= 0 {
		return
	}
	ticker := time.NewTicker(s.health)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitHealth()
		}
	}
}

// forward sends one sample as a Telemetry frame and tracks bus health
func (s *Service) forward(smp telemetry.Sample) {
	if _, err := s.ep.Send(link.TypeTelemetry, smp.Payload); err != nil {
		s.logger.Warn().Err(err).Msg("telemetry send failed")
	} else {
		s.metrics.ObserveFrame(metrics.DirectionTx, link.TypeTelemetry)
	}

	failed := smp.Failed()
	s.mu.Lock()
	changed := failed != s.busFault
	s.busFault = failed
	s.mu.Unlock()
	if !changed {
		return
	}

	if failed {
		s.logger.Warn().Int("fields", len(smp.Errors)).Msg("motor bus not answering")
		s.emit(link.EventBusFault, map[int]interface{}{link.KeyFailed: uint64(len(smp.Errors))})
	} else {
		s.logger.Info().Msg("motor bus recovered")
		s.emit(link.EventBusRecovered, nil)
	}
}

func (s *Service) emitHealth() {
	c := s.ep.Counters()
	s.metrics.ObserveCounters(c)
	s.emit(link.EventLinkHealth, map[int]interface{}{
		link.KeyFramingErrors: c.Framing,
		link.KeyLengthErrors:  c.Length,
		link.KeyCRCErrors:     c.CRC,
		link.KeyFrames:        c.Frames,
		link.KeyUptimeMs:      s.uptimeMs(),
	})
}

func (s *Service) emit(code link.EventCode, fields map[int]interface{}) {
	if err := s.ep.Emit(code, fields); err != nil {
		s.logger.Warn().Err(err).Str("event", code.String()).Msg("event send failed")
		return
	}
	s.metrics.ObserveFrame(metrics.DirectionTx, link.TypeEvent)
}

func (s *Service) uptimeMs() uint64 {
	return uint64(time.Since(s.started) / time.Millisecond)
}

// HandleFrame implements link.Handler
func (s *Service) HandleFrame(ctx context.Context, f *link.Frame) {
	s.metrics.ObserveFrame(metrics.DirectionRx, f.Type())

	if f.Type() != link.TypeCommand {
		s.logger.Debug().Str("type", f.Type().String()).Uint8("seq", f.Seq()).Msg("ignoring frame")
		return
	}

	cmd, err := link.ParseCommand(f)
	var unknown *link.UnknownCommandError
	switch {
	case errors.As(err, &unknown):
		s.logger.Warn().Uint8("id", unknown.ID).Msg("unknown command")
		s.respond(cmd, link.StatusUnsupported, nil)
		return
	case err != nil:
		s.logger.Warn().Err(err).Uint8("seq", f.Seq()).Msg("malformed command")
		return
	}

	status, body := s.dispatch(ctx, cmd)
	s.logger.Debug().
		Str("command", cmd.ID.String()).
		Uint8("seq", cmd.Seq).
		Str("status", status.String()).
		Msg("command handled")
	s.respond(cmd, status, body)
}

func (s *Service) respond(cmd *link.Command, status link.Status, body map[int]interface{}) {
	if err := s.ep.Respond(cmd, status, body); err != nil {
		s.logger.Warn().Err(err).Str("command", cmd.ID.String()).Msg("response send failed")
		return
	}
	s.metrics.ObserveFrame(metrics.DirectionTx, link.TypeResponse)
}

func errorBody(err error) map[int]interface{} {
	return map[int]interface{}{link.KeyMessage: err.Error()}
}

func (s *Service) dispatch(ctx context.Context, cmd *link.Command) (link.Status, map[int]interface{}) {
	switch cmd.ID {
	case link.CmdPing:
		return link.StatusOK, map[int]interface{}{link.KeyUptimeMs: s.uptimeMs()}
	case link.CmdSetRate:
		return s.setRate(cmd.Args)
	case link.CmdSetFields:
		return s.setFields(cmd.Args)
	case link.CmdSleep:
		if err := s.sched.Stop(s.stopWait); err != nil {
			return link.StatusError, errorBody(err)
		}
		return link.StatusOK, map[int]interface{}{link.KeyRunning: false}
	case link.CmdMainOnline:
		s.sched.Start(s.context())
		return link.StatusOK, map[int]interface{}{link.KeyRunning: true}
	case link.CmdWifiConnect:
		return link.StatusUnsupported, map[int]interface{}{link.KeyMessage: "no network interface on this controller"}
	case link.CmdStatus:
		return link.StatusOK, s.status()
	case link.CmdVersion:
		return link.StatusOK, map[int]interface{}{
			link.KeyVersion:  s.version,
			link.KeyProtocol: uint64(link.ProtocolVersion),
		}
	case link.CmdReboot:
		return s.reboot()
	case link.CmdDebug:
		enabled, ok := link.GetMapBool(cmd.Args, link.KeyEnabled)
		if !ok {
			return link.StatusError, errorBody(errors.New("enabled=true|false required"))
		}
		s.setDebug(enabled)
		s.logger.Info().Bool("enabled", enabled).Msg("debug logging changed")
		return link.StatusOK, map[int]interface{}{link.KeyEnabled: enabled}
	case link.CmdPoll:
		smp, err := s.sched.PollNow(ctx)
		if errors.Is(err, telemetry.ErrBusy) {
			return link.StatusBusy, nil
		}
		if err != nil {
			return link.StatusError, errorBody(err)
		}
		s.forward(smp)
		return link.StatusOK, map[int]interface{}{link.KeyReadErrors: uint64(len(smp.Errors))}
	case link.CmdSnapshot:
		return s.snapshot(cmd.Args)
	default:
		return link.StatusUnsupported, nil
	}
}

func (s *Service) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

func (s *Service) setRate(args map[int]interface{}) (link.Status, map[int]interface{}) {
	fast, hasFast := link.GetMapUint(args, link.KeyFastMs)
	slow, hasSlow := link.GetMapUint(args, link.KeySlowMs)
	if !hasFast && !hasSlow {
		return link.StatusError, errorBody(errors.New("fast_ms or slow_ms required"))
	}

	fastD := msDuration(fast)
	slowD := msDuration(slow)

	// Apply in the order that lets both values through the clamps
	switch {
	case hasFast && hasSlow && fastD > s.sched.Status().Slow:
		s.sched.SetSlowInterval(slowD)
		s.sched.SetFastInterval(fastD)
	default:
		if hasFast {
			s.sched.SetFastInterval(fastD)
		}
		if hasSlow {
			s.sched.SetSlowInterval(slowD)
		}
	}

	st := s.sched.Status()
	s.logger.Info().Dur("fast", st.Fast).Dur("slow", st.Slow).Msg("sample rate changed")
	return link.StatusOK, map[int]interface{}{
		link.KeyFastMs: uint64(st.Fast / time.Millisecond),
		link.KeySlowMs: uint64(st.Slow / time.Millisecond),
	}
}

// msDuration converts a millisecond argument, saturating at the longest
// interval the scheduler accepts
func msDuration(ms uint64) time.Duration {
	if limit := uint64(telemetry.MaxInterval / time.Millisecond); ms > limit {
		ms = limit
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Service) setFields(args map[int]interface{}) (link.Status, map[int]interface{}) {
	fast, hasFast := link.GetMapStrings(args, link.KeyFastFields)
	slow, hasSlow := link.GetMapStrings(args, link.KeySlowFields)
	if !hasFast && !hasSlow {
		return link.StatusError, errorBody(errors.New("fast or slow field list required"))
	}

	current := s.sched.Fields()
	if !hasFast {
		fast = current.Fast()
	}
	if !hasSlow {
		slow = current.Slow()
	}
	for _, name := range append(append([]string(nil), fast...), slow...) {
		if _, ok := s.regs.Lookup(name); !ok {
			return link.StatusError, errorBody(&device.UnknownRegisterError{Name: name})
		}
	}

	fs, err := link.NewFieldSet(fast, slow)
	if err != nil {
		return link.StatusError, errorBody(err)
	}
	if err := s.sched.SetFields(fs); err != nil {
		return link.StatusError, errorBody(err)
	}
	s.logger.Info().Strs("fast", fs.Fast()).Strs("slow", fs.Slow()).Msg("field set changed")
	return link.StatusOK, map[int]interface{}{
		link.KeyFastFields: fs.Fast(),
		link.KeySlowFields: fs.Slow(),
	}
}

func (s *Service) status() map[int]interface{} {
	st := s.sched.Status()
	c := s.ep.Counters()
	return map[int]interface{}{
		link.KeyRunning:       st.Running,
		link.KeyFastMs:        uint64(st.Fast / time.Millisecond),
		link.KeySlowMs:        uint64(st.Slow / time.Millisecond),
		link.KeyFramingErrors: c.Framing,
		link.KeyLengthErrors:  c.Length,
		link.KeyCRCErrors:     c.CRC,
		link.KeyUptimeMs:      s.uptimeMs(),
	}
}

func (s *Service) reboot() (link.Status, map[int]interface{}) {
	wasRunning := s.sched.Running()
	if err := s.sched.Stop(s.stopWait); err != nil {
		return link.StatusError, errorBody(err)
	}
	s.sched.Reset()

	s.mu.Lock()
	s.busFault = false
	s.mu.Unlock()

	if wasRunning || !s.waitMain {
		s.sched.Start(s.context())
	}
	s.logger.Info().Msg("telemetry restarted")
	return link.StatusOK, map[int]interface{}{link.KeyRunning: s.sched.Running()}
}

// snapshot reports the cached value and error count of each field, or of
// the names given in the request.
func (s *Service) snapshot(args map[int]interface{}) (link.Status, map[int]interface{}) {
	names, ok := link.GetMapStrings(args, link.KeyNames)
	if !ok {
		names = s.sched.Fields().Names()
	}

	entries := s.sched.Cache().Snapshot()
	values := make([]float32, len(names))
	errs := make([]uint64, len(names))
	for i, name := range names {
		e, found := entries[name]
		if !found {
			if _, known := s.regs.Lookup(name); !known {
				return link.StatusError, errorBody(&device.UnknownRegisterError{Name: name})
			}
			e = telemetry.Entry{Value: math.NaN()}
		}
		values[i] = float32(e.Value)
		errs[i] = e.Errors
	}

	body := map[int]interface{}{
		link.KeyNames:      names,
		link.KeyValues:     values,
		link.KeyReadErrors: errs,
	}
	if _, err := link.NewResponse(0, link.CmdSnapshot, link.StatusOK, 0, body); err != nil {
		return link.StatusError, errorBody(fmt.Errorf("snapshot of %d names does not fit a frame, request fewer", len(names)))
	}
	return link.StatusOK, body
}
