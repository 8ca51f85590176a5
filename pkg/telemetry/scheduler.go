// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry samples motor controller registers at two cadences and
// assembles telemetry payloads for the link.
package telemetry

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
)

// Interval defaults and bounds
const (
	DefaultFastInterval = 50 * time.Millisecond
	DefaultSlowInterval = 1000 * time.Millisecond
	MinInterval         = 10 * time.Millisecond
	MaxInterval         = time.Hour
)

// Scheduler errors
var (
	ErrInvalidInterval = errors.New("telemetry: invalid interval")
	ErrBusy            = errors.New("telemetry: sample in progress")
	ErrStopTimeout     = errors.New("telemetry: scheduler did not stop in time")
)

// ValueReader reads named physical values; one failure must not stop the
// others. *device.Reader implements it.
type ValueReader interface {
	ReadValues(ctx context.Context, names []string) map[string]device.Reading
}

// Observer is told about every register read
type Observer interface {
	ObserveReading(name string, r device.Reading)
}

// Config configures a Scheduler
type Config struct {
	Fields       *link.FieldSet
	FastInterval time.Duration
	SlowInterval time.Duration
	Logger       zerolog.Logger
	Observer     Observer // optional
	Buffer       int      // Samples channel capacity, default 8
}

// Sample is the result of one tick
type Sample struct {
	Seq     uint8 // per-scheduler sample counter, wraps at 255
	Time    time.Time
	Fields  *link.FieldSet
	Mask    link.FieldMask
	Slow    bool // slow fields were sampled
	Values  map[string]float64
	Errors  map[string]error
	Payload []byte // Telemetry frame payload
}

// Failed reports whether every read of the tick failed
func (s Sample) Failed() bool {
	return len(s.Values) > 0 && len(s.Errors) == len(s.Values)
}

// Status is a point-in-time view of the scheduler
type Status struct {
	Running bool
	Fast    time.Duration
	Slow    time.Duration
	Samples uint64
}

// Scheduler polls fast fields every tick and slow fields whenever the slow
// interval has elapsed. It owns its PollCache.
type Scheduler struct {
	reader   ValueReader
	cache    *PollCache
	logger   zerolog.Logger
	observer Observer
	samples  chan Sample

	// tickMu serializes sampling
	tickMu sync.Mutex

	mu          sync.Mutex
	fields      *link.FieldSet
	fast        time.Duration
	slow        time.Duration
	lastSlow    time.Time
	slowChanged bool
	seq         link.Sequence
	count       uint64
	running     bool
	stop        chan struct{}
	done        chan struct{}
	reset       chan struct{}
}

// NewScheduler validates cfg and creates a stopped scheduler. A FieldSet is
// required; zero intervals take the defaults.
func NewScheduler(reader ValueReader, cfg Config) (*Scheduler, error) {
	if cfg.Fields == nil {
		return nil, errors.New("telemetry: field set required")
	}
	if cfg.FastInterval == 0 {
		cfg.FastInterval = DefaultFastInterval
	}
	if cfg.SlowInterval == 0 {
		cfg.SlowInterval = DefaultSlowInterval
	}
	if err := ValidateIntervals(cfg.FastInterval, cfg.SlowInterval); err != nil {
		return nil, err
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 8
	}

	return &Scheduler{
		reader:   reader,
		cache:    NewPollCache(),
		logger:   cfg.Logger,
		observer: cfg.Observer,
		samples:  make(chan Sample, cfg.Buffer),
		fields:   cfg.Fields,
		fast:     cfg.FastInterval,
		slow:     cfg.SlowInterval,
		reset:    make(chan struct{}, 1),
	}, nil
}

// ValidateIntervals checks a fast/slow pair before any I/O happens
func ValidateIntervals(fast, slow time.Duration) error {
	if fast < MinInterval || slow < MinInterval {
		return fmt.Errorf("%w: intervals must be at least %s (fast=%s slow=%s)", ErrInvalidInterval, MinInterval, fast, slow)
	}
	if fast > MaxInterval || slow > MaxInterval {
		return fmt.Errorf("%w: intervals must be at most %s", ErrInvalidInterval, MaxInterval)
	}
	if slow < fast {
		return fmt.Errorf("%w: slow interval %s is shorter than fast interval %s", ErrInvalidInterval, slow, fast)
	}
	return nil
}

// Cache returns the scheduler's cache
func (s *Scheduler) Cache() *PollCache {
	return s.cache
}

// Samples delivers completed samples. When the consumer falls behind,
// new samples are dropped rather than blocking the scheduler.
func (s *Scheduler) Samples() <-chan Sample {
	return s.samples
}

// Fields returns the current FieldSet
func (s *Scheduler) Fields() *link.FieldSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields
}

// Status returns the scheduler state
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, Fast: s.fast, Slow: s.slow, Samples: s.count}
}

func clamp(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// SetFastInterval changes the fast cadence and returns the value applied.
// It is clamped to [MinInterval, slow interval].
func (s *Scheduler) SetFastInterval(d time.Duration) time.Duration {
	s.mu.Lock()
	d = clamp(d)
	if d > s.slow {
		d = s.slow
	}
	s.fast = d
	s.mu.Unlock()

	s.notifyReset()
	return d
}

// SetSlowInterval changes the slow cadence and returns the value applied.
// It is clamped to [fast interval, MaxInterval]. The next tick samples the
// slow fields.
func (s *Scheduler) SetSlowInterval(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d = clamp(d)
	if d < s.fast {
		d = s.fast
	}
	if d != s.slow {
		s.slow = d
		s.slowChanged = true
	}
	return d
}

// SetFields replaces the FieldSet. The next tick samples the slow fields.
func (s *Scheduler) SetFields(fs *link.FieldSet) error {
	if fs == nil {
		return errors.New("telemetry: field set required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = fs
	s.slowChanged = true
	return nil
}

// Reset clears the cache and forces a slow sample on the next tick
func (s *Scheduler) Reset() {
	s.cache.Clear()
	s.mu.Lock()
	s.lastSlow = time.Time{}
	s.slowChanged = true
	s.mu.Unlock()
}

func (s *Scheduler) notifyReset() {
	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// Tick runs one sampling step at now. It blocks while another tick is in
// progress.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) Sample {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.sample(ctx, now, false)
}

// PollNow samples every field immediately. It fails with ErrBusy instead of
// waiting when a tick is in progress.
func (s *Scheduler) PollNow(ctx context.Context) (Sample, error) {
	if !s.tickMu.TryLock() {
		return Sample{}, ErrBusy
	}
	defer s.tickMu.Unlock()
	return s.sample(ctx, time.Now(), true), nil
}

// sample reads the due fields and builds the telemetry payload. tickMu must
// be held.
func (s *Scheduler) sample(ctx context.Context, now time.Time, all bool) Sample {
	s.mu.Lock()
	fields := s.fields
	slowDue := all || s.slowChanged || s.lastSlow.IsZero() || now.Sub(s.lastSlow) >= s.slow
	if slowDue {
		s.lastSlow = now
		s.slowChanged = false
	}
	seq := s.seq.Next()
	s.count++
	s.mu.Unlock()

	names := fields.Fast()
	if slowDue {
		names = append(names, fields.Slow()...)
	}

	readings := s.reader.ReadValues(ctx, names)

	smp := Sample{
		Seq:    seq,
		Time:   now,
		Fields: fields,
		Mask:   fields.MaskOf(names...),
		Slow:   slowDue,
		Values: make(map[string]float64, len(names)),
		Errors: make(map[string]error),
	}
	for _, name := range names {
		r, ok := readings[name]
		if !ok {
			r = device.Reading{Value: math.NaN(), Err: fmt.Errorf("register %q not read", name)}
		}
		s.cache.Update(name, r, now)
		if s.observer != nil {
			s.observer.ObserveReading(name, r)
		}
		if r.Err != nil {
			smp.Values[name] = math.NaN()
			smp.Errors[name] = r.Err
			continue
		}
		smp.Values[name] = r.Value
	}

	payload, err := link.EncodeTelemetry(fields.Names(), smp.Mask, smp.Values)
	if err != nil {
		// FieldSet guarantees at most MaxFields names, so this is a bug
		s.logger.Error().Err(err).Msg("telemetry encode failed")
	}
	smp.Payload = payload

	if len(smp.Errors) > 0 {
		s.logger.Debug().
			Uint8("seq", seq).
			Int("failed", len(smp.Errors)).
			Int("fields", len(names)).
			Msg("sample incomplete")
	}
	return smp
}

// Start launches the polling loop. It returns false if the loop is already
// running. The loop exits on Stop or when ctx is done.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(ctx, s.stop, s.done)
	return true
}

// Stop signals the loop and waits up to timeout for it to exit. Stopping a
// stopped scheduler is a no-op. ErrStopTimeout means the loop is still
// running; callers should report it rather than retry.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Running reports whether the loop is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, stop, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info().Msg("scheduler started")
	defer s.logger.Info().Msg("scheduler stopped")

	ticker := time.NewTicker(s.currentFast())
	defer ticker.Stop()

	for {
		s.publish(s.Tick(ctx, time.Now()))
		if !s.wait(ctx, stop, ticker) {
			return
		}
	}
}

// wait blocks until the next tick is due. It returns false when the loop
// must exit.
func (s *Scheduler) wait(ctx context.Context, stop chan struct{}, ticker *time.Ticker) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		case <-s.reset:
			ticker.Reset(s.currentFast())
		case <-ticker.C:
			// Stop wins over a tick that became ready at the same time
			select {
			case <-stop:
				return false
			default:
				return true
			}
		}
	}
}

func (s *Scheduler) currentFast() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fast
}

func (s *Scheduler) publish(smp Sample) {
	select {
	case s.samples <- smp:
	default:
		s.logger.Warn().Uint8("seq", smp.Seq).Msg("sample dropped, consumer too slow")
	}
}
