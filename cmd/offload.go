// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cadence/pkg/device"
	"github.com/Thermoquad/cadence/pkg/link"
	"github.com/Thermoquad/cadence/pkg/metrics"
	"github.com/Thermoquad/cadence/pkg/offload"
	"github.com/Thermoquad/cadence/pkg/telemetry"
)

var (
	metricsListen  string
	waitForMain    bool
	healthInterval time.Duration
)

var offloadCmd = &cobra.Command{
	Use:   "offload",
	Short: "Run the offload controller",
	Long: `Poll the motor controller and relay telemetry to the main controller.

Fast fields are read every fast interval and slow fields every slow interval.
Each sample is sent over the link as a TELEMETRY frame. Commands from the
main controller (set_rate, set_fields, sleep, poll, snapshot, ...) are
answered with RESPONSE frames, and link_health events are sent periodically.

With --metrics-listen, register values and link faults are exported for
Prometheus at /metrics.`,
	RunE: runOffload,
}

func init() {
	rootCmd.AddCommand(offloadCmd)
	offloadCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Address for the Prometheus endpoint (e.g. :9102)")
	offloadCmd.Flags().BoolVar(&waitForMain, "wait-for-main", false, "Keep polling stopped until main_online is received")
	offloadCmd.Flags().DurationVar(&healthInterval, "health-interval", 0, "link_health event period (default from config)")
}

func runOffload(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("metrics-listen") {
		cfg.Metrics.Listen = metricsListen
	}
	if cmd.Flags().Changed("health-interval") {
		cfg.Link.HealthIntervalMs = int(healthInterval / time.Millisecond)
	}

	regs, err := cfg.RegisterMap()
	if err != nil {
		return err
	}
	fields, err := cfg.FieldSet()
	if err != nil {
		return err
	}

	bus, busInfo, err := OpenBus(cfg.Bus, logger.With().Str("component", "bus").Logger())
	if err != nil {
		return err
	}
	defer bus.Close()

	conn, linkInfo, err := OpenLink(cfg.Link)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Info().Str("bus", busInfo).Str("link", linkInfo).Msg("connections open")

	var m *metrics.Metrics
	var observer telemetry.Observer
	if cfg.Metrics.Listen != "" {
		m = metrics.New(regs)
		observer = m
	}

	reader := device.NewReader(bus, regs, cfg.Bus.Slave)
	sched, err := telemetry.NewScheduler(reader, telemetry.Config{
		Fields:       fields,
		FastInterval: cfg.FastInterval(),
		SlowInterval: cfg.SlowInterval(),
		Logger:       logger.With().Str("component", "scheduler").Logger(),
		Observer:     observer,
	})
	if err != nil {
		return err
	}

	endpoint := link.NewEndpoint(conn, logger.With().Str("component", "link").Logger())
	svc, err := offload.NewService(offload.Config{
		Scheduler:      sched,
		Endpoint:       endpoint,
		Registers:      regs,
		Metrics:        m,
		Logger:         logger.With().Str("component", "offload").Logger(),
		Version:        Version,
		HealthInterval: cfg.HealthInterval(),
		WaitForMain:    waitForMain,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if m != nil {
		srv := serveMetrics(cfg.Metrics.Listen, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// A WebSocket read only returns once the connection closes
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	err = svc.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("link failed: %w", err)
	}
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
	return srv
}
