// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmsstat/internal/config"
	"github.com/Thermoquad/bmsstat/internal/logging"
	"github.com/Thermoquad/bmsstat/internal/metrics"
	"github.com/Thermoquad/bmsstat/internal/poller"
	"github.com/Thermoquad/bmsstat/internal/publish"
	"github.com/Thermoquad/bmsstat/pkg/bms"
)

var (
	configPath string
	useTUI     bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll configured devices continuously",
	Long: `Poll every device of a configuration file on its own interval.

Each device runs in its own session; a failing device never delays the
others. Samples can be exported to Prometheus (metrics section) and
published to Redis (redis section). With --tui a live dashboard shows the
latest sample and protocol statistics of every device.

Example configuration:

  log:
    level: info
  metrics:
    enabled: true
    listen: ":9090"
  redis:
    enabled: true
    addr: "localhost:6379"
    channel: bms_samples
    codec: json
  defaults:
    interval: 30s
    timeout: 5s
    retries: 2
  devices:
    - name: house
      vendor: jbd
      address: "A4:C1:38:00:00:01"
    - name: rack
      vendor: eg4
      transport: serial
      port: /dev/ttyUSB0`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVarP(&configPath, "config", "c", "bmsstat.yaml", "Configuration file")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", false, "Show a terminal dashboard instead of log output")
}

// device is one configured BMS and its runtime state
type device struct {
	cfg     config.DeviceConfig
	vendor  *bms.Vendor
	session *bms.Session
	stats   *bms.Statistics
	conn    string
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	l, closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	if useTUI && cfg.Log.Output != "file" {
		l.SetOutput(io.Discard)
	}
	log = l

	devices, err := buildDevices(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		for _, d := range devices {
			m.AddStatistics(d.cfg.Name, d.stats)
		}
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, log); err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	var pub *publish.Publisher
	if cfg.Redis.Enabled {
		pub, err = publish.Dial(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	pollers := make([]*poller.Poller, 0, len(devices))
	for _, d := range devices {
		p, err := poller.New(poller.Config{
			Device:   d.cfg.Name,
			Vendor:   d.vendor.Key,
			Interval: d.cfg.Poll.Interval,
		}, d.session)
		if err != nil {
			return fmt.Errorf("device %q: %w", d.cfg.Name, err)
		}
		pollers = append(pollers, p)
	}

	results := make(chan poller.Result, len(devices))
	go poller.RunAll(ctx, pollers, results)

	defer func() {
		for _, d := range devices {
			d.session.Close()
		}
	}()

	var program *tea.Program
	if useTUI {
		program = tea.NewProgram(newDashboard(devices))
		go func() {
			<-ctx.Done()
			program.Quit()
		}()
	}

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for res := range results {
			handleResult(ctx, res, m, pub)
			if program != nil {
				program.Send(resultMsg(res))
			}
		}
	}()

	log.WithField("devices", len(devices)).Info("monitor started")

	if program != nil {
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		stop()
	}

	<-consumed
	log.Info("monitor stopped")
	return nil
}

func buildDevices(cfg *config.Config) ([]*device, error) {
	devices := make([]*device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		v, err := lookupVendor(dc.Vendor)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", dc.Name, err)
		}

		if dc.Transport == config.TransportWebSocket && dc.Username != "" && dc.Password == "" {
			dc.Password = os.Getenv("BMSSTAT_PASSWORD")
		}

		t, conn, err := transportFor(dc, v)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", dc.Name, err)
		}

		stats := bms.NewStatistics()
		session := bms.NewSession(v, t,
			bms.WithLogger(log.WithField("device", dc.Name)),
			bms.WithStatistics(stats),
			bms.WithTimeout(dc.Poll.Timeout),
			bms.WithRetries(dc.Poll.Retries),
			bms.WithKeepAlive(*dc.Poll.KeepAlive),
		)

		devices = append(devices, &device{
			cfg:     dc,
			vendor:  v,
			session: session,
			stats:   stats,
			conn:    conn,
		})
	}
	return devices, nil
}

func handleResult(ctx context.Context, res poller.Result, m *metrics.Metrics, pub *publish.Publisher) {
	entry := log.WithFields(logrus.Fields{
		"device":   res.Device,
		"vendor":   res.Vendor,
		"duration": res.Duration.Round(time.Millisecond),
	})

	if m != nil {
		m.ObserveCycle(res.Device, res.Vendor, res.Duration, res.Err)
	}
	if res.Err != nil {
		entry.WithError(res.Err).Warn("refresh failed")
		return
	}

	if m != nil {
		m.ObserveSample(res.Device, res.Vendor, res.Sample)
	}
	if pub != nil {
		if err := pub.Publish(ctx, res.Device, res.Vendor, res.Sample, res.At); err != nil && !errors.Is(err, context.Canceled) {
			entry.WithError(err).Warn("publish failed")
		}
	}

	fields := logrus.Fields{}
	for _, name := range []string{"voltage", "current", "battery_level", "power", "problem"} {
		if v := res.Sample.Get(name); v != nil {
			fields[name] = v
		}
	}
	entry.WithFields(fields).Info("sample")
}
