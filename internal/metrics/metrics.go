// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports refresh results and protocol statistics to
// Prometheus
package metrics

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

const namespace = "bmsstat"

// Metrics holds the collectors of one daemon. Each instance owns its
// registry so tests and embedders never touch the global one.
type Metrics struct {
	registry *prometheus.Registry

	cycles   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	values   *prometheus.GaugeVec
	cells    *prometheus.GaugeVec
	temps    *prometheus.GaugeVec
	updated  *prometheus.GaugeVec

	stats *statsCollector
}

// New creates and registers every collector
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Refresh cycles by result",
		}, []string{"device", "vendor", "result"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of refresh cycles",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"device", "vendor"}),

		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sample_value",
			Help:      "Latest value of each scalar sample field; booleans are 0 or 1",
		}, []string{"device", "vendor", "field"}),

		cells: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cell_voltage_volts",
			Help:      "Latest cell voltages",
		}, []string{"device", "cell"}),

		temps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Latest temperature sensor readings",
		}, []string{"device", "sensor"}),

		updated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sample_timestamp_seconds",
			Help:      "Unix time of the latest successful refresh",
		}, []string{"device"}),

		stats: newStatsCollector(),
	}

	m.registry.MustRegister(
		m.cycles,
		m.duration,
		m.values,
		m.cells,
		m.temps,
		m.updated,
		m.stats,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// AddStatistics exports a session's protocol counters under device
func (m *Metrics) AddStatistics(device string, s *bms.Statistics) {
	m.stats.add(device, s)
}

// ObserveCycle records the outcome and duration of one refresh cycle
func (m *Metrics) ObserveCycle(device, vendor string, d time.Duration, err error) {
	m.cycles.WithLabelValues(device, vendor, cycleResult(err)).Inc()
	m.duration.WithLabelValues(device, vendor).Observe(d.Seconds())
}

func cycleResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, bms.ErrTimeout):
		return "timeout"
	case errors.Is(err, bms.ErrTransport):
		return "transport"
	case errors.Is(err, bms.ErrFraming):
		return "framing"
	case errors.Is(err, bms.ErrValidation):
		return "validation"
	case errors.Is(err, bms.ErrPartialResult):
		return "partial"
	}
	return "error"
}

// ObserveSample replaces the device's exported sample values. Fields absent
// from s are removed rather than left at their previous value.
func (m *Metrics) ObserveSample(device, vendor string, s *bms.Sample) {
	labels := prometheus.Labels{"device": device}
	m.values.DeletePartialMatch(labels)
	m.cells.DeletePartialMatch(labels)
	m.temps.DeletePartialMatch(labels)

	for name, v := range s.Map() {
		switch val := v.(type) {
		case float64:
			m.values.WithLabelValues(device, vendor, name).Set(val)
		case int:
			m.values.WithLabelValues(device, vendor, name).Set(float64(val))
		case uint64:
			m.values.WithLabelValues(device, vendor, name).Set(float64(val))
		case bool:
			g := 0.0
			if val {
				g = 1
			}
			m.values.WithLabelValues(device, vendor, name).Set(g)
		}
	}
	for i, v := range s.CellVoltages {
		m.cells.WithLabelValues(device, strconv.Itoa(i+1)).Set(v)
	}
	for i, v := range s.TempValues {
		m.temps.WithLabelValues(device, strconv.Itoa(i+1)).Set(v)
	}
	m.updated.WithLabelValues(device).SetToCurrentTime()
}

// ============================================================================
// Statistics Collector
// ============================================================================

// statsCollector reads every registered Statistics at scrape time
type statsCollector struct {
	mu      sync.Mutex
	devices map[string]*bms.Statistics

	frames     *prometheus.Desc
	rejected   *prometheus.Desc
	discarded  *prometheus.Desc
	unexpected *prometheus.Desc
	events     *prometheus.Desc
	rates      *prometheus.Desc
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		devices: make(map[string]*bms.Statistics),
		frames: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "frames", "total"),
			"Assembled frames by validation outcome",
			[]string{"device", "outcome"}, nil),
		rejected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "frames_rejected", "total"),
			"Frames rejected by validation, by anomaly",
			[]string{"device", "anomaly"}, nil),
		discarded: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "discarded_bytes", "total"),
			"Bytes dropped while resynchronizing",
			[]string{"device"}, nil),
		unexpected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "unsolicited_frames", "total"),
			"Valid frames that matched no pending request",
			[]string{"device"}, nil),
		events: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "protocol_events", "total"),
			"Retries, timeouts, decode and framing errors",
			[]string{"device", "event"}, nil),
		rates: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "frame_rate", "per_second"),
			"Frame and error rates since the statistics were reset",
			[]string{"device", "kind"}, nil),
	}
}

func (c *statsCollector) add(device string, s *bms.Statistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[device] = s
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frames
	ch <- c.rejected
	ch <- c.discarded
	ch <- c.unexpected
	ch <- c.events
	ch <- c.rates
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	stats := make([]*bms.Statistics, len(names))
	for i, name := range names {
		stats[i] = c.devices[name]
	}
	c.mu.Unlock()

	for i, device := range names {
		s := stats[i].Snapshot()
		counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), append([]string{device}, labels...)...)
		}

		counter(c.frames, s.ValidFrames, "valid")
		counter(c.frames, s.RejectedFrames(), "rejected")
		counter(c.rejected, s.LengthErrors, bms.AnomalyLengthMismatch.String())
		counter(c.rejected, s.MarkerErrors, bms.AnomalyMarkerMismatch.String())
		counter(c.rejected, s.TypeErrors, bms.AnomalyTypeMismatch.String())
		counter(c.rejected, s.ChecksumErrors, bms.AnomalyChecksumMismatch.String())
		counter(c.discarded, s.DiscardedBytes)
		counter(c.unexpected, s.Unsolicited)
		counter(c.events, s.Retries, "retry")
		counter(c.events, s.Timeouts, "timeout")
		counter(c.events, s.DecodeErrors, "decode_error")
		counter(c.events, s.FramingErrors, "framing_error")

		ch <- prometheus.MustNewConstMetric(c.rates, prometheus.GaugeValue, s.FrameRate, device, "frames")
		ch <- prometheus.MustNewConstMetric(c.rates, prometheus.GaugeValue, s.ErrorRate, device, "errors")
	}
}
