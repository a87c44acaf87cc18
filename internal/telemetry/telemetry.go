// Package telemetry wraps the kernel's own counters and gauges in a
// Prometheus registry, in the shape of the teacher's
// internal/ebpf/metrics.Metrics: a struct of prometheus.Collector fields
// built once at construction and registered against a dedicated registry
// (never the global DefaultRegisterer), scoped to the handful of series
// the kernel itself produces (cycles, online devices, scan failures,
// connection admission).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus series the kernel exports.
type Collector struct {
	registry *prometheus.Registry

	Cycles              prometheus.Counter
	DevicesOnline       *prometheus.GaugeVec
	ScanFailuresTotal   *prometheus.CounterVec
	ConnectionsAllowed  *prometheus.CounterVec
	ConnectionsDenied   *prometheus.CounterVec
	SimTimeSeconds      prometheus.Gauge
	GridFrequencyHz     *prometheus.GaugeVec
}

// NewCollector builds a Collector and registers all of its series against
// a fresh registry (not prometheus.DefaultRegisterer), so multiple
// simulator instances in one process (as in tests) never collide on
// duplicate registration.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icsrange_tick_cycles_total",
			Help: "Total number of orchestrator tick-loop iterations.",
		}),
		DevicesOnline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "icsrange_devices_online",
			Help: "Whether a device is currently online (1) or faulted (0).",
		}, []string{"device", "kind"}),
		ScanFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icsrange_scan_failures_total",
			Help: "Total number of failed device scan cycles.",
		}, []string{"device"}),
		ConnectionsAllowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icsrange_connections_allowed_total",
			Help: "Total number of admitted protocol-server connections.",
		}, []string{"device", "protocol"}),
		ConnectionsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icsrange_connections_denied_total",
			Help: "Total number of protocol-server connections denied by the network gate.",
		}, []string{"device", "protocol"}),
		SimTimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "icsrange_sim_time_seconds",
			Help: "Current simulated time, in seconds, since the clock was created.",
		}),
		GridFrequencyHz: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "icsrange_grid_frequency_hz",
			Help: "Current grid frequency as reported by the grid integrator.",
		}, []string{"device"}),
	}

	reg.MustRegister(
		c.Cycles,
		c.DevicesOnline,
		c.ScanFailuresTotal,
		c.ConnectionsAllowed,
		c.ConnectionsDenied,
		c.SimTimeSeconds,
		c.GridFrequencyHz,
	)
	return c
}

// Registry returns the Collector's dedicated registry, for wiring into an
// HTTP /metrics handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// SetDeviceOnline records a device's online/offline status as a 1/0 gauge.
func (c *Collector) SetDeviceOnline(device, kind string, online bool) {
	v := 0.0
	if online {
		v = 1.0
	}
	c.DevicesOnline.WithLabelValues(device, kind).Set(v)
}

// RecordScanFailure increments the scan-failure counter for device.
func (c *Collector) RecordScanFailure(device string) {
	c.ScanFailuresTotal.WithLabelValues(device).Inc()
}

// RecordConnectionAllowed increments the admitted-connection counter.
func (c *Collector) RecordConnectionAllowed(device, protocol string) {
	c.ConnectionsAllowed.WithLabelValues(device, protocol).Inc()
}

// RecordConnectionDenied increments the denied-connection counter.
func (c *Collector) RecordConnectionDenied(device, protocol string) {
	c.ConnectionsDenied.WithLabelValues(device, protocol).Inc()
}
