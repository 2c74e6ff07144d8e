package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/san-kum/pimd/internal/properties"
	"github.com/san-kum/pimd/internal/socket"
)

// Collector exposes the live state of one run as prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	steps        prometheus.Counter
	stepLatency  prometheus.Histogram
	forceLatency *prometheus.HistogramVec
	reconnects   prometheus.Counter
	checkpoints  prometheus.Counter
	phase        *prometheus.GaugeVec
	properties   *prometheus.GaugeVec
	drift        prometheus.Gauge
	uptime       prometheus.Gauge
	startTime    time.Time
}

// NewCollector creates a collector whose series carry the run id as a
// constant label.
func NewCollector(namespace, runID string) *Collector {
	if namespace == "" {
		namespace = "pimd"
	}
	labels := prometheus.Labels{"run_id": runID}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.steps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "steps_total",
		Help:        "Integration steps completed",
		ConstLabels: labels,
	})

	c.stepLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "step_duration_seconds",
		Help:        "Wall time of one integration step including force evaluation",
		Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 16), // 100us to ~3s
		ConstLabels: labels,
	})

	c.forceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   "socket",
		Name:        "exchange_duration_seconds",
		Help:        "Wall time of one bead force exchange with the driver",
		Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 16),
		ConstLabels: labels,
	}, []string{"provider"})

	c.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "socket",
		Name:        "reconnects_total",
		Help:        "Reconnections to the force provider",
		ConstLabels: labels,
	})

	c.checkpoints = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "checkpoints_total",
		Help:        "Checkpoints written",
		ConstLabels: labels,
	})

	c.phase = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "phase",
		Help:        "1 for the current run phase, 0 otherwise",
		ConstLabels: labels,
	}, []string{"phase"})

	c.properties = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "property",
		Help:        "Last reported value of a scalar property in internal units",
		ConstLabels: labels,
	}, []string{"name"})

	c.drift = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "conserved_energy_drift",
		Help:        "Relative drift of the conserved quantity since the first report",
		ConstLabels: labels,
	})

	c.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "uptime_seconds",
		Help:        "Seconds since the run started",
		ConstLabels: labels,
	})

	c.registry.MustRegister(
		c.steps,
		c.stepLatency,
		c.forceLatency,
		c.reconnects,
		c.checkpoints,
		c.phase,
		c.properties,
		c.drift,
		c.uptime,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordStep(duration time.Duration) {
	c.steps.Inc()
	c.stepLatency.Observe(duration.Seconds())
	c.uptime.Set(time.Since(c.startTime).Seconds())
}

func (c *Collector) RecordProperties(v properties.Values) {
	for name, x := range v {
		c.properties.WithLabelValues(name).Set(x)
	}
}

func (c *Collector) RecordDrift(drift float64) {
	c.drift.Set(drift)
}

func (c *Collector) RecordCheckpoint() {
	c.checkpoints.Inc()
}

// RecordPhase marks phase as current among all known phases.
func (c *Collector) RecordPhase(phase string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		c.phase.WithLabelValues(p).Set(v)
	}
}

// SocketHooks feeds socket client events into the collector.
func (c *Collector) SocketHooks(provider string) socket.Hooks {
	latency := c.forceLatency.WithLabelValues(provider)
	return socket.Hooks{
		OnExchange: func(_ int, elapsed time.Duration) {
			latency.Observe(elapsed.Seconds())
		},
		OnReconnect: func() {
			c.reconnects.Inc()
		},
	}
}
