// Package metrics exports scenario outcomes as Prometheus metrics, either
// over HTTP or as a node-exporter textfile written when a run finishes.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kuitang/scenario-suite/internal/suite"
)

const namespace = "scenario"

// Metrics holds the suite's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	Outcomes      *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	Flaky         *prometheus.CounterVec
	ConsoleErrors *prometheus.CounterVec
	LastStatus    *prometheus.GaugeVec
	RunDuration   prometheus.Gauge
	RunFailures   prometheus.Gauge
	RunTimestamp  prometheus.Gauge

	textfile string
}

// New registers the collectors. textfile, when set, is rewritten on Finish.
func New(textfile string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg:      reg,
		textfile: textfile,
		Outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Scenario outcomes by status and failure code",
			},
			[]string{"site", "status", "code"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "duration_seconds",
				Help:      "Wall time of a scenario run",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s to ~2m
			},
			[]string{"site"},
		),
		Flaky: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flaky_total",
				Help:      "Outcomes whose status differs from the previous run",
			},
			[]string{"scenario"},
		),
		ConsoleErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "console_errors_total",
				Help:      "Console errors captured from scenario pages",
			},
			[]string{"site"},
		),
		LastStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_passed",
				Help:      "1 if the scenario passed on its latest run, else 0",
			},
			[]string{"scenario", "browser"},
		),
		RunDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall time of the latest run",
		}),
		RunFailures: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "failures",
			Help:      "Failed scenarios in the latest run",
		}),
		RunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_finished_timestamp_seconds",
			Help:      "Unix time the latest run finished",
		}),
	}
}

// Registry exposes the private registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Record(_ context.Context, o *suite.Outcome) error {
	m.Outcomes.WithLabelValues(o.Site, string(o.Status), string(o.Code)).Inc()
	m.Duration.WithLabelValues(o.Site).Observe(o.Duration.Seconds())
	if o.Flaky {
		m.Flaky.WithLabelValues(o.Scenario).Inc()
	}
	if n := len(o.ConsoleErrors); n > 0 {
		m.ConsoleErrors.WithLabelValues(o.Site).Add(float64(n))
	}
	passed := 0.0
	if o.Passed() {
		passed = 1
	}
	m.LastStatus.WithLabelValues(o.Scenario, o.Browser).Set(passed)
	return nil
}

func (m *Metrics) Finish(_ context.Context, sum *suite.Summary) error {
	_, failed := sum.Counts()
	m.RunDuration.Set(sum.Duration.Seconds())
	m.RunFailures.Set(float64(failed))
	m.RunTimestamp.Set(float64(sum.StartedAt.Add(sum.Duration).Unix()))
	if m.textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.textfile, m.reg)
}
