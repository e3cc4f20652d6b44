// Package metrics exports run results in the Prometheus text format for the
// node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/newtron-network/fibopt/pkg/prefixlist"
)

const namespace = "fib_optimizer"

// Metrics holds the gauges of one run
type Metrics struct {
	registry *prometheus.Registry

	Entries  *prometheus.GaugeVec
	Added    *prometheus.GaugeVec
	Removed  *prometheus.GaugeVec
	Retained *prometheus.GaugeVec
	Capacity *prometheus.GaugeVec

	RunSuccess   prometheus.Gauge
	LastRun      prometheus.Gauge
	RunDuration  prometheus.Gauge
	AbortedState *prometheus.GaugeVec
}

// New creates the run gauges on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	classGauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "list",
			Name:      name,
			Help:      help,
		}, []string{"class"})
	}

	return &Metrics{
		registry: reg,
		Entries:  classGauge("entries", "Entries in the persisted prefix list"),
		Added:    classGauge("added", "Entries added by the last run"),
		Removed:  classGauge("removed", "Entries removed by the last run"),
		Retained: classGauge("retained", "Entries kept with their sequence number by the last run"),
		Capacity: classGauge("capacity", "Configured prefix list capacity"),
		RunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "1 if the last run completed, 0 if it aborted",
		}),
		LastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		AbortedState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aborted",
			Help:      "1 for the state the last run aborted in",
		}, []string{"state"}),
	}
}

// ObserveClass records the outcome of reconciling one class
func (m *Metrics) ObserveClass(class prefixlist.Class, old, next prefixlist.List, capacity int) {
	s := prefixlist.Summarize(old, next)
	c := class.String()
	m.Entries.WithLabelValues(c).Set(float64(s.Total))
	m.Added.WithLabelValues(c).Set(float64(s.Added))
	m.Removed.WithLabelValues(c).Set(float64(s.Removed))
	m.Retained.WithLabelValues(c).Set(float64(s.Retained))
	m.Capacity.WithLabelValues(c).Set(float64(capacity))
}

// ObserveRun records how the run ended. abortedIn is empty for a completed run.
func (m *Metrics) ObserveRun(finished time.Time, duration time.Duration, abortedIn string) {
	m.LastRun.Set(float64(finished.Unix()))
	m.RunDuration.Set(duration.Seconds())
	if abortedIn == "" {
		m.RunSuccess.Set(1)
		return
	}
	m.RunSuccess.Set(0)
	m.AbortedState.WithLabelValues(abortedIn).Set(1)
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile atomically writes every metric to path
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
