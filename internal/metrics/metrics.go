// Package metrics records stage operation outcomes for Prometheus. The CLI
// is short lived, so metrics are written to a node_exporter textfile
// rather than served.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/stagehand/internal/core/stage"
	"github.com/example/stagehand/internal/ports/secondary"
)

// Noop implements secondary.Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveOperation(string, string, float64) {}
func (Noop) IncEvent(string, string)                  {}
func (Noop) SetPhase(string)                          {}

// Prom implements secondary.Metrics backed by a dedicated registry.
type Prom struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	events     *prometheus.CounterVec
	phase      *prometheus.GaugeVec
}

// NewProm constructs metrics under namespace on a fresh registry.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Stage operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Stage operation latency by operation",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"operation"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Dispatched lifecycle events by event and aggregate severity",
		}, []string{"event", "severity"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_phase",
			Help:      "1 for the current stage phase, 0 otherwise",
		}, []string{"phase"}),
	}
	p.registry.MustRegister(p.operations, p.duration, p.events, p.phase)
	return p
}

// Registry returns the registry the metrics are registered on.
func (p *Prom) Registry() *prometheus.Registry { return p.registry }

func (p *Prom) ObserveOperation(op, outcome string, durationSeconds float64) {
	p.operations.WithLabelValues(op, outcome).Inc()
	p.duration.WithLabelValues(op).Observe(durationSeconds)
}

func (p *Prom) IncEvent(kind, severity string) {
	p.events.WithLabelValues(kind, severity).Inc()
}

func (p *Prom) SetPhase(current string) {
	for _, ph := range phases {
		value := 0.0
		if string(ph) == current {
			value = 1
		}
		p.phase.WithLabelValues(string(ph)).Set(value)
	}
}

// WriteTextfile writes the current metrics to path in the text exposition
// format, replacing the file atomically.
func (p *Prom) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

var phases = []stage.Phase{
	stage.PhaseUncreated,
	stage.PhaseCreated,
	stage.PhaseRequiring,
	stage.PhaseRequired,
	stage.PhaseApplying,
	stage.PhaseApplied,
	stage.PhaseDestroyed,
	stage.PhaseFailed,
}

var (
	_ secondary.Metrics = Noop{}
	_ secondary.Metrics = (*Prom)(nil)
)
