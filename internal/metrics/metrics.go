// Package metrics turns operation and transfer events into Prometheus
// series. A Metrics registers on its own registry so several sessions (and
// tests) never collide on the default one.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cloudtree/cloudtree/internal/cloud"
	"github.com/cloudtree/cloudtree/internal/transfer"
)

const namespace = "cloudtree"

// Metrics holds the collectors fed by Operations and Transfers.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	transfersTotal    *prometheus.CounterVec
	transfersInFlight *prometheus.GaugeVec
	transferBytes     *prometheus.CounterVec

	now func() time.Time

	mu      sync.Mutex
	started map[string]time.Time // invocation ID -> first IN_PROGRESS
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Finished container operations by outcome",
			},
			[]string{"operation", "state"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Time from the first to the terminal event of an operation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Finished transfers by outcome",
			},
			[]string{"direction", "state"},
		),
		transfersInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transfers_in_flight",
				Help:      "Transfers started and not yet finished",
			},
			[]string{"direction"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_bytes_total",
				Help:      "Bytes moved by finished transfers",
			},
			[]string{"direction"},
		),
		now:     time.Now,
		started: make(map[string]time.Time),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Operations returns a listener for cloud operation events. Register it on
// a Session to observe every container.
func Operations[N any](m *Metrics) cloud.OperationListener[N] {
	return func(e cloud.OperationEvent[N]) {
		m.observeOperation(e.InvocationID, e.Operation.String(), e.State)
	}
}

func (m *Metrics) observeOperation(invocation, op string, state cloud.OperationState) {
	m.mu.Lock()
	start, seen := m.started[invocation]

	if !state.Terminal() {
		if !seen {
			m.started[invocation] = m.now()
		}
		m.mu.Unlock()

		return
	}

	delete(m.started, invocation)
	m.mu.Unlock()

	m.operationsTotal.WithLabelValues(op, state.String()).Inc()

	if seen {
		m.operationDuration.WithLabelValues(op).Observe(m.now().Sub(start).Seconds())
	}
}

// Transfers returns a listener for transfer job events.
func (m *Metrics) Transfers() transfer.Listener {
	return func(e transfer.Event) {
		dir := e.Direction.String()

		switch {
		case e.State == transfer.Initialised:
			m.transfersInFlight.WithLabelValues(dir).Inc()
		case e.State.Terminal():
			m.transfersInFlight.WithLabelValues(dir).Dec()
			m.transfersTotal.WithLabelValues(dir, e.State.String()).Inc()
			m.transferBytes.WithLabelValues(dir).Add(float64(e.Bytes))
		}
	}
}

// WriteTextfile writes the current values in the node_exporter textfile
// format. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
