package blocksync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "blocksync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of blocks waiting for a missing ancestor.
	Orphans metrics.Gauge
	// Number of blocks handed to the pending queue.
	BlocksAccepted metrics.Counter
	// Number of blocks rejected by the pending consumer, by reason.
	BlocksRejected metrics.Counter
	// Number of blocks written to the chain store.
	BlocksWritten metrics.Counter
	// Height of the last written block.
	Height metrics.Gauge
	// Number of pending batches dropped because the queue was full.
	PendingDropped metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Orphans: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "orphans",
			Help:      "Number of cached orphan blocks.",
		}, labels).With(labelsAndValues...),
		BlocksAccepted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blocks_accepted",
			Help:      "Number of blocks queued for validation.",
		}, labels).With(labelsAndValues...),
		BlocksRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blocks_rejected",
			Help:      "Number of queued blocks that failed validation.",
		}, append(append([]string{}, labels...), "reason")).With(labelsAndValues...),
		BlocksWritten: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blocks_written",
			Help:      "Number of blocks written to the chain store.",
		}, labels).With(labelsAndValues...),
		Height: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "height",
			Help:      "Height of the last written block.",
		}, labels).With(labelsAndValues...),
		PendingDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending_dropped",
			Help:      "Number of block batches dropped on a full pending queue.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Orphans:        discard.NewGauge(),
		BlocksAccepted: discard.NewCounter(),
		BlocksRejected: discard.NewCounter(),
		BlocksWritten:  discard.NewCounter(),
		Height:         discard.NewGauge(),
		PendingDropped: discard.NewCounter(),
	}
}
