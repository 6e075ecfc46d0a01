package p2p

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "p2p"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of discovered peers in the table.
	Peers metrics.Gauge
	// Number of blocked peers.
	BlockedPeers metrics.Gauge
	// Number of peers evicted, by reason.
	PeerEvictions metrics.Counter
	// Number of envelopes received, by code.
	MessagesReceived metrics.Counter
	// Number of envelopes sent, by code.
	MessagesSent metrics.Counter
	// Number of inbound envelopes dropped, by reason.
	MessagesDropped metrics.Counter
	// Number of outbound calls that failed.
	CallFailures metrics.Counter
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
		Peers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers",
			Help:      "Number of discovered peers.",
		}, labels).With(labelsAndValues...),
		BlockedPeers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blocked_peers",
			Help:      "Number of blocked peers.",
		}, labels).With(labelsAndValues...),
		PeerEvictions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peer_evictions",
			Help:      "Number of peers evicted from the table.",
		}, withLabel(labels, "reason")).With(labelsAndValues...),
		MessagesReceived: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "messages_received",
			Help:      "Number of envelopes received.",
		}, withLabel(labels, "code")).With(labelsAndValues...),
		MessagesSent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "messages_sent",
			Help:      "Number of envelopes sent.",
		}, withLabel(labels, "code")).With(labelsAndValues...),
		MessagesDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "messages_dropped",
			Help:      "Number of inbound envelopes dropped by the filter.",
		}, withLabel(labels, "reason")).With(labelsAndValues...),
		CallFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "call_failures",
			Help:      "Number of outbound calls that failed or timed out.",
		}, labels).With(labelsAndValues...),
	}
}

func withLabel(labels []string, label string) []string {
	return append(append(make([]string, 0, len(labels)+1), labels...), label)
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Peers:            discard.NewGauge(),
		BlockedPeers:     discard.NewGauge(),
		PeerEvictions:    discard.NewCounter(),
		MessagesReceived: discard.NewCounter(),
		MessagesSent:     discard.NewCounter(),
		MessagesDropped:  discard.NewCounter(),
		CallFailures:     discard.NewCounter(),
	}
}
