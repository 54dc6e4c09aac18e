// Package metrics defines the prometheus collectors shared by the replica,
// the sequencer, the replication link and the commit streams.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the prefix of every metric exported by the server.
const Namespace = "pad"

// NewCounter creates a counter vector under the global namespace.
func NewCounter(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewGauge creates a gauge vector under the global namespace.
func NewGauge(name, subsystem, help string, labels []string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

var (
	commits = NewCounter(
		"commits_total",
		"replica",
		"commits appended to replica logs",
		[]string{"outcome"},
	)
	// CommitsApplied counts commits folded into a replica log.
	CommitsApplied = commits.WithLabelValues("applied")
	// CommitsBlanked counts commits whose diff could not be applied and were
	// logged empty.
	CommitsBlanked = commits.WithLabelValues("blanked")

	// Waiters tracks long-poll requests parked on a future revision.
	Waiters = NewGauge(
		"waiters",
		"replica",
		"long-poll requests waiting for a revision",
		[]string{},
	).WithLabelValues()

	// Documents tracks documents materialized on this replica.
	Documents = NewGauge(
		"documents",
		"replica",
		"documents held in memory",
		[]string{},
	).WithLabelValues()

	// StreamClients tracks open WebSocket commit streams.
	StreamClients = NewGauge(
		"clients",
		"stream",
		"open commit streams",
		[]string{},
	).WithLabelValues()

	submissions = NewCounter(
		"submissions_total",
		"sequencer",
		"commits submitted to the master",
		[]string{"outcome"},
	)
	// SubmissionsOrdered counts commits assigned a global slot.
	SubmissionsOrdered = submissions.WithLabelValues("ordered")
	// SubmissionsDropped counts malformed commits acknowledged and dropped.
	SubmissionsDropped = submissions.WithLabelValues("dropped")

	// LinkRetries counts failed fetches from the master.
	LinkRetries = NewCounter(
		"fetch_retries_total",
		"link",
		"failed fetches from the master that were retried",
		[]string{},
	).WithLabelValues()

	// LinkSlot is the next global slot the link will fetch.
	LinkSlot = NewGauge(
		"slot",
		"link",
		"next global slot to fetch from the master",
		[]string{},
	).WithLabelValues()
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
