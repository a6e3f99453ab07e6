// Package metrics exposes the asset hub's Prometheus collectors.
//
// Metrics are grouped the way the source organizes its cluster metrics:
// one block per subsystem (snapshots, listeners, queries, change log,
// artifacts), registered once at package init and updated by the
// components that own the corresponding state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Snapshot metrics
	SnapshotsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assethub_snapshots_open",
		Help: "Number of snapshot handles currently pinning a read transaction.",
	})

	SnapshotsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assethub_snapshots_opened_total",
		Help: "Total number of snapshot handles opened.",
	})

	// Listener / broadcaster metrics
	ListenersRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assethub_listeners_registered",
		Help: "Number of listener registrations currently held by the broadcaster.",
	})

	ListenersEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assethub_listeners_evicted_total",
		Help: "Total number of listeners evicted after a failed delivery.",
	})

	CommitEventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assethub_commit_events_dropped_total",
		Help: "Total number of commit notifications dropped because a listener queue was full.",
	})

	UpdatesDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assethub_updates_delivered_total",
		Help: "Total number of update notifications successfully delivered to listeners.",
	})

	// RPC / query metrics
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assethub_queries_total",
		Help: "Total number of snapshot queries by operation and outcome.",
	}, []string{"op", "status"})

	QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assethub_query_duration_seconds",
		Help:    "Snapshot query latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assethub_connections_active",
		Help: "Number of currently connected RPC vats.",
	})

	ConnectionsAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assethub_connections_accepted_total",
		Help: "Total number of accepted TCP connections.",
	})

	ConnectionsRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assethub_connections_rejected_total",
		Help: "Total number of connections rejected because the connection limit was reached.",
	})

	// Artifact regeneration metrics
	ArtifactRegenDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assethub_artifact_regeneration_duration_seconds",
		Help:    "Time taken to regenerate an on-demand artifact.",
		Buckets: prometheus.DefBuckets,
	})

	ArtifactRegenFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assethub_artifact_regeneration_failures_total",
		Help: "Total number of artifact regeneration failures.",
	})

	// Change log metrics
	ChangeLogLatestSeq = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assethub_changelog_latest_seq",
		Help: "The greatest change-log sequence number observed by the writer.",
	})
)

func init() {
	prometheus.MustRegister(
		SnapshotsOpen,
		SnapshotsOpenedTotal,
		ListenersRegistered,
		ListenersEvictedTotal,
		CommitEventsDroppedTotal,
		UpdatesDeliveredTotal,
		QueriesTotal,
		QueryDuration,
		ConnectionsActive,
		ConnectionsAcceptedTotal,
		ConnectionsRejectedTotal,
		ArtifactRegenDuration,
		ArtifactRegenFailuresTotal,
		ChangeLogLatestSeq,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
