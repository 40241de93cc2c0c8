// Package metrics holds the process-wide Prometheus collectors of the synchronization core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatgenie"

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Messages appended to a log, by scope (channel or private) and kind.",
	}, []string{"scope", "kind"})

	SnapshotsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_applied_total",
		Help:      "Snapshots that replaced a materialized message list.",
	})

	SnapshotsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_dropped_total",
		Help:      "Snapshots discarded because their subscription target was no longer active.",
	})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Attachment uploads, by result.",
	}, []string{"result"})

	UploadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Bytes stored by successful attachment uploads.",
	})

	PresenceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_transitions_total",
		Help:      "Presence writes, by new state and cause.",
	}, []string{"state", "cause"})

	FeedStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_streams",
		Help:      "Snapshot streams currently served over websocket connections.",
	})
)
