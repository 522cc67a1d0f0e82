// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks live paired sessions by runtime status
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live paired-channel sessions by status",
		},
		[]string{"status"},
	)

	// SessionTransitionsTotal tracks session state machine transitions
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Total session state transitions by resulting status",
		},
		[]string{"status"},
	)

	// SessionReconnectsTotal tracks reconnect attempts after transient drops
	SessionReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Total reconnect attempts scheduled after transient drops",
		},
	)

	// IngestEventsTotal tracks inbound events by outcome
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total inbound events processed by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// IngestDuration tracks ingestion latency in seconds
	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of inbound event ingestion in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"channel"},
	)

	// ContactsCreatedTotal tracks contacts auto-created by ingestion
	ContactsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "ingest",
			Name:      "contacts_created_total",
			Help:      "Total contacts auto-created from inbound events",
		},
		[]string{"channel"},
	)

	// WebhookRejectedTotal tracks webhook deliveries rejected before parsing
	WebhookRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "webhook",
			Name:      "rejected_total",
			Help:      "Total webhook deliveries rejected by signature verification",
		},
		[]string{"reason"},
	)

	// DispatchTotal tracks outbound sends by channel and outcome
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dispatch",
			Name:      "sends_total",
			Help:      "Total outbound sends by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// DLQEventsTotal tracks inbound events pushed to the dead letter stream
	DLQEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dlq",
			Name:      "events_total",
			Help:      "Total inbound events sent to the dead letter stream",
		},
		[]string{"tenant_id", "reason"},
	)
)
