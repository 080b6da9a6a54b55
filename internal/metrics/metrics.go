// Package metrics exposes the service's Prometheus instrumentation.
// Counters are registered on the default registry and served by the
// /metrics handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPasses counts completed sync passes, by outcome.
	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowdesk",
		Subsystem: "sync",
		Name:      "passes_total",
		Help:      "Sync passes by outcome (ok, error, busy).",
	}, []string{"outcome"})

	// EmailsFetched counts messages retrieved from the mailbox.
	EmailsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowdesk",
		Subsystem: "sync",
		Name:      "emails_fetched_total",
		Help:      "Messages fetched from the mailbox across all passes.",
	})

	// TicketsCreated counts tickets synthesized from messages.
	TicketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowdesk",
		Subsystem: "sync",
		Name:      "tickets_created_total",
		Help:      "Tickets created across all passes.",
	})

	// DuplicatesSkipped counts drafts dropped on the uniqueness constraint.
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowdesk",
		Subsystem: "sync",
		Name:      "duplicates_skipped_total",
		Help:      "Ticket drafts skipped because the message already had a ticket.",
	})

	// NotificationFailures counts best-effort assignment notices that did
	// not send.
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowdesk",
		Subsystem: "notifications",
		Name:      "failures_total",
		Help:      "Assignment notifications that failed to send.",
	})
)
