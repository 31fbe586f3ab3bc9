// Package metrics exposes the reconciliation and payout counters on the
// default Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpay_webhook_events_total",
		Help: "Webhook events received, by event type and outcome.",
	}, []string{"type", "outcome"})

	EventFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpay_webhook_event_failures_total",
		Help: "Webhook events that failed to apply and were handed back for retry.",
	}, []string{"type"})

	UnattributableTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpay_unattributable_payments_total",
		Help: "Provider-reported money movement with no matching ledger row.",
	}, []string{"type"})

	PayoutsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creatorpay_payouts_initiated_total",
		Help: "Payout requests accepted and handed to the transfer gateway.",
	})

	PayoutFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creatorpay_payout_failures_total",
		Help: "Payouts that failed at the transfer gateway.",
	})

	PayoutCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creatorpay_payout_cents_total",
		Help: "Total minor units handed to the transfer gateway.",
	})
)
