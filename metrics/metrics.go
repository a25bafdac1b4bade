// Package metrics holds the prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Attributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "referral",
		Name:      "attributions_total",
		Help:      "Attribution attempts by outcome.",
	}, []string{"outcome"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "ambassador",
		Name:      "transitions_total",
		Help:      "Onboarding state machine transitions.",
	}, []string{"transition"})

	GatingDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "ambassador",
		Name:      "gating_denials_total",
		Help:      "Transitions refused by a gating condition, by reason code.",
	}, []string{"reason"})

	CommissionsAccrued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "ledger",
		Name:      "commissions_accrued_total",
		Help:      "Commission entries appended, by status.",
	}, []string{"status"})

	CommissionCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "ledger",
		Name:      "commission_cents_total",
		Help:      "Sum of accrued commission amounts in minor units, by status.",
	}, []string{"status"})

	BillingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "billing",
		Name:      "events_total",
		Help:      "Billing webhook events by type and result.",
	}, []string{"type", "result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Best-effort notification deliveries by result.",
	}, []string{"result"})
)
