package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store failures are swallowed at the wire (providers always get their
// acknowledgement), so these counters are the only place they surface.
// Alert on PostbackStoreFailures > 0 and reconcile against the ledger.
var (
	PostbacksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerwall_postbacks_received_total",
		Help: "Postbacks received, by provider and terminal outcome",
	}, []string{"provider", "outcome"})

	PostbacksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerwall_postbacks_rejected_total",
		Help: "Postbacks rejected before processing, by provider and reason",
	}, []string{"provider", "reason"})

	PostbackStoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerwall_postback_store_failures_total",
		Help: "Store errors hidden behind a provider-success response",
	}, []string{"provider"})

	PointsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerwall_points_credited_total",
		Help: "Points credited to user balances, by provider",
	}, []string{"provider"})

	PointsReversed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerwall_points_reversed_total",
		Help: "Points clawed back by reversal postbacks, by provider",
	}, []string{"provider"})
)
