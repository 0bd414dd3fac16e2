// Package metrics holds the engine's Prometheus collectors. Collectors are
// registered on an injected Registerer so tests can use a fresh registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// VotesTotal counts vote requests by target kind and outcome
	// (inserted, switched, unchanged, or the rejection reason).
	VotesTotal *prometheus.CounterVec

	// SubmissionsTotal counts item submissions by outcome.
	SubmissionsTotal *prometheus.CounterVec

	// CommentsTotal counts comment operations by op and outcome.
	CommentsTotal *prometheus.CounterVec

	SweepDuration   prometheus.Histogram
	SweepItemsTotal *prometheus.CounterVec

	// KarmaAdjustmentsTotal counts asynchronous karma adjustments by result.
	KarmaAdjustmentsTotal *prometheus.CounterVec
	KarmaQueueDropped     prometheus.Counter

	RankIndexSize prometheus.Gauge

	HTTPRequestsTotal *prometheus.CounterVec
}

// New registers every collector on reg. A nil reg gets a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		VotesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrank_votes_total",
			Help: "Vote requests by target kind and outcome",
		}, []string{"target", "outcome"}),
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrank_submissions_total",
			Help: "Item submissions by outcome",
		}, []string{"outcome"}),
		CommentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrank_comments_total",
			Help: "Comment operations by op and outcome",
		}, []string{"op", "outcome"}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsrank_sweep_duration_seconds",
			Help:    "Duration of a full decay sweep",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}),
		SweepItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrank_sweep_items_total",
			Help: "Items visited by the decay sweep by outcome",
		}, []string{"outcome"}),
		KarmaAdjustmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrank_karma_adjustments_total",
			Help: "Asynchronous karma adjustments by result",
		}, []string{"result"}),
		KarmaQueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsrank_karma_queue_dropped_total",
			Help: "Karma adjustments dropped because the queue was full",
		}),
		RankIndexSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "newsrank_rank_index_items",
			Help: "Live items in the rank index",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrank_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "status"}),
	}
}
