package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rickshaw_rides", Name: "rides_requested_total", Help: "Total ride requests created"})
	RidesAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rickshaw_rides", Name: "rides_accepted_total", Help: "Total successful ride acceptances"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rickshaw_rides", Name: "accept_conflicts_total", Help: "Accept attempts lost to another rickshaw"})
	RidesCompleted  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rickshaw_rides", Name: "rides_completed_total", Help: "Rides finished, by resulting status"},
		[]string{"status"},
	)
	RidesTimedOut  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rickshaw_rides", Name: "rides_timeout_total", Help: "Pending rides expired by the watchdog"})
	RidesCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rickshaw_rides", Name: "rides_cancelled_total", Help: "Rides reopened by a driver cancel"})

	PointsAwarded  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rickshaw_rides", Name: "points_awarded_total", Help: "Points credited for completed rides"})
	PointsRedeemed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rickshaw_rides", Name: "points_redeemed_total", Help: "Points spent on redemptions"})
	PointsExpired  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rickshaw_rides", Name: "points_expired_total", Help: "Points removed by expiry sweeps"})

	RickshawsOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "rickshaw_rides", Name: "rickshaws_online", Help: "Rickshaws currently reporting online"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rickshaw_rides", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rickshaw_rides",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
