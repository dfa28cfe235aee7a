package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btr_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"result"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "btr_db_tx_seconds",
			Help:    "Duration of ticket ledger transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	SeatLockFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "btr_seat_lock_failures_total",
			Help: "SETNX losses on the ephemeral seat lock",
		},
	)

	TicketsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "btr_tickets_expired_total",
			Help: "Pending tickets flipped to expired by the sweep",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "btr_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "btr_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "btr_rate_limit_exceeded_total",
			Help: "Total rate limited requests",
		},
	)
)
