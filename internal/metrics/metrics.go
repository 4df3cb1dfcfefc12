package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchResults counts channel feed fetches by outcome and status code
	FetchResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_news_fetch_results_total",
			Help: "Total number of channel feed fetches",
		},
		[]string{"kind", "status"},
	)

	// FetchLatency tracks feed GET latency per channel
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrape_news_fetch_latency_seconds",
			Help:    "Feed fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// RecoveryAttempts counts requests issued by the recovery strategies
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_news_recovery_attempts_total",
			Help: "Total number of requests issued while recovering a failed fetch",
		},
		[]string{"class"},
	)

	// RecoveryOutcomes counts finished recoveries by class and result
	RecoveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_news_recovery_outcomes_total",
			Help: "Total number of recoveries by failure class and result",
		},
		[]string{"class", "result"},
	)

	// RecordsAccepted counts records that passed cleaning
	RecordsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_news_records_accepted_total",
			Help: "Total number of records accepted by the cleaner",
		},
		[]string{"channel"},
	)

	// RecordsQuarantined counts records moved to the quarantine buffer
	RecordsQuarantined = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_news_records_quarantined_total",
			Help: "Total number of records quarantined by the cleaner",
		},
		[]string{"channel"},
	)

	// Sessions counts session cache lookups by result (hit, acquired, failed)
	Sessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_news_sessions_total",
			Help: "Total number of session cache lookups",
		},
		[]string{"result"},
	)

	// RunDuration tracks the wall time of whole pipeline runs
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrape_news_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)
