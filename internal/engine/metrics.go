package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	batchesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_batches_consumed_total",
		Help: "Total number of batches consumed from the score-submitted log",
	})

	eventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_events_consumed_total",
		Help: "Total number of messages consumed, valid or not",
	})

	eventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_events_applied_total",
		Help: "Total number of score events applied to the materialized views",
	})

	eventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_events_malformed_total",
		Help: "Total number of messages rejected during parse/validation",
	})

	eventsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_events_skipped_total",
		Help: "Total number of valid events skipped due to non-transient apply failures",
	})

	rankChangesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_rank_changes_published_total",
		Help: "Total number of rank-change notifications published",
	})

	cachePurges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_cache_purges_total",
		Help: "Total number of CDN purge requests issued for top-100 changes",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "leaderboard_batch_duration_seconds",
		Help:    "Duration of batch processing including store round trips",
		Buckets: prometheus.DefBuckets,
	})

	replayMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_replay_mode",
		Help: "1 while the engine is replaying the event log, 0 while tailing",
	})
)
