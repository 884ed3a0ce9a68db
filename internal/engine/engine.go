// Package engine consumes the score-submitted log and maintains the ranked
// leaderboards and player aggregates in the store, publishing rank-change
// notifications while tailing and rebuilding silently while replaying.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes catch-up detection. Zero values fall back to the defaults
// from the service configuration.
type Config struct {
	// EmptyBatchThreshold is the number of consecutive zero-valid-event
	// batches that ends a replay.
	EmptyBatchThreshold int
	// IdleTimeout ends a replay when no batch has arrived for this long.
	IdleTimeout time.Duration
}

// Engine owns the long-lived consume loop and the replay state machine:
// Starting -> (Replaying) -> Tailing -> Stopping. It is the single writer of
// the replay bookkeeping; the idle watcher may only flip replaying to false,
// and does so through a CAS so the transition happens exactly once.
type Engine struct {
	cfg      Config
	store    Store
	source   EventSource
	notifier Notifier
	applier  *Applier
	logger   *zap.SugaredLogger
	clock    func() time.Time

	replaying     atomic.Bool
	emptyBatches  atomic.Int32
	lastBatch     atomic.Int64 // unix nanos of the last delivered batch
	replayApplied atomic.Int64
}

func New(cfg Config, st Store, source EventSource, notifier Notifier, logger *zap.Logger) *Engine {
	if cfg.EmptyBatchThreshold <= 0 {
		cfg.EmptyBatchThreshold = 3
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		source:   source,
		notifier: notifier,
		applier:  NewApplier(st, logger),
		logger:   logger.Sugar(),
		clock:    time.Now,
	}
}

// Run decides the startup mode, subscribes, and consumes until ctx is
// cancelled or the log client fails fatally. The current batch drains and
// commits before Run returns on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	replay := e.needsReplay(ctx)
	if replay {
		e.replaying.Store(true)
		replayMode.Set(1)
		e.logger.Infow("Materialized view empty, replaying event log from earliest offset")
		if !e.source.ResetGroupToEarliest(ctx) {
			e.logger.Warnw("Group offset reset failed, relying on from-beginning subscribe")
		}
	} else {
		e.logger.Infow("Materialized view present, tailing new events")
	}

	if err := e.source.Subscribe(replay); err != nil {
		return err
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if replay {
		e.lastBatch.Store(e.clock().UnixNano())
		go e.watchIdle(watchCtx)
	}

	return e.source.ConsumeBatches(ctx, e.handleBatch)
}

// Replaying reports whether the engine is still rebuilding state.
func (e *Engine) Replaying() bool {
	return e.replaying.Load()
}

// watchIdle ticks once per second during replay and declares catch-up when
// the broker has delivered nothing for the idle timeout: the tail has been
// reached and no new events are arriving.
func (e *Engine) watchIdle(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !e.replaying.Load() {
				return
			}
			last := time.Unix(0, e.lastBatch.Load())
			if e.clock().Sub(last) >= e.cfg.IdleTimeout {
				e.exitReplay("idle timeout")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// exitReplay flips the engine from replaying to tailing. The CAS guarantees
// the transition fires exactly once even when the empty-batch counter and
// the idle watcher race.
func (e *Engine) exitReplay(reason string) {
	if !e.replaying.CompareAndSwap(true, false) {
		return
	}
	e.emptyBatches.Store(0)
	replayMode.Set(0)
	e.logger.Infow("Replay complete, switching to tailing",
		"reason", reason, "eventsApplied", e.replayApplied.Load())
}
