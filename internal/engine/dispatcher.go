package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gamestack/leaderboard-engine/internal/eventlog"
	"github.com/gamestack/leaderboard-engine/internal/models"
	"github.com/gamestack/leaderboard-engine/internal/notify"
	"github.com/gamestack/leaderboard-engine/internal/store"
)

const (
	// topN bounds the ranks that trigger a CDN purge: a change purges when
	// its old or new rank is within it.
	topN = 100
	// maxConcurrentKeys bounds fan-out across independent keys within a batch.
	maxConcurrentKeys = 8

	replayLogEvery = 5000
)

// handleBatch processes one consumed batch: decode and validate, replay
// bookkeeping, initial rank snapshot, hot-group/singleton split, application,
// and (while tailing) rank-change diffs. Returning an error aborts the batch
// before its offsets commit, so the log client redelivers it.
func (e *Engine) handleBatch(ctx context.Context, batch eventlog.Batch) error {
	start := time.Now()
	batchesConsumed.Inc()
	eventsConsumed.Add(float64(len(batch.Messages)))

	events := e.decodeBatch(batch)

	if e.replaying.Load() {
		e.lastBatch.Store(e.clock().UnixNano())
		if len(events) == 0 {
			if int(e.emptyBatches.Add(1)) >= e.cfg.EmptyBatchThreshold {
				e.exitReplay("consecutive empty batches")
			}
		} else {
			e.emptyBatches.Store(0)
		}
	}
	if len(events) == 0 {
		return nil
	}

	now := e.clock()
	// Mode is sampled once per batch; a mid-batch idle-watcher flip takes
	// effect on the next batch.
	tailing := !e.replaying.Load()

	// Group by (player, game mode), preserving arrival order within and
	// across keys.
	order := make([]models.GroupKey, 0, len(events))
	groups := make(map[models.GroupKey][]*models.ScoreEvent, len(events))
	for _, ev := range events {
		k := ev.Key()
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ev)
	}

	// Old ranks for downstream diffs, read once per distinct key before any
	// write from this batch lands.
	initial, err := e.snapshotRanks(ctx, order)
	if err != nil {
		return err
	}

	var hot []models.GroupKey
	var singles []*models.ScoreEvent
	for _, k := range order {
		if len(groups[k]) >= 2 {
			hot = append(hot, k)
		} else {
			singles = append(singles, groups[k][0])
		}
	}

	// Hot groups are sequential per key, concurrent across keys, and
	// independent of the singleton pipeline.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentKeys)
	for _, k := range hot {
		g.Go(func() error {
			return e.processHotGroup(gctx, k, groups[k], initial[k], tailing, now)
		})
	}
	g.Go(func() error {
		return e.processSingletons(gctx, singles, initial, tailing, now)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if e.replaying.Load() {
		applied := e.replayApplied.Add(int64(len(events)))
		if applied%replayLogEvery < int64(len(events)) {
			e.logger.Infow("Replay progress", "eventsApplied", applied)
		}
	}

	batchDuration.Observe(time.Since(start).Seconds())
	return nil
}

// decodeBatch parses and validates every message, logging and skipping the
// malformed ones so surrounding events keep flowing.
func (e *Engine) decodeBatch(batch eventlog.Batch) []*models.ScoreEvent {
	events := make([]*models.ScoreEvent, 0, len(batch.Messages))
	for _, msg := range batch.Messages {
		ev, err := models.DecodeScoreEvent(msg.Value)
		if err != nil {
			eventsMalformed.Inc()
			e.logger.Warnw("Skipping malformed event",
				"partition", batch.Partition, "offset", msg.Offset, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// snapshotRanks reads each distinct key's current global rank with bounded
// fan-out. A missing member maps to a nil entry (no prior rank).
func (e *Engine) snapshotRanks(ctx context.Context, keys []models.GroupKey) (map[models.GroupKey]*models.RankScore, error) {
	out := make(map[models.GroupKey]*models.RankScore, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentKeys)
	for _, k := range keys {
		g.Go(func() error {
			rs, err := e.store.ZRevRankWithScore(gctx, store.GlobalLeaderboardKey(k.GameMode), k.PlayerID)
			if err != nil {
				return err
			}
			mu.Lock()
			out[k] = rs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// processHotGroup applies a key's events strictly in arrival order. Each
// event's diff uses the rank current immediately before that application:
// the running rank for follow-up events, the pre-batch snapshot for the
// first. During replay the running rank is still maintained even though
// notifications are suppressed, mirroring the pre-batch snapshot semantics
// documented in DESIGN.md.
func (e *Engine) processHotGroup(ctx context.Context, key models.GroupKey, evs []*models.ScoreEvent, initial *models.RankScore, tailing bool, now time.Time) error {
	var prev *int64
	if initial != nil {
		r := initial.Rank
		prev = &r
	}

	for _, ev := range evs {
		if _, err := e.applier.Apply(ctx, ev, now); err != nil {
			if isFatalStoreErr(ctx, err) {
				return err
			}
			eventsSkipped.Inc()
			e.logger.Errorw("Skipping event after apply failure",
				"playerId", key.PlayerID, "gameMode", key.GameMode, "error", err)
			continue
		}
		eventsApplied.Inc()

		rs, err := e.store.ZRevRankWithScore(ctx, store.GlobalLeaderboardKey(key.GameMode), key.PlayerID)
		if err != nil {
			if isFatalStoreErr(ctx, err) {
				return err
			}
			e.logger.Errorw("Failed to read rank after apply",
				"playerId", key.PlayerID, "gameMode", key.GameMode, "error", err)
			continue
		}
		if rs == nil {
			continue
		}
		if tailing && (prev == nil || *prev != rs.Rank) {
			e.notifyChange(ctx, key, prev, rs, now)
		}
		r := rs.Rank
		prev = &r
	}
	return nil
}

// processSingletons applies all singleton events in one pipelined round trip
// and, while tailing, diffs each against the pre-batch snapshot with bounded
// fan-out, joining before the batch commits.
func (e *Engine) processSingletons(ctx context.Context, evs []*models.ScoreEvent, initial map[models.GroupKey]*models.RankScore, tailing bool, now time.Time) error {
	if len(evs) == 0 {
		return nil
	}

	if _, err := e.applier.ApplyAll(ctx, evs, now); err != nil {
		if isFatalStoreErr(ctx, err) {
			return err
		}
		eventsSkipped.Add(float64(len(evs)))
		e.logger.Errorw("Skipping singleton pipeline after apply failure",
			"events", len(evs), "error", err)
		return nil
	}
	eventsApplied.Add(float64(len(evs)))

	if !tailing {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentKeys)
	for _, ev := range evs {
		g.Go(func() error {
			key := ev.Key()
			rs, err := e.store.ZRevRankWithScore(gctx, store.GlobalLeaderboardKey(key.GameMode), key.PlayerID)
			if err != nil {
				if isFatalStoreErr(gctx, err) {
					return err
				}
				e.logger.Errorw("Failed to read rank after apply",
					"playerId", key.PlayerID, "gameMode", key.GameMode, "error", err)
				return nil
			}
			if rs == nil {
				return nil
			}
			var prev *int64
			if init := initial[key]; init != nil {
				r := init.Rank
				prev = &r
			}
			if prev == nil || *prev != rs.Rank {
				e.notifyChange(gctx, key, prev, rs, now)
			}
			return nil
		})
	}
	return g.Wait()
}

// notifyChange publishes the rank change and purges the CDN when the old or
// the new rank is within the top 100, including moves inside the top 100.
func (e *Engine) notifyChange(ctx context.Context, key models.GroupKey, prev *int64, rs *models.RankScore, now time.Time) {
	rc := models.NewRankChange(key.GameMode, key.PlayerID, prev, rs.Rank, rs.Score, now)
	e.notifier.PublishRankChange(ctx, rc)
	rankChangesPublished.Inc()

	if (prev != nil && *prev <= topN) || rs.Rank <= topN {
		cachePurges.Inc()
		e.notifier.PurgeCache(ctx, notify.TopPaths(key.GameMode))
	}
}

// isFatalStoreErr separates errors that must abort the batch (retry budget
// exhausted, cancellation) from per-event failures that are logged and
// skipped.
func isFatalStoreErr(ctx context.Context, err error) bool {
	return errors.Is(err, store.ErrUnavailable) || ctx.Err() != nil ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
