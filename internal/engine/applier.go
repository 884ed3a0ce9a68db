package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gamestack/leaderboard-engine/internal/models"
	"github.com/gamestack/leaderboard-engine/internal/store"
)

// Applier updates all materialized views for validated score events: player
// upsert, global/daily/weekly leaderboard bumps and aggregate stats, composed
// into pipelined round trips.
//
// Applications are additive, not idempotent: re-applying an event doubles its
// effect. Correctness rests on the log client committing each offset exactly
// once and on replay only running against a provably empty store.
type Applier struct {
	store  Store
	logger *zap.SugaredLogger
}

func NewApplier(st Store, logger *zap.Logger) *Applier {
	return &Applier{store: st, logger: logger.Sugar()}
}

// Apply runs the full update for one event in a single round trip and
// returns the player's new cumulative global score.
func (a *Applier) Apply(ctx context.Context, ev *models.ScoreEvent, now time.Time) (int64, error) {
	var global store.FloatReply
	err := a.store.Pipelined(ctx, func(p store.Pipe) {
		global = a.queue(p, ev, now)
	})
	if err != nil {
		return 0, err
	}
	score, err := global.Result()
	if err != nil {
		return 0, fmt.Errorf("reading global score for %s: %w", ev.Key(), err)
	}
	return int64(score), nil
}

// ApplyAll queues every event's update into one pipeline and executes it in a
// single round trip. Events must have distinct (player, game mode) keys; the
// returned global scores are positionally aligned with evs.
func (a *Applier) ApplyAll(ctx context.Context, evs []*models.ScoreEvent, now time.Time) ([]int64, error) {
	replies := make([]store.FloatReply, len(evs))
	err := a.store.Pipelined(ctx, func(p store.Pipe) {
		for i, ev := range evs {
			replies[i] = a.queue(p, ev, now)
		}
	})
	if err != nil {
		return nil, err
	}
	scores := make([]int64, len(evs))
	for i, reply := range replies {
		score, err := reply.Result()
		if err != nil {
			return nil, fmt.Errorf("reading global score for %s: %w", evs[i].Key(), err)
		}
		scores[i] = int64(score)
	}
	return scores, nil
}

// queue adds one event's commands to the pipe and returns the handle for the
// global leaderboard increment.
func (a *Applier) queue(p store.Pipe, ev *models.ScoreEvent, now time.Time) store.FloatReply {
	score := ev.ScoreValue()

	p.UpsertPlayerIfMissing(ev.PlayerID, ev.Username, now)

	global := p.ZIncrBy(store.GlobalLeaderboardKey(ev.GameMode), ev.PlayerID, score)

	daily := store.DailyLeaderboardKey(ev.GameMode, now)
	p.ZIncrBy(daily, ev.PlayerID, score)
	p.Expire(daily, store.DailyTTL)

	if score > 0 {
		weekly := store.WeeklyLeaderboardKey(ev.GameMode, now)
		p.ZIncrBy(weekly, ev.PlayerID, score)
		p.Expire(weekly, store.WeeklyTTL)
	} else {
		a.logger.Warnw("Skipping weekly bucket for non-positive score",
			"playerId", ev.PlayerID, "gameMode", ev.GameMode, "score", score)
	}

	p.IncrPlayerStats(ev.PlayerID, score)
	return global
}
