// Package store is the typed gateway over the in-memory store. All key
// shapes, TTLs and retry policy live here; callers never touch raw Redis
// commands.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gamestack/leaderboard-engine/internal/models"
)

// ErrUnavailable is returned once the per-op retry budget is exhausted.
// Callers must surface it; a batch that hits it aborts before offset commit.
var ErrUnavailable = errors.New("store unavailable")

const (
	retryAttempts = 3
	retryBase     = 50 * time.Millisecond
	retryCap      = 2 * time.Second
)

// FloatReply is a pipelined command result, valid after the pipeline executed.
type FloatReply interface {
	Result() (float64, error)
}

// Pipe collects store commands for a single round trip. Ordering inside the
// pipe is preserved.
type Pipe interface {
	// UpsertPlayerIfMissing inserts the player hash with zeroed counters only
	// if absent, and unconditionally refreshes the username.
	UpsertPlayerIfMissing(playerID, username string, now time.Time)
	ZIncrBy(key, member string, delta int64) FloatReply
	Expire(key string, ttl time.Duration)
	IncrPlayerStats(playerID string, scoreDelta int64)
}

// Gateway wraps a shared Redis client with typed operations and a bounded
// exponential-backoff retry on transient failures.
type Gateway struct {
	rdb    *redis.Client
	logger *zap.SugaredLogger
}

func New(rdb *redis.Client, logger *zap.Logger) *Gateway {
	return &Gateway{rdb: rdb, logger: logger.Sugar()}
}

func (g *Gateway) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}

func (g *Gateway) Close() error {
	return g.rdb.Close()
}

// GetPlayer returns nil without error when the player does not exist.
func (g *Gateway) GetPlayer(ctx context.Context, playerID string) (*models.Player, error) {
	var fields map[string]string
	err := g.withRetry(ctx, "HGETALL "+PlayerKey(playerID), func() error {
		var err error
		fields, err = g.rdb.HGetAll(ctx, PlayerKey(playerID)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	p := &models.Player{PlayerID: playerID, Username: fields["username"]}
	p.TotalScore, _ = strconv.ParseInt(fields["total_score"], 10, 64)
	p.GamesPlayed, _ = strconv.ParseInt(fields["games_played"], 10, 64)
	if raw := fields["created_at"]; raw != "" {
		p.CreatedAt, _ = time.Parse(time.RFC3339, raw)
	}
	return p, nil
}

// GameModes reads the externally seeded game_modes hash. An empty result is
// not an error: seeding may not have happened yet.
func (g *Gateway) GameModes(ctx context.Context) ([]models.GameMode, error) {
	var fields map[string]string
	err := g.withRetry(ctx, "HGETALL "+GameModesKey, func() error {
		var err error
		fields, err = g.rdb.HGetAll(ctx, GameModesKey).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	modes := make([]models.GameMode, 0, len(fields))
	for id, raw := range fields {
		var gm models.GameMode
		if err := json.Unmarshal([]byte(raw), &gm); err != nil {
			g.logger.Warnw("Skipping unparseable game mode", "id", id, "error", err)
			continue
		}
		modes = append(modes, gm)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i].ID < modes[j].ID })
	return modes, nil
}

// ZRevRankWithScore returns the member's 1-indexed descending rank and score,
// or nil when the member is not on the board.
func (g *Gateway) ZRevRankWithScore(ctx context.Context, key, member string) (*models.RankScore, error) {
	var (
		rankCmd  *redis.IntCmd
		scoreCmd *redis.FloatCmd
	)
	err := g.withRetry(ctx, "ZREVRANK+ZSCORE "+key, func() error {
		pipe := g.rdb.Pipeline()
		rankCmd = pipe.ZRevRank(ctx, key, member)
		scoreCmd = pipe.ZScore(ctx, key, member)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rankCmd.Err() == redis.Nil || scoreCmd.Err() == redis.Nil {
		return nil, nil
	}
	return &models.RankScore{
		Rank:  rankCmd.Val() + 1,
		Score: int64(scoreCmd.Val()),
	}, nil
}

func (g *Gateway) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := g.withRetry(ctx, "ZCARD "+key, func() error {
		var err error
		n, err = g.rdb.ZCard(ctx, key).Result()
		return err
	})
	return n, err
}

// ZRevRange reads a descending page of a leaderboard with 1-indexed ranks.
func (g *Gateway) ZRevRange(ctx context.Context, key string, offset, limit int64) ([]models.LeaderboardEntry, error) {
	var zs []redis.Z
	err := g.withRetry(ctx, "ZREVRANGE "+key, func() error {
		var err error
		zs, err = g.rdb.ZRevRangeWithScores(ctx, key, offset, offset+limit-1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	entries := make([]models.LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, models.LeaderboardEntry{
			Rank:     offset + int64(i) + 1,
			PlayerID: member,
			Score:    int64(z.Score),
		})
	}
	return entries, nil
}

// ScanKeys walks keys matching pattern with a cursor scan. fn returning false
// stops the walk early.
func (g *Gateway) ScanKeys(ctx context.Context, pattern string, fn func(key string) bool) error {
	var cursor uint64
	for {
		var (
			keys []string
			err  error
		)
		scanErr := g.withRetry(ctx, "SCAN "+pattern, func() error {
			keys, cursor, err = g.rdb.Scan(ctx, cursor, pattern, 100).Result()
			return err
		})
		if scanErr != nil {
			return scanErr
		}
		for _, key := range keys {
			if !fn(key) {
				return nil
			}
		}
		if cursor == 0 {
			return nil
		}
	}
}

// Pipelined runs build against a fresh pipe and executes it in one round
// trip. On transient failure the whole pipe is rebuilt and retried, so build
// must be safe to invoke more than once.
func (g *Gateway) Pipelined(ctx context.Context, build func(Pipe)) error {
	return g.withRetry(ctx, "pipeline", func() error {
		pipe := g.rdb.Pipeline()
		build(&redisPipe{ctx: ctx, pipe: pipe})
		_, err := pipe.Exec(ctx)
		return err
	})
}

// redisPipe queues gateway commands onto a go-redis pipeline.
type redisPipe struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (p *redisPipe) UpsertPlayerIfMissing(playerID, username string, now time.Time) {
	key := PlayerKey(playerID)
	p.pipe.HSetNX(p.ctx, key, "created_at", now.UTC().Format(time.RFC3339))
	p.pipe.HSetNX(p.ctx, key, "total_score", 0)
	p.pipe.HSetNX(p.ctx, key, "games_played", 0)
	p.pipe.HSet(p.ctx, key, "username", username)
}

func (p *redisPipe) ZIncrBy(key, member string, delta int64) FloatReply {
	return p.pipe.ZIncrBy(p.ctx, key, float64(delta), member)
}

func (p *redisPipe) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(p.ctx, key, ttl)
}

func (p *redisPipe) IncrPlayerStats(playerID string, scoreDelta int64) {
	key := PlayerKey(playerID)
	p.pipe.HIncrBy(p.ctx, key, "total_score", scoreDelta)
	p.pipe.HIncrBy(p.ctx, key, "games_played", 1)
}

// withRetry runs op up to retryAttempts times with exponential backoff
// (50ms, x2, capped at 2s). redis.Nil is a miss, not a failure. Context
// cancellation stops retries immediately.
func (g *Gateway) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := retryBase
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err := fn()
		if err == nil || errors.Is(err, redis.Nil) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if attempt < retryAttempts {
			g.logger.Warnw("Store op failed, retrying",
				"op", op, "attempt", attempt, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > retryCap {
				backoff = retryCap
			}
		}
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrUnavailable, op, retryAttempts, lastErr)
}
