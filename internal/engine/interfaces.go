package engine

import (
	"context"

	"github.com/gamestack/leaderboard-engine/internal/eventlog"
	"github.com/gamestack/leaderboard-engine/internal/models"
	"github.com/gamestack/leaderboard-engine/internal/store"
)

// Store defines the slice of the store gateway the engine uses.
type Store interface {
	Pipelined(ctx context.Context, build func(store.Pipe)) error
	ZRevRankWithScore(ctx context.Context, key, member string) (*models.RankScore, error)
	ZCard(ctx context.Context, key string) (int64, error)
	GameModes(ctx context.Context) ([]models.GameMode, error)
	ScanKeys(ctx context.Context, pattern string, fn func(key string) bool) error
}

// EventSource defines the consumer side of the event log client.
type EventSource interface {
	Subscribe(fromBeginning bool) error
	ConsumeBatches(ctx context.Context, handler eventlog.BatchHandler) error
	ResetGroupToEarliest(ctx context.Context) bool
}

// Notifier fans rank changes out to downstream systems.
type Notifier interface {
	PublishRankChange(ctx context.Context, rc models.RankChange)
	PurgeCache(ctx context.Context, paths []string) bool
}
