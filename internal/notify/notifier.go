// Package notify fans state changes out to downstream systems: rank-change
// events onto the leaderboard-updated topic and purge requests to the CDN.
// Everything here is best-effort; a failure is logged and never propagates
// into event processing.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/gamestack/leaderboard-engine/internal/models"
)

// RankPublisher appends an encoded rank change to the outbound log.
type RankPublisher interface {
	PublishAsync(ctx context.Context, value []byte)
}

type Notifier struct {
	pub    RankPublisher
	purger *CachePurger
	logger *zap.SugaredLogger
}

func New(pub RankPublisher, purger *CachePurger, logger *zap.Logger) *Notifier {
	return &Notifier{pub: pub, purger: purger, logger: logger.Sugar()}
}

// PublishRankChange appends the change to the notification log without
// blocking on broker I/O.
func (n *Notifier) PublishRankChange(ctx context.Context, rc models.RankChange) {
	payload, err := json.Marshal(rc)
	if err != nil {
		n.logger.Errorw("Failed to encode rank change",
			"gameMode", rc.GameMode, "playerId", rc.PlayerID, "error", err)
		return
	}
	n.pub.PublishAsync(ctx, payload)
}

// PurgeCache invalidates the given read paths at the CDN.
func (n *Notifier) PurgeCache(ctx context.Context, paths []string) bool {
	return n.purger.Purge(ctx, paths)
}

// TopPaths lists the canonical read URLs of a game mode's top-100 view, the
// set purged whenever a rank change has its old or new rank within the top 100.
func TopPaths(gameMode int64) []string {
	return []string{
		fmt.Sprintf("/api/leaderboard/%d/top100", gameMode),
		fmt.Sprintf("/api/leaderboard/%d?limit=100&offset=0", gameMode),
		fmt.Sprintf("/api/leaderboard/%d?type=global&limit=100&offset=0", gameMode),
	}
}
