package engine

import (
	"context"

	"github.com/gamestack/leaderboard-engine/internal/store"
)

// needsReplay decides on startup whether the materialized view must be
// rebuilt from the earliest log offset. It is true only when no global
// leaderboard of any known game mode has a member AND no player hashes
// exist. With game modes not yet seeded the decision collapses to the player
// scan alone.
//
// Any store error during the check returns true: replaying against unknown
// state is the fail-safe, at the cost of a spurious full replay on a
// transient startup outage (see DESIGN.md).
func (e *Engine) needsReplay(ctx context.Context) bool {
	modes, err := e.store.GameModes(ctx)
	if err != nil {
		e.logger.Warnw("Replay check: failed to read game modes, assuming replay needed", "error", err)
		return true
	}

	for _, gm := range modes {
		n, err := e.store.ZCard(ctx, store.GlobalLeaderboardKey(gm.ID))
		if err != nil {
			e.logger.Warnw("Replay check: failed to size leaderboard, assuming replay needed",
				"gameMode", gm.ID, "error", err)
			return true
		}
		if n > 0 {
			return false
		}
	}

	// Rate-limit and counter keys share the player: prefix; only bare player
	// hashes count as state.
	found := false
	err = e.store.ScanKeys(ctx, store.PlayerKeyPattern, func(key string) bool {
		if store.IsPlayerKey(key) {
			found = true
			return false
		}
		return true
	})
	if err != nil {
		e.logger.Warnw("Replay check: player scan failed, assuming replay needed", "error", err)
		return true
	}
	return !found
}
