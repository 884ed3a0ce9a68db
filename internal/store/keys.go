package store

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Key layout. Writers and readers must agree on these shapes, so every key is
// built here and nowhere else.
//
//	player:{playerId}                     hash: username, total_score, games_played, created_at
//	leaderboard:{gameMode}:global         sorted set, lives forever
//	leaderboard:{gameMode}:daily:{day}    sorted set, TTL 7d
//	leaderboard:{gameMode}:weekly:{week}  sorted set, TTL 28d
//	game_modes                            hash id -> JSON, seeded externally
const (
	playerKeyPrefix = "player:"
	GameModesKey    = "game_modes"

	DailyTTL  = 7 * 24 * time.Hour
	WeeklyTTL = 28 * 24 * time.Hour
)

func PlayerKey(playerID string) string {
	return playerKeyPrefix + playerID
}

// PlayerKeyPattern matches player hashes plus ancillary keys such as the
// intake rate-limiter's player:{id}:last_submission; IsPlayerKey tells them
// apart.
const PlayerKeyPattern = playerKeyPrefix + "*"

// IsPlayerKey reports whether key is a bare player hash. Ancillary keys carry
// a second colon-delimited segment and are excluded.
func IsPlayerKey(key string) bool {
	if !strings.HasPrefix(key, playerKeyPrefix) {
		return false
	}
	return !strings.Contains(key[len(playerKeyPrefix):], ":")
}

func GlobalLeaderboardKey(gameMode int64) string {
	return fmt.Sprintf("leaderboard:%d:global", gameMode)
}

func DailyLeaderboardKey(gameMode int64, now time.Time) string {
	return fmt.Sprintf("leaderboard:%d:daily:%s", gameMode, DayKey(now))
}

func WeeklyLeaderboardKey(gameMode int64, now time.Time) string {
	return fmt.Sprintf("leaderboard:%d:weekly:%s", gameMode, WeekKey(now))
}

// DayKey is the UTC calendar date of the moment of processing.
func DayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// WeekKey is a YYYY-Www identifier using the Sunday-seed convention:
// week = ceil((daysSinceJan1 + weekdayOfJan1 + 1) / 7). This is deliberately
// not strict ISO-8601 week numbering; the same function feeds both the write
// path here and any read path, so buckets never split.
func WeekKey(now time.Time) string {
	t := now.UTC()
	startOfYear := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	days := int(t.Sub(startOfYear).Hours() / 24)
	week := int(math.Ceil(float64(days+int(startOfYear.Weekday())+1) / 7))
	return fmt.Sprintf("%d-W%02d", t.Year(), week)
}
