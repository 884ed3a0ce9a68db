package models

import "time"

// Player is the per-player aggregate hash stored at player:{id}. Created
// lazily on first event; username follows the latest event, the counters are
// monotonic.
type Player struct {
	PlayerID    string    `json:"player_id"`
	Username    string    `json:"username"`
	TotalScore  int64     `json:"total_score"`
	GamesPlayed int64     `json:"games_played"`
	CreatedAt   time.Time `json:"created_at"`
}

// GameMode is seeded externally into the game_modes hash and read-only here.
type GameMode struct {
	ID                     int64   `json:"id"`
	Name                   string  `json:"name"`
	MaxScorePerGame        int64   `json:"max_score_per_game"`
	AvgGameDurationMinutes float64 `json:"avg_game_duration_minutes"`
}

// RankScore is a player's position on one leaderboard. Rank is 1-indexed.
type RankScore struct {
	Rank  int64
	Score int64
}

// LeaderboardEntry is one row of a ranked range read.
type LeaderboardEntry struct {
	Rank     int64  `json:"rank"`
	PlayerID string `json:"player_id"`
	Score    int64  `json:"score"`
}
