package store

import (
	"testing"
	"time"
)

func TestLeaderboardKeys(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

	if got := GlobalLeaderboardKey(3); got != "leaderboard:3:global" {
		t.Errorf("GlobalLeaderboardKey = %q", got)
	}
	if got := DailyLeaderboardKey(3, now); got != "leaderboard:3:daily:2024-06-01" {
		t.Errorf("DailyLeaderboardKey = %q", got)
	}
	if got := WeeklyLeaderboardKey(3, now); got != "leaderboard:3:weekly:2024-W22" {
		t.Errorf("WeeklyLeaderboardKey = %q", got)
	}
	if got := PlayerKey("p1"); got != "player:p1" {
		t.Errorf("PlayerKey = %q", got)
	}
}

func TestDayKeyIsUTC(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("EST", -5*3600)
	now := time.Date(2024, 6, 1, 23, 30, 0, 0, loc)
	if got := DayKey(now); got != "2024-06-02" {
		t.Errorf("DayKey = %q, want 2024-06-02", got)
	}
}

func TestWeekKey(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"jan 1 on a monday year", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "2024-W01"},
		{"jan 1 on a sunday year", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), "2023-W01"},
		{"mid year", time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), "2024-W22"},
		{"same week different day", time.Date(2024, 5, 28, 8, 0, 0, 0, time.UTC), "2024-W22"},
		{"last day of year", time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), "2023-W53"},
		{"leap year end", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), "2024-W53"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeekKey(tt.t); got != tt.want {
				t.Errorf("WeekKey(%v) = %q, want %q", tt.t, got, tt.want)
			}
		})
	}
}

func TestWeekKeyStableWithinDay(t *testing.T) {
	morning := time.Date(2024, 6, 1, 0, 0, 1, 0, time.UTC)
	night := time.Date(2024, 6, 1, 23, 59, 59, 0, time.UTC)
	if WeekKey(morning) != WeekKey(night) {
		t.Errorf("week key changed within one day: %q vs %q", WeekKey(morning), WeekKey(night))
	}
}

func TestIsPlayerKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"player:abc", true},
		{"player:abc-123", true},
		{"player:abc:last_submission", false},
		{"player:abc:kills", false},
		{"leaderboard:1:global", false},
		{"game_modes", false},
		{"player:", true}, // degenerate but shaped like a player hash
	}
	for _, tt := range tests {
		if got := IsPlayerKey(tt.key); got != tt.want {
			t.Errorf("IsPlayerKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
