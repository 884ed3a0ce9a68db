package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedEvent marks messages that cannot be decoded into a valid
// ScoreEvent. Malformed events are logged and skipped, never retried.
var ErrMalformedEvent = errors.New("malformed score event")

var validate = validator.New()

// ScoreEvent is one submitted score consumed from the score-submitted log.
// Score is a pointer so a missing or null field is distinguishable from zero.
type ScoreEvent struct {
	PlayerID            string `json:"playerId" validate:"required"`
	Username            string `json:"username"`
	GameMode            int64  `json:"gameMode" validate:"required,min=1"`
	Score               *int64 `json:"score" validate:"required,min=0"`
	GameDurationSeconds int64  `json:"gameDurationSeconds,omitempty"`
	Timestamp           string `json:"timestamp"`
}

// ScoreValue returns the submitted score. Only valid after DecodeScoreEvent.
func (e *ScoreEvent) ScoreValue() int64 {
	if e.Score == nil {
		return 0
	}
	return *e.Score
}

// GroupKey identifies the per-key ordering domain: all events sharing a
// (player, game mode) pair must be applied in arrival order.
type GroupKey struct {
	PlayerID string
	GameMode int64
}

func (e *ScoreEvent) Key() GroupKey {
	return GroupKey{PlayerID: e.PlayerID, GameMode: e.GameMode}
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%d", k.PlayerID, k.GameMode)
}

// DecodeScoreEvent parses and validates one log message value. Any decode or
// validation failure is reported as ErrMalformedEvent with the cause attached.
func DecodeScoreEvent(value []byte) (*ScoreEvent, error) {
	var ev ScoreEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &ev, nil
}

// RankChange is published to the leaderboard-updated log whenever applying an
// event moved a player's global rank. OldRank is nil when the player had no
// prior entry on that leaderboard.
type RankChange struct {
	GameMode  int64  `json:"gameMode"`
	PlayerID  string `json:"playerId"`
	OldRank   *int64 `json:"oldRank"`
	NewRank   int64  `json:"newRank"`
	Score     int64  `json:"score"`
	Timestamp string `json:"timestamp"`
}

// NewRankChange stamps the change with now, formatted as RFC 3339 in UTC.
func NewRankChange(gameMode int64, playerID string, oldRank *int64, newRank, score int64, now time.Time) RankChange {
	return RankChange{
		GameMode:  gameMode,
		PlayerID:  playerID,
		OldRank:   oldRank,
		NewRank:   newRank,
		Score:     score,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}
