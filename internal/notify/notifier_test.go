package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gamestack/leaderboard-engine/internal/models"
)

type capturePublisher struct {
	payloads [][]byte
}

func (c *capturePublisher) PublishAsync(_ context.Context, value []byte) {
	c.payloads = append(c.payloads, value)
}

func TestPublishRankChangeWireFormat(t *testing.T) {
	pub := &capturePublisher{}
	n := New(pub, NewCachePurger(PurgeConfig{}, zap.NewNop()), zap.NewNop())

	old := int64(7)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	n.PublishRankChange(context.Background(), models.NewRankChange(1, "p1", &old, 3, 12345, now))

	if len(pub.payloads) != 1 {
		t.Fatalf("published %d payloads, want 1", len(pub.payloads))
	}
	var decoded map[string]any
	if err := json.Unmarshal(pub.payloads[0], &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded["gameMode"] != float64(1) || decoded["playerId"] != "p1" {
		t.Errorf("payload = %v", decoded)
	}
	if decoded["oldRank"] != float64(7) || decoded["newRank"] != float64(3) {
		t.Errorf("ranks = %v/%v, want 7/3", decoded["oldRank"], decoded["newRank"])
	}
	if decoded["timestamp"] != "2024-06-01T10:00:00Z" {
		t.Errorf("timestamp = %v", decoded["timestamp"])
	}
}

func TestPublishRankChangeNullOldRank(t *testing.T) {
	pub := &capturePublisher{}
	n := New(pub, NewCachePurger(PurgeConfig{}, zap.NewNop()), zap.NewNop())

	n.PublishRankChange(context.Background(), models.NewRankChange(2, "p9", nil, 1, 500, time.Now()))

	var decoded map[string]any
	if err := json.Unmarshal(pub.payloads[0], &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	v, present := decoded["oldRank"]
	if !present || v != nil {
		t.Errorf("oldRank = %v (present=%v), want explicit null", v, present)
	}
}
