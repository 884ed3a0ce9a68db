package engine

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gamestack/leaderboard-engine/internal/eventlog"
	"github.com/gamestack/leaderboard-engine/internal/models"
	"github.com/gamestack/leaderboard-engine/internal/store"
)

// fakeStore is a stateful in-memory stand-in for the Redis gateway. It
// reproduces the sorted-set semantics the engine depends on, including the
// descending-rank tie-break.
type fakeStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]int64
	strings map[string]map[string]string
	zsets   map[string]map[string]int64
	ttls    map[string]time.Duration

	modes    []models.GameMode
	modesErr error

	extraKeys []string // ancillary keys visible to scans
	scanErr   error

	pipelineErr error
	rankErr     error

	pipelines int // number of executed pipelines
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hashes:  make(map[string]map[string]int64),
		strings: make(map[string]map[string]string),
		zsets:   make(map[string]map[string]int64),
		ttls:    make(map[string]time.Duration),
	}
}

func (s *fakeStore) Pipelined(_ context.Context, build func(store.Pipe)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipelineErr != nil {
		return s.pipelineErr
	}
	s.pipelines++
	build(&fakePipe{s: s})
	return nil
}

func (s *fakeStore) ZRevRankWithScore(_ context.Context, key, member string) (*models.RankScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rankErr != nil {
		return nil, s.rankErr
	}
	return s.rankLocked(key, member), nil
}

func (s *fakeStore) rankLocked(key, member string) *models.RankScore {
	set, ok := s.zsets[key]
	if !ok {
		return nil
	}
	score, ok := set[member]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	// Redis ZREVRANK: score descending, equal scores reverse-lexicographic.
	sort.Slice(members, func(i, j int) bool {
		if set[members[i]] != set[members[j]] {
			return set[members[i]] > set[members[j]]
		}
		return members[i] > members[j]
	})
	for i, m := range members {
		if m == member {
			return &models.RankScore{Rank: int64(i + 1), Score: score}
		}
	}
	return nil
}

func (s *fakeStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

func (s *fakeStore) GameModes(context.Context) ([]models.GameMode, error) {
	if s.modesErr != nil {
		return nil, s.modesErr
	}
	return s.modes, nil
}

func (s *fakeStore) ScanKeys(_ context.Context, pattern string, fn func(string) bool) error {
	if s.scanErr != nil {
		return s.scanErr
	}
	s.mu.Lock()
	keys := make([]string, 0, len(s.strings)+len(s.extraKeys))
	for k := range s.strings {
		keys = append(keys, k)
	}
	keys = append(keys, s.extraKeys...)
	s.mu.Unlock()
	sort.Strings(keys)
	if pattern != store.PlayerKeyPattern {
		return nil
	}
	for _, k := range keys {
		if !fn(k) {
			return nil
		}
	}
	return nil
}

// Test helpers.

func (s *fakeStore) player(id string) (username string, totalScore, gamesPlayed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := store.PlayerKey(id)
	if f, ok := s.strings[key]; ok {
		username = f["username"]
	}
	if f, ok := s.hashes[key]; ok {
		totalScore = f["total_score"]
		gamesPlayed = f["games_played"]
	}
	return
}

func (s *fakeStore) zscore(key, member string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		return 0, false
	}
	v, ok := set[member]
	return v, ok
}

func (s *fakeStore) rank(key, member string) *models.RankScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rankLocked(key, member)
}

// fakePipe applies queued commands directly; the fakeStore lock is held for
// the whole build, so a pipeline is atomic like a single round trip.
type fakePipe struct {
	s *fakeStore
}

func (p *fakePipe) UpsertPlayerIfMissing(playerID, username string, now time.Time) {
	key := store.PlayerKey(playerID)
	if _, ok := p.s.strings[key]; !ok {
		p.s.strings[key] = map[string]string{
			"created_at": now.UTC().Format(time.RFC3339),
		}
	}
	if _, ok := p.s.hashes[key]; !ok {
		p.s.hashes[key] = map[string]int64{"total_score": 0, "games_played": 0}
	}
	p.s.strings[key]["username"] = username
}

func (p *fakePipe) ZIncrBy(key, member string, delta int64) store.FloatReply {
	if p.s.zsets[key] == nil {
		p.s.zsets[key] = make(map[string]int64)
	}
	p.s.zsets[key][member] += delta
	return fakeFloat(p.s.zsets[key][member])
}

func (p *fakePipe) Expire(key string, ttl time.Duration) {
	p.s.ttls[key] = ttl
}

func (p *fakePipe) IncrPlayerStats(playerID string, scoreDelta int64) {
	key := store.PlayerKey(playerID)
	if p.s.hashes[key] == nil {
		p.s.hashes[key] = make(map[string]int64)
	}
	p.s.hashes[key]["total_score"] += scoreDelta
	p.s.hashes[key]["games_played"]++
}

type fakeFloat int64

func (f fakeFloat) Result() (float64, error) { return float64(f), nil }

// fakeNotifier records everything published and purged.
type fakeNotifier struct {
	mu      sync.Mutex
	changes []models.RankChange
	purges  [][]string
}

func (n *fakeNotifier) PublishRankChange(_ context.Context, rc models.RankChange) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, rc)
}

func (n *fakeNotifier) PurgeCache(_ context.Context, paths []string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.purges = append(n.purges, paths)
	return true
}

func (n *fakeNotifier) published() []models.RankChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.RankChange, len(n.changes))
	copy(out, n.changes)
	return out
}

func (n *fakeNotifier) changeFor(playerID string) *models.RankChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.changes {
		if n.changes[i].PlayerID == playerID {
			return &n.changes[i]
		}
	}
	return nil
}

func (n *fakeNotifier) purgeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.purges)
}

// fakeSource feeds scripted batches to the engine's handler.
type fakeSource struct {
	batches []eventlog.Batch

	subscribed    bool
	fromBeginning bool
	resetCalled   bool
}

func (f *fakeSource) Subscribe(fromBeginning bool) error {
	f.subscribed = true
	f.fromBeginning = fromBeginning
	return nil
}

func (f *fakeSource) ConsumeBatches(ctx context.Context, handler eventlog.BatchHandler) error {
	for _, b := range f.batches {
		if ctx.Err() != nil {
			return nil
		}
		if err := handler(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) ResetGroupToEarliest(context.Context) bool {
	f.resetCalled = true
	return true
}

// scoreMsg builds a valid score-submitted message.
func scoreMsg(playerID, username string, gameMode, score int64) eventlog.Message {
	v := `{"playerId":"` + playerID + `","username":"` + username +
		`","gameMode":` + strconv.FormatInt(gameMode, 10) +
		`,"score":` + strconv.FormatInt(score, 10) +
		`,"timestamp":"2024-06-01T10:00:00Z"}`
	return eventlog.Message{Value: []byte(v)}
}

func batchOf(msgs ...eventlog.Message) eventlog.Batch {
	return eventlog.Batch{Topic: "score-submitted", Partition: 0, Messages: msgs}
}
