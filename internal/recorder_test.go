package internal_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-rps-arena/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturePublisher 記錄發布的對局
type capturePublisher struct {
	mu       sync.Mutex
	outcomes []internal.MatchOutcome
}

func (p *capturePublisher) PublishMatch(_ context.Context, outcome internal.MatchOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, outcome)
	return nil
}

func (p *capturePublisher) published() []internal.MatchOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]internal.MatchOutcome(nil), p.outcomes...)
}

// blockingStore 寫入勝敗場數時等待放行
type blockingStore struct {
	*internal.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) IncrementWinLoss(ctx context.Context, winnerID, loserID int64) error {
	s.entered <- struct{}{}
	<-s.release
	return s.MemoryStore.IncrementWinLoss(ctx, winnerID, loserID)
}

// brokenStore 寫入一律失敗
type brokenStore struct {
	*internal.MemoryStore
}

func (brokenStore) IncrementWinLoss(context.Context, int64, int64) error {
	return errors.New("disk full")
}

func (brokenStore) RecordMatchOutcome(context.Context, int64, int64, int, int, int) (internal.GameRecord, error) {
	return internal.GameRecord{}, errors.New("disk full")
}

func seedPlayers(t *testing.T, store internal.Store) (internal.User, internal.User) {
	t.Helper()
	ctx := context.Background()
	alice, err := store.CreateOrFetchUser(ctx, "alice")
	require.NoError(t, err)
	bob, err := store.CreateOrFetchUser(ctx, "bob")
	require.NoError(t, err)
	return alice, bob
}

func outcomeFor(winner, loser internal.User) internal.MatchOutcome {
	return internal.MatchOutcome{
		RoomCode:     "ROOM42",
		WinnerID:     winner.ID,
		WinnerName:   winner.Username,
		LoserID:      loser.ID,
		LoserName:    loser.Username,
		WinnerRounds: 2,
		LoserRounds:  1,
		TotalRounds:  3,
		CompletedAt:  time.Now(),
	}
}

// TestRecorder_Record 測試對局結果的寫入順序與內容
func TestRecorder_Record(t *testing.T) {
	store := internal.NewMemoryStore()
	board := newFakeLeaderboard()
	publisher := &capturePublisher{}
	recorder := internal.NewRecorder(store, board, publisher, 8, testLogger())

	alice, bob := seedPlayers(t, store)
	outcome := outcomeFor(alice, bob)
	require.True(t, recorder.Enqueue(outcome))

	// Stop 會寫完佇列中的對局
	recorder.Stop()

	ctx := context.Background()
	gotAlice, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, gotAlice.Wins)
	assert.Equal(t, 0, gotAlice.Losses)

	gotBob, err := store.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, gotBob.Wins)
	assert.Equal(t, 1, gotBob.Losses)

	games, err := store.RecentGames(ctx, alice.ID, 10)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, alice.ID, games[0].WinnerID)
	assert.Equal(t, bob.ID, games[0].LoserID)
	assert.Equal(t, 2, games[0].WinnerRounds)
	assert.Equal(t, 1, games[0].LoserRounds)
	assert.Equal(t, 3, games[0].TotalRounds)

	top, err := board.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].Username)
	assert.Equal(t, int64(1), top[0].Wins)

	assert.Equal(t, []internal.MatchOutcome{outcome}, publisher.published())
}

// TestRecorder_Stopped 停止後不再接受對局
func TestRecorder_Stopped(t *testing.T) {
	store := internal.NewMemoryStore()
	recorder := internal.NewRecorder(store, nil, nil, 8, testLogger())
	alice, bob := seedPlayers(t, store)

	recorder.Stop()
	recorder.Stop()

	assert.False(t, recorder.Enqueue(outcomeFor(alice, bob)))

	got, err := store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Wins)
}

// TestRecorder_QueueFull 佇列滿時丟棄，不阻塞呼叫端
func TestRecorder_QueueFull(t *testing.T) {
	store := &blockingStore{
		MemoryStore: internal.NewMemoryStore(),
		entered:     make(chan struct{}, 4),
		release:     make(chan struct{}),
	}
	recorder := internal.NewRecorder(store, nil, nil, 1, testLogger())
	alice, bob := seedPlayers(t, store)

	// 第一筆被 worker 取走並卡住
	require.True(t, recorder.Enqueue(outcomeFor(alice, bob)))
	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the first outcome")
	}

	// 第二筆填滿佇列，第三筆被丟棄
	assert.True(t, recorder.Enqueue(outcomeFor(alice, bob)))

	done := make(chan bool, 1)
	go func() { done <- recorder.Enqueue(outcomeFor(bob, alice)) }()
	select {
	case accepted := <-done:
		assert.False(t, accepted)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	close(store.release)
	recorder.Stop()

	got, err := store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Wins)

	got, err = store.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Wins, "dropped outcome never recorded")
}

// TestRecorder_StoreFailure 資料庫失敗不影響排行榜與事件發布
func TestRecorder_StoreFailure(t *testing.T) {
	store := brokenStore{MemoryStore: internal.NewMemoryStore()}
	board := newFakeLeaderboard()
	publisher := &capturePublisher{}
	recorder := internal.NewRecorder(store, board, publisher, 8, testLogger())
	alice, bob := seedPlayers(t, store)

	require.True(t, recorder.Enqueue(outcomeFor(alice, bob)))
	recorder.Stop()

	top, err := board.Top(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Len(t, publisher.published(), 1)
}
