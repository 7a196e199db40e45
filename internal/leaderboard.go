package internal

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// leaderboardKey 勝場排行榜（Sorted Set，score = 勝場數）
const leaderboardKey = "rps:leaderboard:wins"

// LeaderboardEntry 排行榜項目
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Wins     int64  `json:"wins"`
}

// Leaderboard 勝場排行榜
type Leaderboard interface {
	RecordWin(ctx context.Context, username string) error
	Top(ctx context.Context, n int) ([]LeaderboardEntry, error)
}

// RedisLeaderboard 以 Redis Sorted Set 實作排行榜
//
// ZINCRBY 是原子操作，多個 Recorder 同時寫入也不會遺失勝場。
type RedisLeaderboard struct {
	client *redis.Client
	key    string
}

// NewRedisLeaderboard 創建排行榜
func NewRedisLeaderboard(client *redis.Client) *RedisLeaderboard {
	return &RedisLeaderboard{
		client: client,
		key:    leaderboardKey,
	}
}

// RecordWin 勝場 +1
func (l *RedisLeaderboard) RecordWin(ctx context.Context, username string) error {
	if err := l.client.ZIncrBy(ctx, l.key, 1, username).Err(); err != nil {
		return fmt.Errorf("zincrby: %w", err)
	}
	return nil
}

// Top 取得前 n 名
func (l *RedisLeaderboard) Top(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		return []LeaderboardEntry{}, nil
	}

	results, err := l.client.ZRevRangeWithScores(ctx, l.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(results))
	for i, z := range results {
		name, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Rank:     i + 1,
			Username: name,
			Wins:     int64(z.Score),
		})
	}
	return entries, nil
}
