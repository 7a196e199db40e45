package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/koopa0/system-design/14-rps-arena/pkg/errors"
)

// User 玩家帳號與戰績
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	CreatedAt time.Time `json:"created_at"`
}

// GameRecord 一場已完成的對局
type GameRecord struct {
	ID             int64     `json:"id"`
	WinnerID       int64     `json:"winner_id"`
	LoserID        int64     `json:"loser_id"`
	WinnerRounds   int       `json:"winner_rounds"`
	LoserRounds    int       `json:"loser_rounds"`
	TotalRounds    int       `json:"total_rounds"`
	PlayedAt       time.Time `json:"played_at"`
	WinnerUsername string    `json:"winner_username,omitempty"`
	LoserUsername  string    `json:"loser_username,omitempty"`
}

// Store 使用者與對局紀錄的持久化
//
// 對局核心只透過這個介面取得 userId、寫入戰績，
// 任何實作的延遲都不能卡住回合進行（見 Recorder）。
type Store interface {
	// CreateOrFetchUser 以 username upsert，重複呼叫回傳同一個使用者
	CreateOrFetchUser(ctx context.Context, username string) (User, error)
	GetUser(ctx context.Context, username string) (User, error)
	RecordMatchOutcome(ctx context.Context, winnerID, loserID int64, winnerRounds, loserRounds, totalRounds int) (GameRecord, error)
	// IncrementWinLoss 在同一個交易內更新勝方 wins 與敗方 losses
	IncrementWinLoss(ctx context.Context, winnerID, loserID int64) error
	RecentGames(ctx context.Context, userID int64, limit int) ([]GameRecord, error)
}

// PostgresStore 以 PostgreSQL 實作 Store
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore 創建 PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}
}

const upsertUserSQL = `
INSERT INTO users (username) VALUES ($1)
ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
RETURNING id, username, wins, losses, created_at`

// CreateOrFetchUser 建立或取得使用者
func (s *PostgresStore) CreateOrFetchUser(ctx context.Context, username string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, upsertUserSQL, username).
		Scan(&u.ID, &u.Username, &u.Wins, &u.Losses, &u.CreatedAt)
	if err != nil {
		s.logger.Error("upsert user failed", "username", username, "error", err)
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// GetUser 依 username 取得使用者
func (s *PostgresStore) GetUser(ctx context.Context, username string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, wins, losses, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.Wins, &u.Losses, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, apperrors.ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// RecordMatchOutcome 寫入一筆對局紀錄
func (s *PostgresStore) RecordMatchOutcome(ctx context.Context, winnerID, loserID int64, winnerRounds, loserRounds, totalRounds int) (GameRecord, error) {
	g := GameRecord{
		WinnerID:     winnerID,
		LoserID:      loserID,
		WinnerRounds: winnerRounds,
		LoserRounds:  loserRounds,
		TotalRounds:  totalRounds,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO games (winner_id, loser_id, winner_rounds, loser_rounds, total_rounds)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, played_at`,
		winnerID, loserID, winnerRounds, loserRounds, totalRounds,
	).Scan(&g.ID, &g.PlayedAt)
	if err != nil {
		s.logger.Error("record game failed",
			"winner_id", winnerID,
			"loser_id", loserID,
			"error", err)
		return GameRecord{}, fmt.Errorf("record game: %w", err)
	}
	return g, nil
}

// IncrementWinLoss 更新勝敗場數
func (s *PostgresStore) IncrementWinLoss(ctx context.Context, winnerID, loserID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Commit 之後 Rollback 是 no-op
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE users SET wins = wins + 1 WHERE id = $1`, winnerID); err != nil {
		return fmt.Errorf("increment wins: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET losses = losses + 1 WHERE id = $1`, loserID); err != nil {
		return fmt.Errorf("increment losses: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const recentGamesSQL = `
SELECT g.id, g.winner_id, g.loser_id, g.winner_rounds, g.loser_rounds, g.total_rounds, g.played_at,
       w.username, l.username
FROM games g
JOIN users w ON g.winner_id = w.id
JOIN users l ON g.loser_id = l.id
WHERE g.winner_id = $1 OR g.loser_id = $1
ORDER BY g.played_at DESC, g.id DESC
LIMIT $2`

// RecentGames 取得使用者最近的對局
func (s *PostgresStore) RecentGames(ctx context.Context, userID int64, limit int) ([]GameRecord, error) {
	rows, err := s.pool.Query(ctx, recentGamesSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent games: %w", err)
	}
	defer rows.Close()

	games := []GameRecord{}
	for rows.Next() {
		var g GameRecord
		if err := rows.Scan(&g.ID, &g.WinnerID, &g.LoserID, &g.WinnerRounds, &g.LoserRounds,
			&g.TotalRounds, &g.PlayedAt, &g.WinnerUsername, &g.LoserUsername); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate games: %w", err)
	}
	return games, nil
}

// MemoryStore 記憶體實作，沒有資料庫時使用（也用於測試）
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*User // username -> User
	byID    map[int64]*User
	games   []GameRecord
	nextID  int64
	nextGID int64
	now     func() time.Time
}

// NewMemoryStore 創建記憶體 store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*User),
		byID:  make(map[int64]*User),
		now:   time.Now,
	}
}

// CreateOrFetchUser 建立或取得使用者
func (s *MemoryStore) CreateOrFetchUser(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, exists := s.users[username]; exists {
		return *u, nil
	}

	s.nextID++
	u := &User{ID: s.nextID, Username: username, CreatedAt: s.now()}
	s.users[username] = u
	s.byID[u.ID] = u
	return *u, nil
}

// GetUser 依 username 取得使用者
func (s *MemoryStore) GetUser(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[username]
	if !exists {
		return User{}, apperrors.ErrUserNotFound
	}
	return *u, nil
}

// RecordMatchOutcome 寫入一筆對局紀錄
func (s *MemoryStore) RecordMatchOutcome(_ context.Context, winnerID, loserID int64, winnerRounds, loserRounds, totalRounds int) (GameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextGID++
	g := GameRecord{
		ID:           s.nextGID,
		WinnerID:     winnerID,
		LoserID:      loserID,
		WinnerRounds: winnerRounds,
		LoserRounds:  loserRounds,
		TotalRounds:  totalRounds,
		PlayedAt:     s.now(),
	}
	s.games = append(s.games, g)
	return g, nil
}

// IncrementWinLoss 更新勝敗場數
func (s *MemoryStore) IncrementWinLoss(_ context.Context, winnerID, loserID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	winner, ok := s.byID[winnerID]
	if !ok {
		return apperrors.ErrUserNotFound.WithDetails(fmt.Sprintf("id %d", winnerID))
	}
	loser, ok := s.byID[loserID]
	if !ok {
		return apperrors.ErrUserNotFound.WithDetails(fmt.Sprintf("id %d", loserID))
	}
	winner.Wins++
	loser.Losses++
	return nil
}

// RecentGames 取得使用者最近的對局
func (s *MemoryStore) RecentGames(_ context.Context, userID int64, limit int) ([]GameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	games := []GameRecord{}
	for _, g := range s.games {
		if g.WinnerID != userID && g.LoserID != userID {
			continue
		}
		if w, ok := s.byID[g.WinnerID]; ok {
			g.WinnerUsername = w.Username
		}
		if l, ok := s.byID[g.LoserID]; ok {
			g.LoserUsername = l.Username
		}
		games = append(games, g)
	}

	sort.SliceStable(games, func(i, j int) bool {
		return games[i].ID > games[j].ID
	})
	if limit > 0 && len(games) > limit {
		games = games[:limit]
	}
	return games, nil
}
