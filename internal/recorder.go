package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// recordTimeout 單筆戰績寫入的時限
const recordTimeout = 5 * time.Second

// Recorder 非同步寫入對局結果
//
// 回合結算在 Manager 的鎖內完成、結果先廣播，持久化在這裡慢慢做：
// 資料庫變慢只會讓佇列變長，不會卡住任何房間的計時。
//
// 寫入順序：勝敗場數 → 對局紀錄 → 排行榜 → 事件發布。
// 任一步失敗只記錄日誌，不重試，也不影響後續步驟。
type Recorder struct {
	store       Store
	leaderboard Leaderboard    // 可為 nil
	publisher   MatchPublisher // 可為 nil
	logger      *slog.Logger

	queue  chan MatchOutcome
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecorder 創建並啟動 Recorder
func NewRecorder(store Store, leaderboard Leaderboard, publisher MatchPublisher, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 64
	}

	r := &Recorder{
		store:       store,
		leaderboard: leaderboard,
		publisher:   publisher,
		logger:      logger,
		queue:       make(chan MatchOutcome, buffer),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Enqueue 排入一場對局，佇列滿或已停止時丟棄並回傳 false
func (r *Recorder) Enqueue(outcome MatchOutcome) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.logger.Warn("recorder 已停止，丟棄對局結果", "room_code", outcome.RoomCode)
		return false
	}

	select {
	case r.queue <- outcome:
		return true
	default:
		r.logger.Warn("戰績佇列已滿，丟棄對局結果",
			"room_code", outcome.RoomCode,
			"winner", outcome.WinnerName,
			"loser", outcome.LoserName)
		return false
	}
}

// Stop 停止接收並寫完佇列中剩下的對局
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for outcome := range r.queue {
		r.record(outcome)
	}
}

func (r *Recorder) record(outcome MatchOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	logger := r.logger.With(
		"room_code", outcome.RoomCode,
		"winner_id", outcome.WinnerID,
		"loser_id", outcome.LoserID)

	if err := r.store.IncrementWinLoss(ctx, outcome.WinnerID, outcome.LoserID); err != nil {
		logger.Error("更新勝敗場數失敗", "error", err)
	}

	if _, err := r.store.RecordMatchOutcome(ctx,
		outcome.WinnerID,
		outcome.LoserID,
		outcome.WinnerRounds,
		outcome.LoserRounds,
		outcome.TotalRounds,
	); err != nil {
		logger.Error("寫入對局紀錄失敗", "error", err)
	}

	if r.leaderboard != nil {
		if err := r.leaderboard.RecordWin(ctx, outcome.WinnerName); err != nil {
			logger.Error("更新排行榜失敗", "error", err)
		}
	}

	if r.publisher != nil {
		if err := r.publisher.PublishMatch(ctx, outcome); err != nil {
			logger.Error("發布對局結果失敗", "error", err)
		}
	}

	logger.Info("對局結果已記錄",
		"winner", outcome.WinnerName,
		"winner_rounds", outcome.WinnerRounds,
		"loser_rounds", outcome.LoserRounds)
}
