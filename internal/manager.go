package internal

import (
	"crypto/rand"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/14-rps-arena/pkg/errors"
)

const (
	// codeAlphabet 排除容易混淆的 0/O、1/I，共 32 個字元
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
	// maxCodeAttempts 產生不重複代碼的嘗試上限（32^6 約 10 億，實務上不會用完）
	maxCodeAttempts = 100
)

// ManagerConfig 房間管理器配置
type ManagerConfig struct {
	RoomTTL       time.Duration // 房間最長存活時間，不論狀態
	SweepInterval time.Duration // 過期掃描間隔
}

// DefaultManagerConfig 預設配置：房間存活 1 小時，每 10 分鐘掃描
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RoomTTL:       time.Hour,
		SweepInterval: 10 * time.Minute,
	}
}

// Option 管理器選項
type Option func(*Manager)

// WithClock 替換時間來源（測試用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRandom 替換代碼的亂數來源（測試用）
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		m.random = r
	}
}

// LeaveResult 玩家離開的結果
//
// Role 為 host 時房間已經刪除，Room 是刪除前的拷貝，用來通知房客。
type LeaveResult struct {
	Code string
	Role Side
	Room RoomSnapshot
}

// ChoiceReceipt 出拳回執
type ChoiceReceipt struct {
	Round      int
	Side       Side
	Choice     Choice
	BothChosen bool
}

// Manager 房間管理器
//
// 同時扮演 Session Registry（房間的建立、查詢、加入、離開、過期）
// 與 Round Engine（回合數、開局、出拳、結算）。
// 兩者操作同一個 Room，所以共用一把鎖；每個操作在鎖內完整執行，
// 驗證失敗時不留下任何修改。
type Manager struct {
	rooms    map[string]*Room  // code -> Room
	connRoom map[string]string // connID -> code
	mu       sync.Mutex
	config   ManagerConfig
	logger   *slog.Logger
	random   io.Reader
	now      func() time.Time
	timerSeq uint64
	onExpire func(RoomSnapshot)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager 創建房間管理器並啟動過期掃描
func NewManager(config ManagerConfig, logger *slog.Logger, opts ...Option) *Manager {
	defaults := DefaultManagerConfig()
	if config.RoomTTL <= 0 {
		config.RoomTTL = defaults.RoomTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}

	m := &Manager{
		rooms:    make(map[string]*Room),
		connRoom: make(map[string]string),
		config:   config,
		logger:   logger,
		random:   rand.Reader,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

// OnExpire 註冊房間因過期被刪除時的通知
func (m *Manager) OnExpire(fn func(RoomSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

// GenerateCode 產生一個目前沒有被使用的房間代碼
func (m *Manager) GenerateCode() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCode()
}

// generateCode 需持有鎖
func (m *Manager) generateCode() (string, error) {
	buf := make([]byte, codeLength)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if _, err := io.ReadFull(m.random, buf); err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "read random bytes")
		}
		// 256 是 32 的倍數，取餘數後每個字元仍是均勻分佈
		for i := range buf {
			buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
		}
		code := string(buf)
		if _, exists := m.rooms[code]; !exists {
			return code, nil
		}
	}
	return "", apperrors.ErrCodeSpaceExhausted
}

// CreateRoom 創建房間，建立者成為房主
func (m *Manager) CreateRoom(hostConnID, hostName string, hostUserID int64) (RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.connRoom[hostConnID]; exists {
		return RoomSnapshot{}, apperrors.ErrAlreadyInRoom
	}

	code, err := m.generateCode()
	if err != nil {
		return RoomSnapshot{}, err
	}

	room := NewRoom(code, Participant{
		ConnID: hostConnID,
		Name:   hostName,
		UserID: hostUserID,
	}, m.now())

	m.rooms[code] = room
	m.connRoom[hostConnID] = code

	m.logger.Info("房間已創建",
		"room_code", code,
		"host", hostName,
		"conn_id", hostConnID)

	return room.Snapshot(), nil
}

// GetRoom 獲取房間
func (m *Manager) GetRoom(code string) (RoomSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[normalizeCode(code)]
	if !exists {
		return RoomSnapshot{}, false
	}
	return room.Snapshot(), true
}

// JoinRoom 房客加入
func (m *Manager) JoinRoom(code, guestConnID, guestName string, guestUserID int64) (RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code = normalizeCode(code)
	room, exists := m.rooms[code]
	if !exists {
		return RoomSnapshot{}, apperrors.ErrRoomNotFound
	}
	if _, ok := m.connRoom[guestConnID]; ok {
		return RoomSnapshot{}, apperrors.ErrAlreadyInRoom
	}

	if err := room.addGuest(Participant{
		ConnID: guestConnID,
		Name:   guestName,
		UserID: guestUserID,
	}); err != nil {
		return RoomSnapshot{}, err
	}
	m.connRoom[guestConnID] = code

	m.logger.Info("玩家加入房間",
		"room_code", code,
		"guest", guestName,
		"conn_id", guestConnID)

	return room.Snapshot(), nil
}

// SetRounds 設定回合數
func (m *Manager) SetRounds(code string, n int) (RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[normalizeCode(code)]
	if !exists {
		return RoomSnapshot{}, apperrors.ErrRoomNotFound
	}
	if err := room.setRounds(n); err != nil {
		return RoomSnapshot{}, err
	}

	m.logger.Debug("回合數已設定", "room_code", room.Code, "total_rounds", n)
	return room.Snapshot(), nil
}

// StartGame 開始對局，也用於 gameOver 之後再來一局
//
// 再來一局時若上一局的終局步驟（game-over 公告）還在回合間隔中等待，
// 會在回傳前先於鎖外執行，確保它早於新對局的任何訊息。
func (m *Manager) StartGame(code string) (RoomSnapshot, error) {
	m.mu.Lock()

	room, exists := m.rooms[normalizeCode(code)]
	if !exists {
		m.mu.Unlock()
		return RoomSnapshot{}, apperrors.ErrRoomNotFound
	}

	rematch := room.State == StateGameOver
	if err := room.start(); err != nil {
		m.mu.Unlock()
		return RoomSnapshot{}, err
	}

	var pending func()
	if rematch {
		pending = room.timer.take()
	} else {
		room.timer.cancel()
	}

	m.logger.Info("對局開始",
		"room_code", room.Code,
		"total_rounds", room.TotalRounds,
		"rematch", rematch)

	snapshot := room.Snapshot()
	m.mu.Unlock()

	if pending != nil {
		pending()
	}
	return snapshot, nil
}

// MakeChoice 記錄玩家出拳
func (m *Manager) MakeChoice(code, connID, choice string) (ChoiceReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[normalizeCode(code)]
	if !exists {
		return ChoiceReceipt{}, apperrors.ErrRoomNotFound
	}

	parsed, both, err := room.choose(connID, choice)
	if err != nil {
		return ChoiceReceipt{}, err
	}

	side, _ := room.roleOf(connID)
	return ChoiceReceipt{
		Round:      room.CurrentRound,
		Side:       side,
		Choice:     parsed,
		BothChosen: both,
	}, nil
}

// ResolveRound 結算當前回合，不論雙方是否都已出拳（未出拳視為棄權）
func (m *Manager) ResolveRound(code string) (RoundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[normalizeCode(code)]
	if !exists {
		return RoundResult{}, apperrors.ErrRoomNotFound
	}
	return m.resolve(room)
}

// ResolveRoundAt 只在房間仍停留在指定回合時結算，並排程下一步
//
// 逾時與提前結算可能同時發生，後到的一方會因為回合已前進而拿到 false。
// next 在 delay 之後以本次結果呼叫（下一回合開始或宣布終局）；
// 結算與排程在同一把鎖內完成，中間不會插入其他計時。
func (m *Manager) ResolveRoundAt(code string, round int, delay time.Duration, next func(RoundResult)) (RoundResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[normalizeCode(code)]
	if !exists || room.State != StatePlaying || room.CurrentRound != round {
		return RoundResult{}, false
	}

	result, err := m.resolve(room)
	if err != nil {
		return RoundResult{}, false
	}

	if next != nil {
		m.scheduleLocked(room, delay, func() { next(result) })
	}
	return result, true
}

// resolve 需持有鎖
func (m *Manager) resolve(room *Room) (RoundResult, error) {
	result, err := room.resolve()
	if err != nil {
		return RoundResult{}, err
	}

	m.logger.Info("回合結算",
		"room_code", room.Code,
		"round", result.Round,
		"winner", result.Winner,
		"host_score", result.Scores.Host,
		"guest_score", result.Scores.Guest,
		"game_over", result.GameOver)

	return result, nil
}

// BeginRound 開放指定回合出拳並排程回合截止
//
// 房間已刪除、房客離開或回合已前進時回傳 false，不排程任何東西。
// 回合間隔中不接受出拳，所以回合開始時雙方一定都還沒出拳。
func (m *Manager) BeginRound(code string, round int, timeout time.Duration, onTimeout func()) (RoomSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[normalizeCode(code)]
	if !exists || room.State != StatePlaying || room.CurrentRound != round {
		return RoomSnapshot{}, false
	}

	room.openRound()
	m.scheduleLocked(room, timeout, onTimeout)
	return room.Snapshot(), true
}

// LeaveRoom 連線離開（斷線）
//
// 房主離開 → 刪除房間；房客離開 → 房間回到 waiting。
// 連線不在任何房間時回傳 false。
func (m *Manager) LeaveRoom(connID string) (LeaveResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, exists := m.connRoom[connID]
	if !exists {
		return LeaveResult{}, false
	}
	delete(m.connRoom, connID)

	room, exists := m.rooms[code]
	if !exists {
		return LeaveResult{}, false
	}

	role, ok := room.roleOf(connID)
	if !ok {
		return LeaveResult{}, false
	}

	if role == SideHost {
		snapshot := room.Snapshot()
		m.removeRoom(room)
		m.logger.Info("房主離開，房間已關閉", "room_code", code, "conn_id", connID)
		return LeaveResult{Code: code, Role: SideHost, Room: snapshot}, true
	}

	room.removeGuest()
	m.logger.Info("房客離開", "room_code", code, "conn_id", connID)
	return LeaveResult{Code: code, Role: SideGuest, Room: room.Snapshot()}, true
}

// SweepExpired 刪除建立超過 threshold 的房間，回傳被刪除的房間
func (m *Manager) SweepExpired(threshold time.Duration) []RoomSnapshot {
	m.mu.Lock()
	now := m.now()
	var removed []RoomSnapshot
	for _, room := range m.rooms {
		if now.Sub(room.CreatedAt) > threshold {
			removed = append(removed, room.Snapshot())
			m.removeRoom(room)
		}
	}
	onExpire := m.onExpire
	m.mu.Unlock()

	for _, snapshot := range removed {
		m.logger.Info("房間已過期清理", "room_code", snapshot.Code, "state", snapshot.State)
		if onExpire != nil {
			onExpire(snapshot)
		}
	}

	return removed
}

// removeRoom 需持有鎖；先取消計時再移除
func (m *Manager) removeRoom(room *Room) {
	room.timer.cancel()

	if m.connRoom[room.Host.ConnID] == room.Code {
		delete(m.connRoom, room.Host.ConnID)
	}
	if room.Guest != nil && m.connRoom[room.Guest.ConnID] == room.Code {
		delete(m.connRoom, room.Guest.ConnID)
	}
	delete(m.rooms, room.Code)
}

// cleanupLoop 定期清理過期房間
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SweepExpired(m.config.RoomTTL)
		case <-m.stopCh:
			return
		}
	}
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	byState := make(map[RoomState]int)
	players := 0
	for _, room := range m.rooms {
		byState[room.State]++
		players++
		if room.Guest != nil {
			players++
		}
	}

	return map[string]any{
		"total_rooms":   len(m.rooms),
		"total_players": players,
		"by_state":      byState,
	}
}

// Stop 停止管理器並取消所有待執行的計時
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.Lock()
	for _, room := range m.rooms {
		room.timer.cancel()
	}
	m.mu.Unlock()

	m.logger.Info("房間管理器已停止")
}

// normalizeCode 加入碼不分大小寫
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
