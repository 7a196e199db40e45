package internal

import (
	"encoding/json"
	"time"

	apperrors "github.com/koopa0/system-design/14-rps-arena/pkg/errors"
)

// 系統設計問題：
//   兩名玩家透過房間代碼配對，進行 N 回合限時猜拳，如何保證房間狀態一致？
//
// 核心挑戰：
//   1. 狀態管理：waiting → ready → playing → gameOver，玩家離開時強制回到 waiting
//   2. 計時：每回合 4 秒，雙方都出拳則提前結算，逾時以棄權處理
//   3. 過期回收：房間最多存活 1 小時
//
// 設計方案：
//   ✅ 有限狀態機（FSM）- 每個操作先驗證狀態，驗證失敗不改動任何欄位
//   ✅ Room 本身不加鎖，由 Manager 的單一互斥鎖保護（整個房間是一個一致性單位）
//   ✅ 對外只交出 RoomSnapshot 值拷貝

// RoomState 房間狀態
//
// 有限狀態機設計：
//
//	waiting → ready → playing → gameOver
//	   ↑________|________|_________|     （房客離開）
//	                       ↑_______|     （再來一局）
type RoomState string

const (
	StateWaiting  RoomState = "waiting"  // 等待房客加入
	StateReady    RoomState = "ready"    // 兩人到齊，等待房主開始
	StatePlaying  RoomState = "playing"  // 對局進行中
	StateGameOver RoomState = "gameOver" // 對局結束
)

const (
	// DefaultRounds 預設回合數
	DefaultRounds = 3
	// MinRounds、MaxRounds 回合數上下限
	MinRounds = 1
	MaxRounds = 10
)

// Choice 玩家出拳，空字串代表尚未出拳（或逾時）
type Choice string

const (
	ChoiceNone     Choice = ""
	ChoiceRock     Choice = "rock"
	ChoicePaper    Choice = "paper"
	ChoiceScissors Choice = "scissors"
)

// beats 克制關係：key 贏 value
var beats = map[Choice]Choice{
	ChoiceRock:     ChoiceScissors,
	ChoicePaper:    ChoiceRock,
	ChoiceScissors: ChoicePaper,
}

// ParseChoice 驗證出拳
func ParseChoice(s string) (Choice, error) {
	c := Choice(s)
	if _, ok := beats[c]; !ok {
		return ChoiceNone, apperrors.ErrInvalidChoice
	}
	return c, nil
}

// Beats 判斷 c 是否贏 other
func (c Choice) Beats(other Choice) bool {
	target, ok := beats[c]
	return ok && target == other
}

// MarshalJSON 未出拳輸出 null
func (c Choice) MarshalJSON() ([]byte, error) {
	if c == ChoiceNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON null 視為未出拳
func (c *Choice) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = ChoiceNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = Choice(s)
	return nil
}

// Side 對局中的一方，或平手
type Side string

const (
	SideHost  Side = "host"
	SideGuest Side = "guest"
	SideTie   Side = "tie"
)

// DetermineRoundWinner 判定單回合勝負
//
// 規則：
//   - 雙方都沒出拳 → 平手，不計分
//   - 只有一方沒出拳 → 視為棄權，對手獲勝
//   - 出拳相同 → 平手
//   - 其餘依克制關係判定
func DetermineRoundWinner(host, guest Choice) Side {
	switch {
	case host == ChoiceNone && guest == ChoiceNone:
		return SideTie
	case host == ChoiceNone:
		return SideGuest
	case guest == ChoiceNone:
		return SideHost
	case host == guest:
		return SideTie
	case host.Beats(guest):
		return SideHost
	default:
		return SideGuest
	}
}

// Participant 房間內的玩家
//
// ConnID 指向傳輸層的連線（房間不擁有該連線），UserID 指向持久化的使用者。
type Participant struct {
	ConnID string `json:"socketId"`
	Name   string `json:"username"`
	UserID int64  `json:"userId"`
}

// Scores 比分
type Scores struct {
	Host  int `json:"host"`
	Guest int `json:"guest"`
}

// Leader 比分領先的一方
func (s Scores) Leader() Side {
	switch {
	case s.Host > s.Guest:
		return SideHost
	case s.Guest > s.Host:
		return SideGuest
	default:
		return SideTie
	}
}

// Choices 本回合雙方出拳
type Choices struct {
	Host  Choice `json:"host"`
	Guest Choice `json:"guest"`
}

// Both 雙方是否都已出拳
func (c Choices) Both() bool {
	return c.Host != ChoiceNone && c.Guest != ChoiceNone
}

// FinalWinner 整場對局的勝負，平手時不帶身分
type FinalWinner struct {
	Winner        Side   `json:"winner"`
	Username      string `json:"username,omitempty"`
	UserID        int64  `json:"userId,omitempty"`
	LoserUsername string `json:"loserUsername,omitempty"`
	LoserUserID   int64  `json:"loserUserId,omitempty"`
}

// RoundResult 單回合結算結果
type RoundResult struct {
	Round       int          `json:"round"`
	TotalRounds int          `json:"totalRounds"`
	HostChoice  Choice       `json:"hostChoice"`
	GuestChoice Choice       `json:"guestChoice"`
	Winner      Side         `json:"winner"`
	Scores      Scores       `json:"scores"`
	GameOver    bool         `json:"gameOver,omitempty"`
	FinalWinner *FinalWinner `json:"finalWinner,omitempty"`
}

// MatchOutcome 一場分出勝負的對局，交給持久化層記錄
type MatchOutcome struct {
	RoomCode     string    `json:"roomCode"`
	WinnerID     int64     `json:"winnerId"`
	WinnerName   string    `json:"winnerName"`
	LoserID      int64     `json:"loserId"`
	LoserName    string    `json:"loserName"`
	WinnerRounds int       `json:"winnerRounds"`
	LoserRounds  int       `json:"loserRounds"`
	TotalRounds  int       `json:"totalRounds"`
	CompletedAt  time.Time `json:"completedAt"`
}

// RoomSnapshot 房間的唯讀拷貝
type RoomSnapshot struct {
	Code         string       `json:"code"`
	Host         Participant  `json:"host"`
	Guest        *Participant `json:"guest"`
	TotalRounds  int          `json:"totalRounds"`
	CurrentRound int          `json:"currentRound"`
	Scores       Scores       `json:"scores"`
	Choices      Choices      `json:"choices"`
	State        RoomState    `json:"gameState"`
	RoundOpen    bool         `json:"roundOpen"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Room 遊戲房間
//
// 所有方法都假設呼叫端（Manager）已持有鎖。
type Room struct {
	Code         string
	Host         Participant
	Guest        *Participant
	TotalRounds  int
	CurrentRound int
	Scores       Scores
	Choices      Choices
	State        RoomState
	CreatedAt    time.Time

	// roundOpen 當前回合是否接受出拳；結算後關閉，下一回合開始時重新開啟
	roundOpen bool
	timer     roomTimer // 至多一個待執行的延遲步驟（回合截止或回合間隔）
}

// NewRoom 創建新房間
func NewRoom(code string, host Participant, now time.Time) *Room {
	return &Room{
		Code:        code,
		Host:        host,
		TotalRounds: DefaultRounds,
		State:       StateWaiting,
		CreatedAt:   now,
	}
}

// Snapshot 取得房間拷貝
func (r *Room) Snapshot() RoomSnapshot {
	s := RoomSnapshot{
		Code:         r.Code,
		Host:         r.Host,
		TotalRounds:  r.TotalRounds,
		CurrentRound: r.CurrentRound,
		Scores:       r.Scores,
		Choices:      r.Choices,
		State:        r.State,
		RoundOpen:    r.roundOpen,
		CreatedAt:    r.CreatedAt,
	}
	if r.Guest != nil {
		g := *r.Guest
		s.Guest = &g
	}
	return s
}

// roleOf 依連線 ID 找出角色
func (r *Room) roleOf(connID string) (Side, bool) {
	if r.Host.ConnID == connID {
		return SideHost, true
	}
	if r.Guest != nil && r.Guest.ConnID == connID {
		return SideGuest, true
	}
	return "", false
}

// addGuest 房客加入
func (r *Room) addGuest(guest Participant) error {
	if r.Guest != nil {
		return apperrors.ErrRoomFull
	}
	if r.State != StateWaiting {
		return apperrors.ErrGameInProgress
	}

	r.Guest = &guest
	r.State = StateReady
	return nil
}

// removeGuest 房客離開，進行中的回合資料全部作廢
func (r *Room) removeGuest() {
	r.timer.cancel()
	r.Guest = nil
	r.State = StateWaiting
	r.Choices = Choices{}
	r.roundOpen = false
}

// setRounds 設定回合數
//
// 對局進行中不允許修改，否則 CurrentRound 可能超過 TotalRounds。
func (r *Room) setRounds(n int) error {
	if n < MinRounds || n > MaxRounds {
		return apperrors.ErrInvalidRoundCount
	}
	if r.State == StatePlaying {
		return apperrors.ErrGameInProgress
	}

	r.TotalRounds = n
	return nil
}

// start 開始（或重新開始）對局，第一回合立即開放出拳
//
// 呼叫前槽位裡若還有待執行的步驟，由 Manager 先取出處理。
func (r *Room) start() error {
	if r.Guest == nil {
		return apperrors.ErrNeedSecondPlayer
	}
	if r.State == StatePlaying {
		return apperrors.ErrGameInProgress
	}

	r.State = StatePlaying
	r.CurrentRound = 1
	r.Scores = Scores{}
	r.Choices = Choices{}
	r.roundOpen = true
	return nil
}

// openRound 開放當前回合出拳
func (r *Room) openRound() {
	r.roundOpen = true
}

// choose 記錄出拳，回傳實際的出拳與雙方是否都已出拳
//
// 回合間隔中（上一回合已結算、下一回合尚未開始）視同不在進行中。
func (r *Room) choose(connID, raw string) (Choice, bool, error) {
	if r.State != StatePlaying || !r.roundOpen {
		return ChoiceNone, false, apperrors.ErrGameNotPlaying
	}
	choice, err := ParseChoice(raw)
	if err != nil {
		return ChoiceNone, false, err
	}

	side, ok := r.roleOf(connID)
	if !ok {
		return ChoiceNone, false, apperrors.ErrPlayerNotInRoom
	}

	if side == SideHost {
		r.Choices.Host = choice
	} else {
		r.Choices.Guest = choice
	}
	return choice, r.Choices.Both(), nil
}

// resolve 結算當前回合
func (r *Room) resolve() (RoundResult, error) {
	if r.State != StatePlaying {
		return RoundResult{}, apperrors.ErrGameNotPlaying
	}

	r.timer.cancel()
	r.roundOpen = false

	winner := DetermineRoundWinner(r.Choices.Host, r.Choices.Guest)
	switch winner {
	case SideHost:
		r.Scores.Host++
	case SideGuest:
		r.Scores.Guest++
	}

	result := RoundResult{
		Round:       r.CurrentRound,
		TotalRounds: r.TotalRounds,
		HostChoice:  r.Choices.Host,
		GuestChoice: r.Choices.Guest,
		Winner:      winner,
		Scores:      r.Scores,
	}

	r.Choices = Choices{}

	if r.CurrentRound >= r.TotalRounds {
		r.State = StateGameOver
		result.GameOver = true
		result.FinalWinner = r.finalWinner()
	} else {
		r.CurrentRound++
	}

	return result, nil
}

// finalWinner 判定整場勝負
func (r *Room) finalWinner() *FinalWinner {
	if r.Guest == nil {
		return &FinalWinner{Winner: SideTie}
	}

	switch r.Scores.Leader() {
	case SideHost:
		return &FinalWinner{
			Winner:        SideHost,
			Username:      r.Host.Name,
			UserID:        r.Host.UserID,
			LoserUsername: r.Guest.Name,
			LoserUserID:   r.Guest.UserID,
		}
	case SideGuest:
		return &FinalWinner{
			Winner:        SideGuest,
			Username:      r.Guest.Name,
			UserID:        r.Guest.UserID,
			LoserUsername: r.Host.Name,
			LoserUserID:   r.Host.UserID,
		}
	default:
		return &FinalWinner{Winner: SideTie}
	}
}

// Outcome 整理出可記錄的對局結果；平手或尚未結束回傳 false
func (res RoundResult) Outcome(roomCode string, now time.Time) (MatchOutcome, bool) {
	fw := res.FinalWinner
	if !res.GameOver || fw == nil || fw.Winner == SideTie {
		return MatchOutcome{}, false
	}

	winnerRounds, loserRounds := res.Scores.Host, res.Scores.Guest
	if fw.Winner == SideGuest {
		winnerRounds, loserRounds = loserRounds, winnerRounds
	}

	return MatchOutcome{
		RoomCode:     roomCode,
		WinnerID:     fw.UserID,
		WinnerName:   fw.Username,
		LoserID:      fw.LoserUserID,
		LoserName:    fw.LoserUsername,
		WinnerRounds: winnerRounds,
		LoserRounds:  loserRounds,
		TotalRounds:  res.TotalRounds,
		CompletedAt:  now,
	}, true
}
