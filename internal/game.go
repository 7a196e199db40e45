package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/koopa0/system-design/14-rps-arena/pkg/errors"
	"github.com/koopa0/system-design/14-rps-arena/pkg/logger"
)

// 客戶端送來的事件
const (
	EventCreateRoom = "create-room"
	EventJoinRoom   = "join-room"
	EventSetRounds  = "set-rounds"
	EventStartGame  = "start-game"
	EventMakeChoice = "make-choice"
)

// 伺服器推送的事件
const (
	EventRoomCreated    = "room-created"
	EventJoinedRoom     = "joined-room"
	EventPlayerJoined   = "player-joined"
	EventRoundsSet      = "rounds-set"
	EventRoundStart     = "round-start"
	EventChoiceReceived = "choice-received"
	EventRoundResult    = "round-result"
	EventGameOver       = "game-over"
	EventPlayerLeft     = "player-left"
	EventRoomClosed     = "room-closed"
	EventError          = "error"
)

const (
	minUsernameLen = 2
	maxUsernameLen = 20
)

// Message WebSocket 訊息格式，收送共用
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Broadcaster 將事件送到單一連線或整個房間
//
// 房間群組以房間代碼為 key；連線加入房間後才收得到該房間的廣播。
type Broadcaster interface {
	Send(connID, event string, data any)
	Broadcast(code, event string, data any)
	BroadcastExcept(code, exceptConnID, event string, data any)
	JoinGroup(connID, code string)
	LeaveGroup(connID, code string)
	CloseGroup(code string)
}

// 推送事件的內容
type (
	RoomCreatedPayload struct {
		RoomCode string `json:"roomCode"`
		User     User   `json:"user"`
	}

	JoinedRoomPayload struct {
		RoomCode    string      `json:"roomCode"`
		User        User        `json:"user"`
		Host        Participant `json:"host"`
		TotalRounds int         `json:"totalRounds"`
	}

	PlayerJoinedPayload struct {
		Guest Participant `json:"guest"`
	}

	RoundsSetPayload struct {
		TotalRounds int `json:"totalRounds"`
	}

	RoundStartPayload struct {
		Round       int   `json:"round"`
		TotalRounds int   `json:"totalRounds"`
		TimerMs     int64 `json:"timerMs"`
	}

	ChoiceReceivedPayload struct {
		Choice Choice `json:"choice"`
	}

	GameOverPayload struct {
		Winner      *FinalWinner `json:"winner"`
		FinalScores Scores       `json:"finalScores"`
	}

	ReasonPayload struct {
		Reason string `json:"reason"`
	}

	ErrorPayload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
)

// 客戶端事件的內容
type (
	createRoomRequest struct {
		Username string `json:"username"`
	}

	joinRoomRequest struct {
		RoomCode string `json:"roomCode"`
		Username string `json:"username"`
	}

	setRoundsRequest struct {
		RoomCode string `json:"roomCode"`
		Rounds   int    `json:"rounds"`
	}

	startGameRequest struct {
		RoomCode string `json:"roomCode"`
	}

	makeChoiceRequest struct {
		RoomCode string `json:"roomCode"`
		Choice   string `json:"choice"`
	}
)

// GameConfig 對局節奏
type GameConfig struct {
	RoundTimeout time.Duration // 每回合出拳時限
	Intermission time.Duration // 回合結果到下一回合（或終局）的間隔
}

// DefaultGameConfig 每回合 4 秒、間隔 2 秒
func DefaultGameConfig() GameConfig {
	return GameConfig{
		RoundTimeout: 4 * time.Second,
		Intermission: 2 * time.Second,
	}
}

// Game 連線事件分派器
//
// 把客戶端事件翻譯成 Manager 操作，再把結果翻譯成推送事件。
// 回合的計時鏈也在這裡驅動：
//
//	round-start ─(逾時或雙方出拳)→ round-result ─(間隔)→ round-start ...
//	                                         └─(最後一回合)→ game-over
type Game struct {
	manager  *Manager
	store    Store
	recorder *Recorder
	out      Broadcaster
	config   GameConfig
	logger   *slog.Logger
}

// NewGame 創建分派器，並接手房間過期通知
func NewGame(manager *Manager, store Store, recorder *Recorder, out Broadcaster, config GameConfig, logger *slog.Logger) *Game {
	defaults := DefaultGameConfig()
	if config.RoundTimeout <= 0 {
		config.RoundTimeout = defaults.RoundTimeout
	}
	if config.Intermission <= 0 {
		config.Intermission = defaults.Intermission
	}

	g := &Game{
		manager:  manager,
		store:    store,
		recorder: recorder,
		out:      out,
		config:   config,
		logger:   logger,
	}
	manager.OnExpire(g.roomExpired)
	return g
}

// Handle 處理一則客戶端事件；失敗時回送 error 事件給該連線
func (g *Game) Handle(ctx context.Context, connID string, msg Message) {
	ctx = logger.WithConnID(ctx, connID)
	g.logger.DebugContext(ctx, "收到事件", "event", msg.Event)

	var err error
	switch msg.Event {
	case EventCreateRoom:
		err = g.createRoom(ctx, connID, msg.Data)
	case EventJoinRoom:
		err = g.joinRoom(ctx, connID, msg.Data)
	case EventSetRounds:
		err = g.setRounds(connID, msg.Data)
	case EventStartGame:
		err = g.startGame(connID, msg.Data)
	case EventMakeChoice:
		err = g.makeChoice(connID, msg.Data)
	default:
		err = apperrors.ErrUnknownEvent.WithDetails(msg.Event)
	}

	if err != nil {
		g.sendError(ctx, connID, msg.Event, err)
	}
}

// Disconnect 連線中斷：房主離開關閉房間，房客離開讓房間回到等待
func (g *Game) Disconnect(connID string) {
	res, ok := g.manager.LeaveRoom(connID)
	if !ok {
		return
	}

	g.out.LeaveGroup(connID, res.Code)

	if res.Role == SideHost {
		g.out.Broadcast(res.Code, EventRoomClosed, ReasonPayload{Reason: "Host left the game"})
		g.out.CloseGroup(res.Code)
		return
	}
	g.out.Broadcast(res.Code, EventPlayerLeft, ReasonPayload{Reason: "Opponent left the game"})
}

func (g *Game) createRoom(ctx context.Context, connID string, data json.RawMessage) error {
	var req createRoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	name, err := NormalizeUsername(req.Username)
	if err != nil {
		return err
	}

	user, err := g.store.CreateOrFetchUser(ctx, name)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to create room")
	}

	room, err := g.manager.CreateRoom(connID, user.Username, user.ID)
	if err != nil {
		return err
	}

	g.out.JoinGroup(connID, room.Code)
	g.out.Send(connID, EventRoomCreated, RoomCreatedPayload{
		RoomCode: room.Code,
		User:     user,
	})
	return nil
}

func (g *Game) joinRoom(ctx context.Context, connID string, data json.RawMessage) error {
	var req joinRoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	name, err := NormalizeUsername(req.Username)
	if err != nil {
		return err
	}

	user, err := g.store.CreateOrFetchUser(ctx, name)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to join room")
	}

	room, err := g.manager.JoinRoom(req.RoomCode, connID, user.Username, user.ID)
	if err != nil {
		return err
	}

	g.out.JoinGroup(connID, room.Code)
	g.out.Send(connID, EventJoinedRoom, JoinedRoomPayload{
		RoomCode:    room.Code,
		User:        user,
		Host:        room.Host,
		TotalRounds: room.TotalRounds,
	})
	g.out.BroadcastExcept(room.Code, connID, EventPlayerJoined, PlayerJoinedPayload{
		Guest: *room.Guest,
	})
	return nil
}

func (g *Game) setRounds(connID string, data json.RawMessage) error {
	var req setRoundsRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := g.requireHost(req.RoomCode, connID); err != nil {
		return err
	}

	room, err := g.manager.SetRounds(req.RoomCode, req.Rounds)
	if err != nil {
		return err
	}

	g.out.Broadcast(room.Code, EventRoundsSet, RoundsSetPayload{TotalRounds: room.TotalRounds})
	return nil
}

func (g *Game) startGame(connID string, data json.RawMessage) error {
	var req startGameRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := g.requireHost(req.RoomCode, connID); err != nil {
		return err
	}

	room, err := g.manager.StartGame(req.RoomCode)
	if err != nil {
		return err
	}

	g.startRound(room.Code, room.CurrentRound)
	return nil
}

func (g *Game) makeChoice(connID string, data json.RawMessage) error {
	var req makeChoiceRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	receipt, err := g.manager.MakeChoice(req.RoomCode, connID, req.Choice)
	if err != nil {
		return err
	}

	g.out.Send(connID, EventChoiceReceived, ChoiceReceivedPayload{Choice: receipt.Choice})

	if receipt.BothChosen {
		g.endRound(normalizeCode(req.RoomCode), receipt.Round)
	}
	return nil
}

// startRound 廣播回合開始並排程回合截止
func (g *Game) startRound(code string, round int) {
	room, ok := g.manager.BeginRound(code, round, g.config.RoundTimeout, func() {
		g.endRound(code, round)
	})
	if !ok {
		return
	}

	g.out.Broadcast(code, EventRoundStart, RoundStartPayload{
		Round:       room.CurrentRound,
		TotalRounds: room.TotalRounds,
		TimerMs:     g.config.RoundTimeout.Milliseconds(),
	})
}

// endRound 結算回合；逾時與雙方出拳只會有一方成功
func (g *Game) endRound(code string, round int) {
	result, ok := g.manager.ResolveRoundAt(code, round, g.config.Intermission, func(res RoundResult) {
		if res.GameOver {
			g.out.Broadcast(code, EventGameOver, GameOverPayload{
				Winner:      res.FinalWinner,
				FinalScores: res.Scores,
			})
			return
		}
		g.startRound(code, res.Round+1)
	})
	if !ok {
		return
	}

	g.out.Broadcast(code, EventRoundResult, result)

	if !result.GameOver || g.recorder == nil {
		return
	}
	if outcome, ok := result.Outcome(code, time.Now()); ok {
		g.recorder.Enqueue(outcome)
	}
}

// roomExpired 過期清理刪掉房間時通知還在房內的連線
func (g *Game) roomExpired(room RoomSnapshot) {
	g.out.Broadcast(room.Code, EventRoomClosed, ReasonPayload{Reason: "Room expired"})
	g.out.CloseGroup(room.Code)
}

func (g *Game) requireHost(code, connID string) error {
	room, ok := g.manager.GetRoom(code)
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	if room.Host.ConnID != connID {
		return apperrors.ErrNotHost
	}
	return nil
}

func (g *Game) sendError(ctx context.Context, connID, event string, err error) {
	code := apperrors.Code(err)
	if code == apperrors.ErrCodeInternal {
		g.logger.ErrorContext(ctx, "處理事件失敗", "event", event, "error", err)
	} else {
		g.logger.DebugContext(ctx, "事件驗證失敗", "event", event, "code", code)
	}

	g.out.Send(connID, EventError, ErrorPayload{
		Message: apperrors.Message(err),
		Code:    code,
	})
}

// NormalizeUsername 去除前後空白並檢查長度（2-20 個字元）
func NormalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < minUsernameLen || n > maxUsernameLen {
		return "", apperrors.ErrInvalidUsername
	}
	return name, nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperrors.ErrInvalidPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.ErrInvalidPayload.WithDetails(err.Error())
	}
	return nil
}
