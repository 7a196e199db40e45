package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	apperrors "github.com/koopa0/system-design/14-rps-arena/pkg/errors"
)

// 系統設計問題：
//   兩名玩家的出拳、計時、結果如何即時同步？
//
// 核心挑戰：
//   1. 實時通信：回合開始、結算都由伺服器主動推送
//   2. 連接管理：斷線等同離開房間（不支援重連）
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 並發廣播：計時器 goroutine 與讀取 goroutine 同時推送
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 模式 - 集中管理所有連接，房間代碼即廣播群組
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 異步發送（不阻塞計時器）

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	handleTimeout  = 5 * time.Second
	sendBufferSize = 256
)

// Dispatcher 處理連線送來的事件
type Dispatcher interface {
	Handle(ctx context.Context, connID string, msg Message)
	Disconnect(connID string)
}

// outbound 推送格式 {"event": ..., "data": ...}
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// WebSocketHub WebSocket 連接中心
//
// 系統設計考量：
//
//  1. 連接映射：
//     - connections: connID -> Connection（單播）
//     - groups: roomCode -> connID -> Connection（房間廣播）
//
//  2. 並發安全：RWMutex
//     - 廣播頻繁（讀鎖），註冊/註銷/加入群組少（寫鎖）
//     - 只在持有鎖且連線仍註冊時寫入 Send，註銷時才關閉 Send，不會寫入已關閉的 channel
//
//  3. 不在鎖內呼叫 Dispatcher，避免與 Manager 的鎖互相等待
type WebSocketHub struct {
	dispatcher  Dispatcher
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	connections map[string]*Connection
	groups      map[string]map[string]*Connection
	mu          sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// Connection WebSocket 連接
type Connection struct {
	ID        string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WebSocketHub
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// NewWebSocketHub 創建 WebSocket Hub
//
// allowedOrigins 為空時只接受本機來源與沒有 Origin 的客戶端。
func NewWebSocketHub(allowedOrigins []string, logger *slog.Logger) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]*Connection),
		groups:      make(map[string]map[string]*Connection),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetDispatcher 設定事件處理者，必須在開始接受連線前呼叫
func (hub *WebSocketHub) SetDispatcher(d Dispatcher) {
	hub.dispatcher = d
}

// ServeWS 處理 WebSocket 連接
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, sendBufferSize),
		Hub:  hub,
	}

	hub.register(connection)

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"conn_id", connection.ID,
		"remote_addr", r.RemoteAddr)
}

// register 註冊連接
func (hub *WebSocketHub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	hub.connections[conn.ID] = conn
}

// unregister 取消註冊連接，並從所有房間群組移除
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.connections[conn.ID]; !exists || actual != conn {
		return
	}
	delete(hub.connections, conn.ID)

	for code, members := range hub.groups {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(hub.groups, code)
		}
	}

	conn.closeOnce.Do(func() {
		close(conn.Send)
	})
}

// JoinGroup 連線加入房間群組
func (hub *WebSocketHub) JoinGroup(connID, code string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conn, exists := hub.connections[connID]
	if !exists {
		return
	}
	if hub.groups[code] == nil {
		hub.groups[code] = make(map[string]*Connection)
	}
	hub.groups[code][connID] = conn
}

// LeaveGroup 連線離開房間群組
func (hub *WebSocketHub) LeaveGroup(connID, code string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if members, exists := hub.groups[code]; exists {
		delete(members, connID)
		if len(members) == 0 {
			delete(hub.groups, code)
		}
	}
}

// CloseGroup 解散房間群組，連線本身保持開啟
func (hub *WebSocketHub) CloseGroup(code string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	delete(hub.groups, code)
}

// Send 單播
func (hub *WebSocketHub) Send(connID, event string, data any) {
	message, ok := hub.encode(event, data)
	if !ok {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if conn, exists := hub.connections[connID]; exists {
		hub.enqueue(conn, message)
	}
}

// Broadcast 廣播消息到房間
func (hub *WebSocketHub) Broadcast(code, event string, data any) {
	hub.BroadcastExcept(code, "", event, data)
}

// BroadcastExcept 廣播到房間內除了 exceptConnID 以外的連線
func (hub *WebSocketHub) BroadcastExcept(code, exceptConnID, event string, data any) {
	message, ok := hub.encode(event, data)
	if !ok {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for connID, conn := range hub.groups[code] {
		if connID == exceptConnID {
			continue
		}
		hub.enqueue(conn, message)
	}
}

// enqueue 需持有鎖（讀鎖即可）
func (hub *WebSocketHub) enqueue(conn *Connection, message []byte) {
	select {
	case conn.Send <- message:
	default:
		// 連接緩衝區滿了，丟棄這則訊息，避免慢客戶端拖累計時器
		hub.logger.Warn("連接緩衝區滿", "conn_id", conn.ID)
	}
}

func (hub *WebSocketHub) encode(event string, data any) ([]byte, bool) {
	message, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return nil, false
	}
	return message, true
}

// ConnectionCount 目前連線數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 停止 WebSocket Hub，關閉所有連接
//
// 各連線的 readPump 隨後結束，照常觸發 Disconnect。
func (hub *WebSocketHub) Stop() {
	hub.cancel()

	hub.mu.Lock()
	for _, conn := range hub.connections {
		// 先關閉 Send channel，再關閉連接
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		conn.Conn.Close()
	}
	hub.connections = make(map[string]*Connection)
	hub.groups = make(map[string]map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// readPump 讀取客戶端消息
//
// 60 秒內沒有收到任何消息（包括 Pong）就關閉連接；
// writePump 每 54 秒送一次 Ping，留 6 秒給網絡延遲。
// 結束時通知 Dispatcher，斷線等同離開房間。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
		if c.Hub.dispatcher != nil {
			c.Hub.dispatcher.Disconnect(c.ID)
		}
		c.Hub.logger.Info("WebSocket 連接關閉", "conn_id", c.ID)
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"conn_id", c.ID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 使用 channel（Send）緩衝消息，廣播端不會被慢客戶端阻塞；
// 每 54 秒送一次 Ping 控制幀，客戶端自動回覆 Pong。
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試送出關閉消息，忽略錯誤（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				queued, ok := <-c.Send
				if !ok {
					break
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					c.Hub.logger.Error("發送消息失敗", "error", err, "conn_id", c.ID)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理客戶端消息
func (c *Connection) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Hub.logger.Warn("解析客戶端消息失敗",
			"error", err,
			"conn_id", c.ID)
		c.Hub.Send(c.ID, EventError, ErrorPayload{
			Message: apperrors.ErrInvalidPayload.Message,
			Code:    apperrors.ErrCodeInvalidPayload,
		})
		return
	}

	// 應用層心跳，給無法處理 Ping 控制幀的客戶端使用
	if msg.Event == "ping" {
		c.Hub.Send(c.ID, "pong", nil)
		return
	}

	if c.Hub.dispatcher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.Hub.ctx, handleTimeout)
	defer cancel()
	c.Hub.dispatcher.Handle(ctx, c.ID, msg)
}

// originAllowed 檢查瀏覽器來源
//
// 沒有 Origin（非瀏覽器客戶端）與本機來源一律允許；
// allowed 含 "*" 時允許所有來源。
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}

	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
