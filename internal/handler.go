package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/koopa0/system-design/14-rps-arena/pkg/errors"
)

const (
	recentGamesLimit        = 10
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// Handler HTTP 請求處理器
type Handler struct {
	manager        *Manager
	store          Store
	leaderboard    Leaderboard // 可為 nil
	hub            *WebSocketHub
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(manager *Manager, store Store, leaderboard Leaderboard, hub *WebSocketHub, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		manager:        manager,
		store:          store,
		leaderboard:    leaderboard,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 使用者 API
	mux.HandleFunc("POST /api/users", wrap(h.createUser))
	mux.HandleFunc("GET /api/users/{username}", wrap(h.getUser))

	// 房間與排行榜
	mux.HandleFunc("GET /api/rooms/{code}", wrap(h.getRoom))
	mux.HandleFunc("GET /api/leaderboard", wrap(h.getLeaderboard))

	// 健康檢查
	mux.HandleFunc("GET /api/health", wrap(h.health))
	mux.HandleFunc("GET /api/stats", wrap(h.stats))

	// WebSocket 需要 Hijack，不經過包裝 ResponseWriter 的日誌中間件
	if h.hub != nil {
		mux.HandleFunc("GET /ws", h.hub.ServeWS)
	}

	return h.cors(mux)
}

type createUserRequest struct {
	Username string `json:"username"`
}

// userResponse 使用者資料加上最近對局
type userResponse struct {
	User
	RecentGames []GameRecord `json:"recentGames"`
}

// createUser 建立或登入使用者
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	name, err := NormalizeUsername(req.Username)
	if err != nil {
		h.appErrorResponse(w, err)
		return
	}

	user, err := h.store.CreateOrFetchUser(r.Context(), name)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "建立使用者失敗", "username", name, "error", err)
		h.errorResponse(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, user, http.StatusOK)
}

// getUser 取得使用者戰績與最近對局
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	user, err := h.store.GetUser(r.Context(), username)
	if err != nil {
		h.appErrorResponse(w, err)
		return
	}

	games, err := h.store.RecentGames(r.Context(), user.ID, recentGamesLimit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "查詢對局紀錄失敗", "user_id", user.ID, "error", err)
		h.errorResponse(w, "Failed to get user", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, userResponse{User: user, RecentGames: games}, http.StatusOK)
}

// getRoom 獲取房間詳情
func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.manager.GetRoom(r.PathValue("code"))
	if !ok {
		h.appErrorResponse(w, apperrors.ErrRoomNotFound)
		return
	}

	h.jsonResponse(w, room, http.StatusOK)
}

// getLeaderboard 勝場排行榜
func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.errorResponse(w, "Leaderboard is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultLeaderboardLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= maxLeaderboardLimit {
			limit = val
		}
	}

	entries, err := h.leaderboard.Top(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "讀取排行榜失敗", "error", err)
		h.errorResponse(w, "Failed to get leaderboard", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{
		"entries": entries,
		"limit":   limit,
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	if h.hub != nil {
		stats["connections"] = h.hub.ConnectionCount()
	}
	h.jsonResponse(w, stats, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// appErrorResponse 依錯誤碼決定狀態碼
func (h *Handler) appErrorResponse(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)
	h.jsonResponse(w, map[string]any{
		"error": apperrors.Message(err),
		"code":  code,
	}, statusFor(err))
}

// statusFor 錯誤碼對應 HTTP 狀態碼
func statusFor(err error) int {
	switch {
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsConflict(err):
		return http.StatusConflict
	case apperrors.Code(err) == apperrors.ErrCodeInternal:
		return http.StatusInternalServerError
	case apperrors.Code(err) == apperrors.ErrCodeNotHost:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// cors 跨來源設定，本機來源一律允許
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(h.allowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != "" {
			if origin != "" && !originAllowed(h.allowedOrigins, origin) {
				h.errorResponse(w, "Not allowed by CORS", http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
