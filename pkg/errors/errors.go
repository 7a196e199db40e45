// Package errors 提供應用程式錯誤處理
//
// 所有房間與對局操作的驗證失敗都以 *AppError 回傳，
// 呼叫端用 errors.Is 比對錯誤碼，不比對訊息字串。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// 房間 / 對局驗證錯誤
	ErrCodeRoomNotFound       = "ROOM_NOT_FOUND"
	ErrCodeRoomFull           = "ROOM_FULL"
	ErrCodeGameInProgress     = "GAME_IN_PROGRESS"
	ErrCodeInvalidRoundCount  = "INVALID_ROUND_COUNT"
	ErrCodeNeedSecondPlayer   = "NEED_SECOND_PLAYER"
	ErrCodeGameNotPlaying     = "GAME_NOT_PLAYING"
	ErrCodeInvalidChoice      = "INVALID_CHOICE"
	ErrCodePlayerNotInRoom    = "PLAYER_NOT_IN_ROOM"
	ErrCodeNotHost            = "NOT_HOST"
	ErrCodeAlreadyInRoom      = "ALREADY_IN_ROOM"
	ErrCodeCodeSpaceExhausted = "CODE_SPACE_EXHAUSTED"

	// 使用者 / 通用錯誤
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeInvalidUsername = "INVALID_USERNAME"
	ErrCodeInvalidPayload  = "INVALID_PAYLOAD"
	ErrCodeUnknownEvent    = "UNKNOWN_EVENT"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is，以錯誤碼比對
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳帶有詳細資訊的副本（預定義錯誤是共用的，不能原地修改）
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	ErrRoomNotFound       = New(ErrCodeRoomNotFound, "Room not found")
	ErrRoomFull           = New(ErrCodeRoomFull, "Room is full")
	ErrGameInProgress     = New(ErrCodeGameInProgress, "Game already in progress")
	ErrInvalidRoundCount  = New(ErrCodeInvalidRoundCount, "Rounds must be between 1 and 10")
	ErrNeedSecondPlayer   = New(ErrCodeNeedSecondPlayer, "Need 2 players to start")
	ErrGameNotPlaying     = New(ErrCodeGameNotPlaying, "Game is not in playing state")
	ErrInvalidChoice      = New(ErrCodeInvalidChoice, "Invalid choice")
	ErrPlayerNotInRoom    = New(ErrCodePlayerNotInRoom, "Player not in room")
	ErrNotHost            = New(ErrCodeNotHost, "Only the host can do that")
	ErrAlreadyInRoom      = New(ErrCodeAlreadyInRoom, "Already in a room")
	ErrCodeSpaceExhausted = New(ErrCodeCodeSpaceExhausted, "Could not allocate a room code")

	ErrUserNotFound    = New(ErrCodeUserNotFound, "User not found")
	ErrInvalidUsername = New(ErrCodeInvalidUsername, "Username must be 2-20 characters")
	ErrInvalidPayload  = New(ErrCodeInvalidPayload, "Invalid request payload")
	ErrUnknownEvent    = New(ErrCodeUnknownEvent, "Unknown event")
)

// Code 取出錯誤碼，非 AppError 一律視為內部錯誤
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Message 取出可以直接顯示給使用者的訊息
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	switch Code(err) {
	case ErrCodeRoomNotFound, ErrCodeUserNotFound:
		return true
	}
	return false
}

// IsConflict 檢查是否為狀態衝突（房間已滿、對局進行中等）
func IsConflict(err error) bool {
	switch Code(err) {
	case ErrCodeRoomFull, ErrCodeGameInProgress, ErrCodeNeedSecondPlayer, ErrCodeGameNotPlaying, ErrCodeAlreadyInRoom:
		return true
	}
	return false
}
