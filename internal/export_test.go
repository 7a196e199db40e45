package internal

import (
	"time"

	apperrors "github.com/koopa0/system-design/14-rps-arena/pkg/errors"
)

// 以下方法只給測試直接操作房間的計時槽位

func (m *Manager) ScheduleRoomTimer(code string, d time.Duration, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[normalizeCode(code)]
	if !exists {
		return apperrors.ErrRoomNotFound
	}

	m.scheduleLocked(room, d, fn)
	return nil
}

func (m *Manager) CancelRoomTimer(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, exists := m.rooms[normalizeCode(code)]; exists {
		room.timer.cancel()
	}
}

func (m *Manager) HasPendingTimer(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[normalizeCode(code)]
	return exists && room.timer.t != nil
}
