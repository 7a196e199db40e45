package internal

import (
	"time"
)

// roomTimer 房間唯一的延遲步驟槽位
//
// 回合截止與回合間隔共用同一個槽位：排新的之前一定先取消舊的，
// 所以一個房間任何時刻最多只有一個待執行的 callback。
//
// time.Timer.Stop 無法收回已經觸發、正在等鎖的 callback，
// 因此每次排程都配發一個全域遞增的 id，callback 拿到鎖後比對 id，不符就丟棄。
type roomTimer struct {
	t  *time.Timer
	id uint64
	fn func()
}

// cancel 取消待執行的步驟，可重複呼叫
func (rt *roomTimer) cancel() {
	if rt.t != nil {
		rt.t.Stop()
		rt.t = nil
	}
	rt.id = 0
	rt.fn = nil
}

// take 取消計時並取出尚未執行的步驟，由呼叫端決定何時執行
//
// 已觸發但還在等鎖的 callback 會因為 id 被清空而放棄，所以步驟只會執行一次。
func (rt *roomTimer) take() func() {
	fn := rt.fn
	rt.cancel()
	return fn
}

// scheduleLocked 需持有鎖；fn 在 d 之後於鎖外執行
//
// 房間在觸發前被刪除、房客離開、或步驟被取消 / 取代時，fn 不會執行。
func (m *Manager) scheduleLocked(room *Room, d time.Duration, fn func()) {
	room.timer.cancel()

	m.timerSeq++
	id := m.timerSeq
	code := room.Code
	room.timer.id = id
	room.timer.fn = fn
	room.timer.t = time.AfterFunc(d, func() {
		if m.claimRoomTimer(code, id) {
			fn()
		}
	})
}

// claimRoomTimer 觸發時確認槽位仍屬於這次排程，並清空槽位
func (m *Manager) claimRoomTimer(code string, id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[code]
	if !exists || room.timer.id != id {
		return false
	}

	room.timer.t = nil
	room.timer.id = 0
	room.timer.fn = nil
	return true
}
