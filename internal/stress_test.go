package internal_test

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-rps-arena/internal"
	apperrors "github.com/koopa0/system-design/14-rps-arena/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStress_ConcurrentRoomCreation 測試併發創建房間
func TestStress_ConcurrentRoomCreation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager := newTestManager(t)

	const (
		numGoroutines     = 100
		roomsPerGoroutine = 10
	)

	var (
		wg           sync.WaitGroup
		successCount int32
		errorCount   int32
		codes        sync.Map
		duplicates   int32
	)

	start := time.Now()

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()

			for j := 0; j < roomsPerGoroutine; j++ {
				connID := fmt.Sprintf("conn_%d_%d", goroutineID, j)
				room, err := manager.CreateRoom(connID, fmt.Sprintf("玩家_%d_%d", goroutineID, j), int64(goroutineID*roomsPerGoroutine+j))
				if err != nil {
					atomic.AddInt32(&errorCount, 1)
					continue
				}
				atomic.AddInt32(&successCount, 1)
				if _, loaded := codes.LoadOrStore(room.Code, connID); loaded {
					atomic.AddInt32(&duplicates, 1)
				}
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	t.Logf("創建房間壓力測試結果:")
	t.Logf("  總房間數: %d", numGoroutines*roomsPerGoroutine)
	t.Logf("  成功: %d", successCount)
	t.Logf("  失敗: %d", errorCount)
	t.Logf("  耗時: %v", duration)
	t.Logf("  速率: %.2f rooms/sec", float64(successCount)/duration.Seconds())

	assert.Equal(t, int32(numGoroutines*roomsPerGoroutine), successCount)
	assert.Equal(t, int32(0), errorCount)
	assert.Equal(t, int32(0), duplicates)

	stats := manager.Stats()
	assert.Equal(t, int(successCount), stats["total_rooms"])
}

// TestStress_ConcurrentGuestJoin 多人同時搶一個房間，只有一人成功
func TestStress_ConcurrentGuestJoin(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager := newTestManager(t)
	room, err := manager.CreateRoom("host-conn", "房主", 1)
	require.NoError(t, err)

	const numPlayers = 100

	var (
		wg     sync.WaitGroup
		joined int32
		full   int32
		others int32
		winner atomic.Value
	)

	for i := 0; i < numPlayers; i++ {
		wg.Add(1)
		go func(playerID int) {
			defer wg.Done()

			connID := fmt.Sprintf("player_%d", playerID)
			_, err := manager.JoinRoom(room.Code, connID, fmt.Sprintf("玩家_%d", playerID), int64(playerID+2))
			switch {
			case err == nil:
				atomic.AddInt32(&joined, 1)
				winner.Store(connID)
			case apperrors.Code(err) == apperrors.ErrCodeRoomFull:
				atomic.AddInt32(&full, 1)
			default:
				atomic.AddInt32(&others, 1)
			}
		}(i)
	}

	wg.Wait()

	t.Logf("搶房壓力測試結果:")
	t.Logf("  加入成功: %d", joined)
	t.Logf("  房間已滿: %d", full)

	assert.Equal(t, int32(1), joined)
	assert.Equal(t, int32(numPlayers-1), full)
	assert.Equal(t, int32(0), others)

	got, ok := manager.GetRoom(room.Code)
	require.True(t, ok)
	require.NotNil(t, got.Guest)
	assert.Equal(t, winner.Load(), got.Guest.ConnID)
	assert.Equal(t, internal.StateReady, got.State)
}

// TestStress_JoinLeaveCycles 測試房客反覆加入和離開
func TestStress_JoinLeaveCycles(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager := newTestManager(t)

	const (
		numRooms      = 50
		numOperations = 20 // 每個房間加入離開的次數
	)

	codes := make([]string, numRooms)
	for i := range codes {
		room, err := manager.CreateRoom(fmt.Sprintf("host_%d", i), fmt.Sprintf("房主_%d", i), int64(i))
		require.NoError(t, err)
		codes[i] = room.Code
	}

	var (
		wg         sync.WaitGroup
		joinCount  int32
		leaveCount int32
		errorCount int32
	)

	start := time.Now()

	for i, code := range codes {
		wg.Add(1)
		go func(roomIdx int, code string) {
			defer wg.Done()

			for j := 0; j < numOperations; j++ {
				connID := fmt.Sprintf("guest_%d_%d", roomIdx, j)
				if _, err := manager.JoinRoom(code, connID, "房客", 0); err != nil {
					atomic.AddInt32(&errorCount, 1)
					continue
				}
				atomic.AddInt32(&joinCount, 1)

				time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)

				if _, ok := manager.LeaveRoom(connID); ok {
					atomic.AddInt32(&leaveCount, 1)
				} else {
					atomic.AddInt32(&errorCount, 1)
				}
			}
		}(i, code)
	}

	wg.Wait()
	duration := time.Since(start)

	t.Logf("房客加入離開壓力測試結果:")
	t.Logf("  總操作數: %d", numRooms*numOperations*2)
	t.Logf("  加入成功: %d", joinCount)
	t.Logf("  離開成功: %d", leaveCount)
	t.Logf("  錯誤: %d", errorCount)
	t.Logf("  耗時: %v", duration)
	t.Logf("  速率: %.2f ops/sec", float64(joinCount+leaveCount)/duration.Seconds())

	assert.Equal(t, joinCount, leaveCount)
	assert.Equal(t, int32(numRooms*numOperations), joinCount)
	assert.Equal(t, int32(0), errorCount)

	for _, code := range codes {
		room, ok := manager.GetRoom(code)
		require.True(t, ok)
		assert.Equal(t, internal.StateWaiting, room.State)
		assert.Nil(t, room.Guest)
	}
}

// TestStress_ResolveRace 逾時與雙方出拳同時結算，每回合只會結算一次
func TestStress_ResolveRace(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager := newTestManager(t)

	const numRooms = 200

	codes := make([]string, numRooms)
	for i := range codes {
		host := fmt.Sprintf("host_%d", i)
		guest := fmt.Sprintf("guest_%d", i)
		room, err := manager.CreateRoom(host, "房主", int64(2*i+1))
		require.NoError(t, err)
		_, err = manager.JoinRoom(room.Code, guest, "房客", int64(2*i+2))
		require.NoError(t, err)
		_, err = manager.StartGame(room.Code)
		require.NoError(t, err)
		codes[i] = room.Code
	}

	var (
		wg       sync.WaitGroup
		resolved int32
	)

	start := time.Now()

	for i, code := range codes {
		// 房主、房客、逾時三方同時動作
		wg.Add(3)
		go func(code, connID string) {
			defer wg.Done()
			_, _ = manager.MakeChoice(code, connID, "rock")
			if _, ok := manager.ResolveRoundAt(code, 1, time.Hour, nil); ok {
				atomic.AddInt32(&resolved, 1)
			}
		}(code, fmt.Sprintf("host_%d", i))
		go func(code, connID string) {
			defer wg.Done()
			_, _ = manager.MakeChoice(code, connID, "scissors")
			if _, ok := manager.ResolveRoundAt(code, 1, time.Hour, nil); ok {
				atomic.AddInt32(&resolved, 1)
			}
		}(code, fmt.Sprintf("guest_%d", i))
		go func(code string) {
			defer wg.Done()
			if _, ok := manager.ResolveRoundAt(code, 1, time.Hour, nil); ok {
				atomic.AddInt32(&resolved, 1)
			}
		}(code)
	}

	wg.Wait()
	duration := time.Since(start)

	t.Logf("結算競爭測試結果:")
	t.Logf("  房間數: %d", numRooms)
	t.Logf("  結算次數: %d", resolved)
	t.Logf("  耗時: %v", duration)

	assert.Equal(t, int32(numRooms), resolved)

	for _, code := range codes {
		room, ok := manager.GetRoom(code)
		require.True(t, ok)
		assert.Equal(t, 2, room.CurrentRound)
		assert.LessOrEqual(t, room.Scores.Host+room.Scores.Guest, 1)
	}
}

// TestStress_MatchLifecycle 測試大量對局完整生命週期
func TestStress_MatchLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager := newTestManager(t)

	const (
		numConcurrent = 10
		numCycles     = 20
		rounds        = 3
	)

	var (
		wg              sync.WaitGroup
		completedCycles int32
		failures        int32
	)

	choices := []string{"rock", "paper", "scissors"}
	start := time.Now()

	for i := 0; i < numConcurrent; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for cycle := 0; cycle < numCycles; cycle++ {
				host := fmt.Sprintf("host_%d_%d", workerID, cycle)
				guest := fmt.Sprintf("guest_%d_%d", workerID, cycle)

				room, err := manager.CreateRoom(host, "房主", 1)
				if err != nil {
					atomic.AddInt32(&failures, 1)
					continue
				}
				if _, err := manager.JoinRoom(room.Code, guest, "房客", 2); err != nil {
					atomic.AddInt32(&failures, 1)
					continue
				}
				if _, err := manager.SetRounds(room.Code, rounds); err != nil {
					atomic.AddInt32(&failures, 1)
					continue
				}
				if _, err := manager.StartGame(room.Code); err != nil {
					atomic.AddInt32(&failures, 1)
					continue
				}

				var last internal.RoundResult
				for r := 1; r <= rounds; r++ {
					if _, ok := manager.BeginRound(room.Code, r, time.Hour, func() {}); !ok {
						atomic.AddInt32(&failures, 1)
						break
					}
					_, _ = manager.MakeChoice(room.Code, host, choices[rand.Intn(3)])
					_, _ = manager.MakeChoice(room.Code, guest, choices[rand.Intn(3)])
					last, err = manager.ResolveRound(room.Code)
					if err != nil {
						atomic.AddInt32(&failures, 1)
						break
					}
				}
				if !last.GameOver || last.Scores.Host+last.Scores.Guest > rounds {
					atomic.AddInt32(&failures, 1)
				}

				// 房主離開，房間關閉
				manager.LeaveRoom(host)
				atomic.AddInt32(&completedCycles, 1)
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	t.Logf("對局生命週期壓力測試結果:")
	t.Logf("  完成週期數: %d", completedCycles)
	t.Logf("  失敗: %d", failures)
	t.Logf("  耗時: %v", duration)
	t.Logf("  速率: %.2f matches/sec", float64(completedCycles)/duration.Seconds())

	assert.Equal(t, int32(numConcurrent*numCycles), completedCycles)
	assert.Equal(t, int32(0), failures)

	// 沒有房間洩漏
	stats := manager.Stats()
	assert.Equal(t, 0, stats["total_rooms"])
	assert.Equal(t, 0, stats["total_players"])
}

// BenchmarkDetermineRoundWinner 基準測試：勝負判定
func BenchmarkDetermineRoundWinner(b *testing.B) {
	choices := []internal.Choice{
		internal.ChoiceNone,
		internal.ChoiceRock,
		internal.ChoicePaper,
		internal.ChoiceScissors,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		internal.DetermineRoundWinner(choices[i%4], choices[(i/4)%4])
	}
}

// BenchmarkManager_CreateRoom 基準測試：創建房間
func BenchmarkManager_CreateRoom(b *testing.B) {
	manager := newTestManager(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = manager.CreateRoom(fmt.Sprintf("conn_%d", i), "玩家", int64(i))
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "rooms/sec")
}

// BenchmarkManager_GetRoom 基準測試：獲取房間
func BenchmarkManager_GetRoom(b *testing.B) {
	manager := newTestManager(b)

	codes := make([]string, 100)
	for i := range codes {
		room, _ := manager.CreateRoom(fmt.Sprintf("conn_%d", i), "玩家", int64(i))
		codes[i] = room.Code
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		manager.GetRoom(codes[i%len(codes)])
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "gets/sec")
}

// BenchmarkManager_MakeChoice 基準測試：出拳
func BenchmarkManager_MakeChoice(b *testing.B) {
	manager := newTestManager(b)

	room, _ := manager.CreateRoom("host", "房主", 1)
	_, _ = manager.JoinRoom(room.Code, "guest", "房客", 2)
	_, _ = manager.StartGame(room.Code)

	choices := []string{"rock", "paper", "scissors"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = manager.MakeChoice(room.Code, "host", choices[i%3])
	}
}

// BenchmarkConcurrentOperations 基準測試：併發操作
func BenchmarkConcurrentOperations(b *testing.B) {
	manager := newTestManager(b)

	codes := make([]string, 50)
	for i := range codes {
		room, _ := manager.CreateRoom(fmt.Sprintf("host_%d", i), "房主", int64(i))
		_, _ = manager.JoinRoom(room.Code, fmt.Sprintf("guest_%d", i), "房客", int64(i+100))
		_, _ = manager.StartGame(room.Code)
		codes[i] = room.Code
	}

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			i++
			idx := i % len(codes)

			// 隨機執行操作
			switch i % 4 {
			case 0:
				manager.GetRoom(codes[idx])
			case 1:
				_, _ = manager.MakeChoice(codes[idx], fmt.Sprintf("host_%d", idx), "rock")
			case 2:
				_, _ = manager.MakeChoice(codes[idx], fmt.Sprintf("guest_%d", idx), "paper")
			case 3:
				manager.Stats()
			}
		}
	})
}
