// Package rpsarena 提供雙人即時猜拳對戰服務。
//
// 兩名玩家透過 6 碼房間代碼配對，進行 1-10 回合的限時猜拳，
// 伺服器負責房間生命週期、回合狀態機、計時與勝負判定。
//
// 房間管理
//
// 房間的建立、加入、離開與過期：
//   - 房間代碼取自 32 個不易混淆的字元（排除 0/O、1/I）
//   - 房主離開即關閉房間；房客離開則房間回到等待狀態
//   - 房間最多存活 1 小時，每 10 分鐘掃描一次
//
// # 回合狀態機
//
//	waiting → ready → playing → gameOver
//
// 每回合 4 秒，雙方都出拳立即結算，逾時未出拳視為棄權；
// 回合結果展示 2 秒後進入下一回合，最後一回合結束後宣布勝負。
// gameOver 之後房主可以在同一個房間再開一局。
//
// # WebSocket 通訊
//
// 所有事件都是 {"event": 名稱, "data": {...}}：
//   - 客戶端：create-room、join-room、set-rounds、start-game、make-choice
//   - 伺服器：room-created、joined-room、player-joined、rounds-set、round-start、
//     choice-received、round-result、game-over、player-left、room-closed、error
//
// 併發設計
//
// 所有房間由 Manager 的一把互斥鎖保護，每個操作在鎖內完整執行，
// 對外只交出值拷貝。每個房間只有一個計時槽位，排新的之前一定先取消舊的，
// 已觸發但過期的 callback 以序號辨識後丟棄。
//
// 持久化與周邊
//
// 戰績寫入不在回合路徑上，而是交給背景 Recorder：
//   - PostgreSQL（pgx）：使用者與對局紀錄，golang-migrate 管理 schema
//   - Redis：勝場排行榜（可選）
//   - NATS：對局結束事件 rps.match.completed（可選）
//
// 沒有設定資料庫時使用記憶體 store。
//
// 使用範例
//
// 啟動服務器：
//
//	go run ./cmd/server -config config.yaml
//
// 客戶端連接：
//
//	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:5000/ws", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ws.Close()
//	ws.WriteJSON(map[string]any{
//	    "event": "create-room",
//	    "data":  map[string]string{"username": "alice"},
//	})
//
// 配置選項
//
// 配置檔（YAML）之外，環境變數優先：
//   - PORT：服務監聽端口（預設 5000）
//   - DATABASE_URL：PostgreSQL 連線字串
//   - REDIS_ADDR：Redis 位址
//   - NATS_URL：NATS 位址
//   - FRONTEND_URL：允許的前端來源，逗號分隔
package rpsarena
