package internal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// MatchCompletedSubject 對局結束事件的 subject
const MatchCompletedSubject = "rps.match.completed"

// MatchPublisher 對外發布對局結果
type MatchPublisher interface {
	PublishMatch(ctx context.Context, outcome MatchOutcome) error
}

// NATSPublisher 以 NATS 發布對局結果
//
// 只做 fire-and-forget 的 core publish，不使用 JetStream：
// 對局紀錄的正本在 PostgreSQL，這裡只是給其他服務的通知。
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher 連接 NATS
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("rps-arena"))
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}
	return &NATSPublisher{
		conn:    conn,
		subject: MatchCompletedSubject,
	}, nil
}

// PublishMatch 發布對局結果
func (p *NATSPublisher) PublishMatch(_ context.Context, outcome MatchOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("序列化對局結果失敗: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("發布對局結果失敗: %w", err)
	}
	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
