// 文件: pkg/events/publisher.go
// 账本领域事件发布 (NATS)
//
// 【事件清单】
// position.opened / collateral.added / position.closed / position.liquidated
// pool.deposited / pool.withdrawn / pool.baddebt
//
// 事件是对外的事实通知 (UI、keeper、对账)，核心状态变更不依赖事件送达

package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// =============================================================================
// 事件主题
// =============================================================================

const (
	SubjectPositionOpened     = "position.opened"
	SubjectCollateralAdded    = "collateral.added"
	SubjectPositionClosed     = "position.closed"
	SubjectPositionLiquidated = "position.liquidated"
	SubjectPoolDeposited      = "pool.deposited"
	SubjectPoolWithdrawn      = "pool.withdrawn"
	SubjectBadDebtCovered     = "pool.baddebt"
)

// LedgerSubjects 全部账本事件主题 (流水落库订阅用)
var LedgerSubjects = []string{
	SubjectPositionOpened,
	SubjectCollateralAdded,
	SubjectPositionClosed,
	SubjectPositionLiquidated,
	SubjectPoolDeposited,
	SubjectPoolWithdrawn,
	SubjectBadDebtCovered,
}

// =============================================================================
// Publisher
// =============================================================================

// Publisher NATS 事件发布者
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher 创建发布者
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Publish 发布事件 (JSON 序列化)
//
// 发布者可以为 nil (开发模式不接 NATS)，调用方用 nil 判断跳过
func (p *Publisher) Publish(subject string, event any) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

// Close 关闭连接
func (p *Publisher) Close() {
	if p != nil {
		p.conn.Close()
	}
}
