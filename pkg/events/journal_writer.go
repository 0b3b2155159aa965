// 文件: pkg/events/journal_writer.go
// 事件流水落库
//
// 监听全部账本事件，原样写入 MySQL 追加表，供对账/审计查询。
// 消费失败只记日志，不阻塞发布方 (核心账本不依赖这里)。

package events

import (
	"sync/atomic"
	"time"

	"gorm.io/gorm"
)

// =============================================================================
// 数据模型
// =============================================================================

// EventJournal 事件流水 (append-only)
type EventJournal struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Subject   string `gorm:"column:subject;type:varchar(64);index"`
	Payload   string `gorm:"column:payload;type:text"`
	CreatedAt int64  `gorm:"column:created_at;index"`
}

func (EventJournal) TableName() string {
	return "event_journals"
}

// =============================================================================
// JournalWriter
// =============================================================================

// JournalWriter NATS → MySQL 事件落库器
type JournalWriter struct {
	db         *gorm.DB
	subscriber *Subscriber

	written atomic.Int64
	errors  atomic.Int64
}

// NewJournalWriter 创建落库器
func NewJournalWriter(db *gorm.DB, natsURL string) (*JournalWriter, error) {
	w := &JournalWriter{db: db}

	subscriber, err := NewSubscriber(natsURL, w.handle)
	if err != nil {
		return nil, err
	}
	w.subscriber = subscriber
	return w, nil
}

// Start 开始监听全部账本事件
func (w *JournalWriter) Start() error {
	return w.subscriber.SubscribeQueue("event-journal", LedgerSubjects...)
}

// Stop 停止
func (w *JournalWriter) Stop() error {
	return w.subscriber.Close()
}

func (w *JournalWriter) handle(subject string, data []byte) error {
	err := w.db.Create(&EventJournal{
		Subject:   subject,
		Payload:   string(data),
		CreatedAt: time.Now().UnixMilli(),
	}).Error
	if err != nil {
		w.errors.Add(1)
		return err
	}
	w.written.Add(1)
	return nil
}

// Stats 写入统计
func (w *JournalWriter) Stats() (written, errors int64) {
	return w.written.Load(), w.errors.Load()
}
