// 文件: pkg/audit/journal.go
// 经济事件审计流 (Kafka)
//
// 坏账、强平这类经济事件不是错误，是必须留痕的一等事实。
// 除了 NATS 实时事件外，再异步写一份到 Kafka 追加日志，
// 供风控回放和监管审计消费。
//
// 特点:
// - 异步发送，不阻塞账本主路径
// - 相同 key (仓位/池) 保证分区内有序
// - 优雅关闭

package audit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// TopicLedgerEvents 审计主题
const TopicLedgerEvents = "ledger_events"

// =============================================================================
// 审计记录
// =============================================================================

// Record 一条审计记录
type Record struct {
	Kind       string `json:"kind"` // LIQUIDATION / BAD_DEBT / ...
	PositionID int64  `json:"position_id,omitempty"`
	Account    int64  `json:"account,omitempty"`
	Amount     int64  `json:"amount,omitempty"`
	Detail     any    `json:"detail,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// =============================================================================
// Journal - Kafka 审计日志
// =============================================================================

// JournalConfig 配置
type JournalConfig struct {
	Brokers        []string
	FlushFrequency time.Duration
	MaxRetries     int
}

// DefaultJournalConfig 默认配置
func DefaultJournalConfig(brokers []string) JournalConfig {
	return JournalConfig{
		Brokers:        brokers,
		FlushFrequency: 100 * time.Millisecond,
		MaxRetries:     3,
	}
}

// Journal Kafka 审计日志写入器
type Journal struct {
	producer sarama.AsyncProducer

	sentCount  atomic.Int64
	errorCount atomic.Int64

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewJournal 创建审计日志
func NewJournal(cfg JournalConfig) (*Journal, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll // 审计数据不允许丢
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = cfg.FlushFrequency
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create audit producer: %w", err)
	}

	j := &Journal{producer: producer}

	j.wg.Add(1)
	go j.handleErrors()

	return j, nil
}

// Append 追加审计记录 (异步)
//
// Journal 可以为 nil (开发模式不接 Kafka)
func (j *Journal) Append(rec Record) error {
	if j == nil {
		return nil
	}
	if j.closed.Load() {
		return fmt.Errorf("audit journal is closed")
	}

	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serialize audit record: %w", err)
	}

	j.producer.Input() <- &sarama.ProducerMessage{
		Topic: TopicLedgerEvents,
		Key:   sarama.StringEncoder(strconv.FormatInt(rec.PositionID, 10)),
		Value: sarama.ByteEncoder(data),
	}
	j.sentCount.Add(1)

	return nil
}

func (j *Journal) handleErrors() {
	defer j.wg.Done()

	for err := range j.producer.Errors() {
		j.errorCount.Add(1)
		fmt.Printf("[Audit] send error: topic=%s, err=%v\n", err.Msg.Topic, err.Err)
	}
}

// Stats 发送统计
func (j *Journal) Stats() (sent, errors int64) {
	if j == nil {
		return 0, 0
	}
	return j.sentCount.Load(), j.errorCount.Load()
}

// Close 关闭 (等待缓冲区发完)
func (j *Journal) Close() error {
	if j == nil || j.closed.Swap(true) {
		return nil
	}
	err := j.producer.Close()
	j.wg.Wait()
	return err
}
