// 文件: pkg/events/subscriber.go
// 账本事件订阅

package events

import (
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// Handler 事件处理函数
type Handler func(subject string, data []byte) error

// Subscriber NATS 订阅者
type Subscriber struct {
	conn    *nats.Conn
	subs    []*nats.Subscription
	handler Handler
}

// NewSubscriber 创建订阅者
func NewSubscriber(url string, handler Handler) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Subscriber{conn: conn, handler: handler}, nil
}

// SubscribeQueue 队列订阅 (同组负载均衡，落库场景防重复消费)
func (s *Subscriber) SubscribeQueue(queue string, subjects ...string) error {
	for _, subject := range subjects {
		sub, err := s.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
			if err := s.handler(msg.Subject, msg.Data); err != nil {
				log.Printf("[Events] handle error: subject=%s, err=%v", msg.Subject, err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Close 关闭
func (s *Subscriber) Close() error {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.conn.Close()
	return nil
}
