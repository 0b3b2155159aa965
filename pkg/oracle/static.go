// 文件: pkg/oracle/static.go
// 静态价格预言机 (开发测试用)

package oracle

import (
	"context"
	"sync"
	"time"
)

// Static 内存价格表，SetPrice 手动控盘
type Static struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

var _ Oracle = (*Static)(nil)

func NewStatic() *Static {
	return &Static{quotes: make(map[string]Quote)}
}

// SetPrice 设置价格 (时间戳取当前时刻)
func (s *Static) SetPrice(asset string, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[asset] = Quote{Price: price, Timestamp: time.Now().UnixMilli()}
}

// SetQuote 设置完整报价 (可伪造过期时间戳)
func (s *Static) SetQuote(asset string, q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[asset] = q
}

func (s *Static) GetPrice(ctx context.Context, asset string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[asset]
	if !ok {
		return Quote{}, ErrPriceNotFound
	}
	return q, nil
}
