// 文件: pkg/oracle/oracle.go
// 价格预言机接口
//
// 【边界】
// 喂价是外部协作方的职责，本系统只读。
// 调用方必须检查报价新鲜度: now - timestamp > maxStaleness 时拒绝使用，
// 绝不静默回退到默认价格。

package oracle

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPriceNotFound = errors.New("price not found")
	ErrStalePrice    = errors.New("stale price")
)

// Quote 一次报价
type Quote struct {
	// Price 价格 (定点数，×1e8)
	Price int64 `json:"price"`

	// Timestamp 报价时间 (Unix毫秒)
	Timestamp int64 `json:"timestamp"`
}

// Oracle 价格预言机
type Oracle interface {
	// GetPrice 获取资产当前报价
	GetPrice(ctx context.Context, asset string) (Quote, error)
}

// CheckFresh 校验报价新鲜度
//
// 超过 maxStaleness 的报价返回 ErrStalePrice
func CheckFresh(q Quote, maxStaleness time.Duration) error {
	if q.Price <= 0 {
		return ErrPriceNotFound
	}
	age := time.Now().UnixMilli() - q.Timestamp
	if age > maxStaleness.Milliseconds() {
		return ErrStalePrice
	}
	return nil
}
