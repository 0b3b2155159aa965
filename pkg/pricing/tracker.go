// 文件: pkg/pricing/tracker.go
// 价值追踪器 (只对盈利收费)
//
// 【核心规则】
// 1. 开仓时记录入场价和入场价值，一仓一录，不可重复
// 2. 平仓时: 退出价 <= 入场价 → 增值/费用/用户所得全为零
//    亏损永不收费，这是硬性不变量，不是优化
// 3. 盈利时: 增值 = 入场价值 × 涨幅，费率按质押等级打折、有下限

package pricing

import (
	"context"
	"errors"
	"log"
	"math/big"
	"time"

	"levx.com/pkg/oracle"
)

var ErrInvalidPrice = errors.New("invalid entry price")

// =============================================================================
// 外部折扣查询
// =============================================================================

// DiscountLookup 质押等级费率折扣 (外部系统提供)
type DiscountLookup interface {
	// DiscountBps 用户的费率减免 (万分比)
	DiscountBps(ctx context.Context, user int64) (int64, error)
}

// NoDiscount 默认实现: 无折扣
type NoDiscount struct{}

func (NoDiscount) DiscountBps(ctx context.Context, user int64) (int64, error) {
	return 0, nil
}

// =============================================================================
// 配置
// =============================================================================

// FeeConfig 盈利费配置
type FeeConfig struct {
	// FeeBps 基础费率 (万分比)，对价值增量收取
	FeeBps int64

	// MinFeeBps 折扣后的费率下限
	MinFeeBps int64

	// MaxStaleness 价格最大允许过期时长
	MaxStaleness time.Duration
}

// DefaultFeeConfig 默认配置 (25% 盈利费，折后最低 5%，价格 30 秒过期)
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		FeeBps:       2500,
		MinFeeBps:    500,
		MaxStaleness: 30 * time.Second,
	}
}

// =============================================================================
// ValueTracker - 价值追踪器
// =============================================================================

// ValueTracker 入场价值记录 + 盈利费计算
type ValueTracker struct {
	store    RecordStore
	oracle   oracle.Oracle
	discount DiscountLookup
	cfg      FeeConfig
}

func NewValueTracker(store RecordStore, orc oracle.Oracle, discount DiscountLookup, cfg FeeConfig) *ValueTracker {
	if discount == nil {
		discount = NoDiscount{}
	}
	return &ValueTracker{
		store:    store,
		oracle:   orc,
		discount: discount,
		cfg:      cfg,
	}
}

// RecordEntry 记录入场价值，返回入场价
//
// 同一仓位重复调用返回 ErrAlreadyRecorded
func (t *ValueTracker) RecordEntry(ctx context.Context, positionID int64, asset string, depositValue int64) (int64, error) {
	quote, err := t.oracle.GetPrice(ctx, asset)
	if err != nil {
		return 0, err
	}
	if err := oracle.CheckFresh(quote, t.cfg.MaxStaleness); err != nil {
		return 0, err
	}

	record := &ValueRecord{
		PositionID:     positionID,
		Asset:          asset,
		EntryPrice:     quote.Price,
		EntryTimestamp: quote.Timestamp,
		DepositValue:   depositValue,
	}
	if err := t.store.Save(ctx, record); err != nil {
		return 0, err
	}

	log.Printf("[ValueTracker] Recorded entry: position=%d, asset=%s, price=%d, value=%d",
		positionID, asset, quote.Price, depositValue)
	return quote.Price, nil
}

// ValueIncrease 计算价值增量与盈利费
//
// 返回 (增值, 费用, 用户所得)。
// currentPrice <= 入场价 → 全零 (亏损不收费)
func (t *ValueTracker) ValueIncrease(ctx context.Context, positionID int64, currentPrice int64, owner int64) (int64, int64, int64, error) {
	record, err := t.store.Get(ctx, positionID)
	if err != nil {
		return 0, 0, 0, err
	}
	if record.EntryPrice <= 0 {
		return 0, 0, 0, ErrInvalidPrice
	}

	if currentPrice <= record.EntryPrice {
		return 0, 0, 0, nil
	}

	increase := mulDiv(record.DepositValue, currentPrice-record.EntryPrice, record.EntryPrice)

	effBps, err := t.effectiveFeeBps(ctx, owner)
	if err != nil {
		return 0, 0, 0, err
	}
	fee := increase * effBps / RatePrecision
	return increase, fee, increase - fee, nil
}

// EntryRecord 查询入场记录 (审计/前端展示)
func (t *ValueTracker) EntryRecord(ctx context.Context, positionID int64) (*ValueRecord, error) {
	return t.store.Get(ctx, positionID)
}

// effectiveFeeBps 折后费率: max(FeeBps - 折扣, MinFeeBps)
func (t *ValueTracker) effectiveFeeBps(ctx context.Context, owner int64) (int64, error) {
	discount, err := t.discount.DiscountBps(ctx, owner)
	if err != nil {
		return 0, err
	}
	eff := t.cfg.FeeBps - discount
	if eff < t.cfg.MinFeeBps {
		eff = t.cfg.MinFeeBps
	}
	return eff, nil
}

// mulDiv 计算 a × b / c，中间积走 big.Int 防溢出
func mulDiv(a, b, c int64) int64 {
	if c <= 0 {
		return 0
	}
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	r.Quo(r, big.NewInt(c))
	return r.Int64()
}
