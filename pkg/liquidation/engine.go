// 文件: pkg/liquidation/engine.go
// 强平引擎
//
// 【职责】
// 1. 健康因子: 敞口现值 × 10000 / 当前债务，无债务视为无穷大
// 2. 单笔强平: 金库占位 → 卖出敞口 → 先付强平赏金 (毛收入计提) →
//    还债 → 亏空走借贷池坏账兜底 → 剩余退还仓主 → 结算终态
// 3. 批量强平: 逐笔独立结算，单笔失败跳过不影响同批其他仓位
//
// 【边界规则】
// 健康因子恰好等于阈值时不可强平，低于阈值一个单位即可。
// 仓主不能强平自己的仓位 (赏金自套利)。

package liquidation

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"levx.com/pkg/access"
	"levx.com/pkg/custody"
	"levx.com/pkg/lending"
	"levx.com/pkg/oracle"
	"levx.com/pkg/vault"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrPositionHealthy        = errors.New("position is healthy")
	ErrSelfLiquidation        = errors.New("cannot liquidate own position")
	ErrNoLiquidationsExecuted = errors.New("no liquidations executed")
)

// HealthInfinity 无债务仓位的健康因子哨兵值
const HealthInfinity = int64(math.MaxInt64)

// =============================================================================
// 配置
// =============================================================================

// EngineConfig 强平引擎配置
type EngineConfig struct {
	// EngineAccount 引擎在访问控制和托管账本中的身份
	EngineAccount int64

	// ThresholdBps 强平阈值 (万分比，11000 = 健康因子 110%)
	ThresholdBps int64

	// BonusBps 强平赏金费率 (对卖出毛收入计提)
	BonusBps int64

	// MaxStaleness 价格最大允许过期时长
	MaxStaleness time.Duration
}

// DefaultEngineConfig 默认配置
func DefaultEngineConfig(engineAccount int64) EngineConfig {
	return EngineConfig{
		EngineAccount: engineAccount,
		ThresholdBps:  11000,
		BonusBps:      500,
		MaxStaleness:  30 * time.Second,
	}
}

// =============================================================================
// 结果
// =============================================================================

// Result 单笔强平结果
type Result struct {
	PositionID      int64 `json:"position_id"`
	Owner           int64 `json:"owner"`
	ExitPrice       int64 `json:"exit_price"`
	Proceeds        int64 `json:"proceeds"`
	DebtRepaid      int64 `json:"debt_repaid"`
	BadDebt         int64 `json:"bad_debt"`
	LiquidatorBonus int64 `json:"liquidator_bonus"`
	OwnerRefund     int64 `json:"owner_refund"`
}

// BatchResult 批量强平结果
type BatchResult struct {
	Executed int       `json:"executed"`
	Results  []*Result `json:"results"`

	TotalRepaid int64 `json:"total_repaid"`
	TotalBad    int64 `json:"total_bad"`
	TotalBonus  int64 `json:"total_bonus"`

	// Skipped 未执行的仓位及原因
	Skipped map[int64]string `json:"skipped,omitempty"`
}

// =============================================================================
// Engine - 强平引擎
// =============================================================================

// Engine 强平引擎
type Engine struct {
	ledger  *vault.PositionLedger
	pool    *lending.Pool
	oracle  oracle.Oracle
	custody custody.Custody
	acl     *access.Controller
	cfg     EngineConfig
}

// NewEngine 创建强平引擎
func NewEngine(ledger *vault.PositionLedger, pool *lending.Pool, orc oracle.Oracle,
	cust custody.Custody, acl *access.Controller, cfg EngineConfig) *Engine {
	return &Engine{
		ledger:  ledger,
		pool:    pool,
		oracle:  orc,
		custody: cust,
		acl:     acl,
		cfg:     cfg,
	}
}

// =============================================================================
// 健康因子
// =============================================================================

// HealthFactorBps 健康因子 (万分比)
//
// 敞口现值 × 10000 / 当前债务。无债务返回 HealthInfinity
func (e *Engine) HealthFactorBps(ctx context.Context, positionID int64) (int64, error) {
	position, err := e.ledger.GetPosition(ctx, positionID)
	if err != nil {
		return 0, err
	}
	if position.State != vault.StateActive {
		return 0, vault.ErrPositionNotActive
	}

	quote, err := e.oracle.GetPrice(ctx, position.Asset)
	if err != nil {
		return 0, err
	}
	if err := oracle.CheckFresh(quote, e.cfg.MaxStaleness); err != nil {
		return 0, err
	}
	return e.healthFactor(position, quote.Price), nil
}

// IsLiquidatable 是否可强平 (健康因子严格低于阈值)
func (e *Engine) IsLiquidatable(ctx context.Context, positionID int64) (bool, error) {
	hf, err := e.HealthFactorBps(ctx, positionID)
	if err != nil {
		return false, err
	}
	return hf < e.cfg.ThresholdBps, nil
}

func (e *Engine) healthFactor(position *vault.Position, price int64) int64 {
	debt := e.ledger.Debt(position)
	if debt <= 0 {
		return HealthInfinity
	}
	value := e.ledger.CurrentValue(position, price)
	return lending.MulDiv(value, lending.RatePrecision, debt)
}

// =============================================================================
// 单笔强平
// =============================================================================

// Liquidate 强平一个仓位
//
// 先占位后动钱: BeginLiquidation 持金库写锁校验 Active 并标记
// 强平中，从占位到结算，主动平仓/补仓/并发强平都进不来。
// 资金动用前的任何失败都解除占位退出。
func (e *Engine) Liquidate(ctx context.Context, caller, positionID int64) (*Result, error) {
	position, err := e.ledger.BeginLiquidation(ctx, e.cfg.EngineAccount, positionID)
	if err != nil {
		return nil, err
	}
	if position.Owner == caller {
		e.ledger.AbortLiquidation(positionID)
		return nil, ErrSelfLiquidation
	}

	quote, err := e.oracle.GetPrice(ctx, position.Asset)
	if err != nil {
		e.ledger.AbortLiquidation(positionID)
		return nil, err
	}
	if err := oracle.CheckFresh(quote, e.cfg.MaxStaleness); err != nil {
		e.ledger.AbortLiquidation(positionID)
		return nil, err
	}

	// 计提落盘，债务和还款在同一指数下结算
	index, err := e.pool.AccrueNow(ctx)
	if err != nil {
		e.ledger.AbortLiquidation(positionID)
		return nil, err
	}
	debt := lending.MulDiv(position.Borrowed, index, position.EntryBorrowIndexE12)
	proceeds := lending.MulDiv(position.Exposure, quote.Price, position.EntryPrice)

	if debt <= 0 || lending.MulDiv(proceeds, lending.RatePrecision, debt) >= e.cfg.ThresholdBps {
		e.ledger.AbortLiquidation(positionID)
		return nil, ErrPositionHealthy
	}

	// 赏金从毛收入计提: 水下仓位也要有人愿意来平
	bonus := lending.MulDiv(proceeds, e.cfg.BonusBps, lending.RatePrecision)
	remainder := proceeds - bonus

	repaid := remainder
	if repaid > debt {
		repaid = debt
	}
	shortfall := debt - repaid
	refund := remainder - repaid

	currency := e.pool.Currency()

	if repaid > 0 {
		principal := position.Borrowed
		if repaid < principal {
			principal = repaid
		}
		if err := e.pool.Repay(ctx, e.cfg.EngineAccount, repaid, principal); err != nil {
			// 第一笔资金动用失败，什么都没动，解除占位
			e.ledger.AbortLiquidation(positionID)
			return nil, err
		}
	}
	// 此后资金已部分动用: 失败不再解除占位，仓位保持封禁等待人工对账
	if shortfall > 0 {
		if _, _, err := e.pool.CoverBadDebt(ctx, e.cfg.EngineAccount, positionID, shortfall); err != nil {
			log.Printf("[Liquidation] CRITICAL: bad debt coverage failed: position=%d, shortfall=%d, err=%v",
				positionID, shortfall, err)
			return nil, err
		}
	}
	if bonus > 0 {
		if err := e.custody.TransferOut(ctx, currency, caller, bonus); err != nil {
			log.Printf("[Liquidation] CRITICAL: bonus payout failed: position=%d, keeper=%d, err=%v",
				positionID, caller, err)
			return nil, err
		}
	}
	if refund > 0 {
		if err := e.custody.TransferOut(ctx, currency, position.Owner, refund); err != nil {
			log.Printf("[Liquidation] CRITICAL: owner refund failed: position=%d, owner=%d, err=%v",
				positionID, position.Owner, err)
			return nil, err
		}
	}

	if err := e.ledger.SettleLiquidation(ctx, e.cfg.EngineAccount, positionID, quote.Price, shortfall, bonus); err != nil {
		log.Printf("[Liquidation] CRITICAL: settle failed after funds moved: position=%d, err=%v", positionID, err)
		return nil, err
	}

	log.Printf("[Liquidation] Liquidated position %d: proceeds=%d, repaid=%d, badDebt=%d, bonus=%d, refund=%d",
		positionID, proceeds, repaid, shortfall, bonus, refund)

	return &Result{
		PositionID:      positionID,
		Owner:           position.Owner,
		ExitPrice:       quote.Price,
		Proceeds:        proceeds,
		DebtRepaid:      repaid,
		BadDebt:         shortfall,
		LiquidatorBonus: bonus,
		OwnerRefund:     refund,
	}, nil
}

// =============================================================================
// 批量强平
// =============================================================================

// BatchLiquidate 批量强平
//
// 逐笔独立结算: 单笔失败 (健康、已终态、价格问题) 记录后跳过，
// 不回滚同批已完成的笔。全部失败才返回 ErrNoLiquidationsExecuted。
// keeper 提交的批次不应被一条过期条目作废。
func (e *Engine) BatchLiquidate(ctx context.Context, caller int64, positionIDs []int64) (*BatchResult, error) {
	batch := &BatchResult{Skipped: make(map[int64]string)}

	for _, positionID := range positionIDs {
		result, err := e.Liquidate(ctx, caller, positionID)
		if err != nil {
			batch.Skipped[positionID] = err.Error()
			continue
		}
		batch.Executed++
		batch.Results = append(batch.Results, result)
		batch.TotalRepaid += result.DebtRepaid
		batch.TotalBad += result.BadDebt
		batch.TotalBonus += result.LiquidatorBonus
	}

	if batch.Executed == 0 && len(positionIDs) > 0 {
		return batch, ErrNoLiquidationsExecuted
	}
	return batch, nil
}
