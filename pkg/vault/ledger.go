// 文件: pkg/vault/ledger.go
// 仓位账本 (金库)
//
// 【职责】
// 1. 开仓: 收取保证金 → 借贷池借款放大敞口 → 记录入场价值
// 2. 补仓: 追加保证金，按原杠杆放大敞口，债务不变
// 3. 平仓: 卖出敞口 → 还债 → 终态落库 → 盈利费 → 余款退还用户
// 4. 强平结算: 只对强平引擎开放的单向终态迁移
//
// 【编排与补偿】
// 开仓跨三个协作方 (托管、借贷池、价值追踪)，任何一步失败
// 都按相反顺序补偿已完成的步骤，绝不留下半开的仓位。
// 金库以固定账户身份调用借贷池 (访问控制白名单)。
//
// 【强平占位】
// 强平引擎的资金拆分在金库锁外进行，引擎动钱之前必须先
// BeginLiquidation 占住仓位；占位期间平仓/补仓被拒绝，
// 占位由 SettleLiquidation 成功或 AbortLiquidation 解除。

package vault

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"levx.com/pkg/access"
	"levx.com/pkg/audit"
	"levx.com/pkg/custody"
	"levx.com/pkg/events"
	"levx.com/pkg/lending"
	"levx.com/pkg/oracle"
	"levx.com/pkg/pricing"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrInvalidLeverage       = errors.New("invalid leverage")
	ErrUnsupportedAsset      = errors.New("unsupported asset")
	ErrPositionNotActive     = errors.New("position not active")
	ErrLiquidationInProgress = errors.New("liquidation in progress")
	ErrNotOwner              = errors.New("not position owner")
	ErrInsufficientProceeds  = errors.New("proceeds below outstanding debt, route through liquidation")
)

// =============================================================================
// 配置
// =============================================================================

// LedgerConfig 金库配置
type LedgerConfig struct {
	// VaultAccount 金库在访问控制和托管账本中的身份
	VaultAccount int64

	// SupportedAssets 可开仓资产白名单
	SupportedAssets []string

	// MaxLeverageBps 最大杠杆 (万分比，如 100000 = 10x)
	MaxLeverageBps int64

	// EntryFeeBps 开仓费率 (从保证金中扣除，划入保险基金)
	EntryFeeBps int64

	// MaxStaleness 价格最大允许过期时长
	MaxStaleness time.Duration
}

// DefaultLedgerConfig 默认配置
func DefaultLedgerConfig(vaultAccount int64) LedgerConfig {
	return LedgerConfig{
		VaultAccount:    vaultAccount,
		SupportedAssets: []string{"BTC", "ETH"},
		MaxLeverageBps:  100_000,
		EntryFeeBps:     10,
		MaxStaleness:    30 * time.Second,
	}
}

// =============================================================================
// PositionLedger - 仓位账本
// =============================================================================

// PositionLedger 仓位账本
type PositionLedger struct {
	// 全程写锁: 开/补/平/强平结算串行执行，
	// 任一时刻读到的仓位要么是操作前要么是操作后，没有中间态
	mu sync.Mutex

	repo    PositionRepo
	pool    *lending.Pool
	tracker *pricing.ValueTracker
	oracle  oracle.Oracle
	custody custody.Custody
	acl     *access.Controller
	cfg     LedgerConfig

	assets map[string]bool

	// liquidating 强平占位中的仓位 (BeginLiquidation 标记)
	liquidating map[int64]bool

	publisher *events.Publisher
	journal   *audit.Journal

	now func() int64
}

// NewPositionLedger 创建仓位账本
func NewPositionLedger(repo PositionRepo, pool *lending.Pool, tracker *pricing.ValueTracker,
	orc oracle.Oracle, cust custody.Custody, acl *access.Controller, cfg LedgerConfig) *PositionLedger {

	assets := make(map[string]bool, len(cfg.SupportedAssets))
	for _, asset := range cfg.SupportedAssets {
		assets[asset] = true
	}

	return &PositionLedger{
		repo:        repo,
		pool:        pool,
		tracker:     tracker,
		oracle:      orc,
		custody:     cust,
		acl:         acl,
		cfg:         cfg,
		assets:      assets,
		liquidating: make(map[int64]bool),
		now:         func() int64 { return time.Now().UnixMilli() },
	}
}

// SetPublisher 设置 NATS 发布器
func (l *PositionLedger) SetPublisher(publisher *events.Publisher) {
	l.publisher = publisher
}

// SetAuditJournal 设置 Kafka 审计日志
func (l *PositionLedger) SetAuditJournal(journal *audit.Journal) {
	l.journal = journal
}

// =============================================================================
// 开仓
// =============================================================================

// OpenPosition 开杠杆仓
//
// 保证金先扣开仓费，净额按杠杆放大:
//   exposure = net × leverageBps / 10000
//   borrowed = exposure - net
func (l *PositionLedger) OpenPosition(ctx context.Context, owner int64, asset string, amount, leverageBps int64) (*Position, error) {
	if amount <= 0 {
		return nil, ErrZeroAmount
	}
	if leverageBps < lending.RatePrecision || leverageBps > l.cfg.MaxLeverageBps {
		return nil, ErrInvalidLeverage
	}
	if !l.assets[asset] {
		return nil, ErrUnsupportedAsset
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entryFee := amount * l.cfg.EntryFeeBps / lending.RatePrecision
	net := amount - entryFee
	exposure := lending.MulDiv(net, leverageBps, lending.RatePrecision)
	borrowed := exposure - net
	currency := l.pool.Currency()

	// 1. 保证金进托管户
	if err := l.custody.TransferIn(ctx, currency, owner, amount); err != nil {
		return nil, err
	}

	// 2. 借入杠杆部分
	if borrowed > 0 {
		if err := l.pool.Borrow(ctx, l.cfg.VaultAccount, borrowed); err != nil {
			l.compensateTransferIn(ctx, currency, owner, amount, "borrow failed")
			return nil, err
		}
	}

	positionID := GeneratePositionID()

	// 3. 记录入场价值 (净保证金)
	entryPrice, err := l.tracker.RecordEntry(ctx, positionID, asset, net)
	if err != nil {
		l.compensateBorrow(ctx, borrowed, "record entry failed")
		l.compensateTransferIn(ctx, currency, owner, amount, "record entry failed")
		return nil, err
	}

	position := &Position{
		ID:                  positionID,
		Owner:               owner,
		Asset:               asset,
		Collateral:          net,
		LeverageBps:         leverageBps,
		Exposure:            exposure,
		Borrowed:            borrowed,
		EntryPrice:          entryPrice,
		EntryBorrowIndexE12: l.pool.BorrowIndexE12(),
		EntryTime:           l.now(),
		State:               StateActive,
	}

	// 4. 落库
	if err := l.repo.Create(ctx, position); err != nil {
		l.compensateBorrow(ctx, borrowed, "persist failed")
		l.compensateTransferIn(ctx, currency, owner, amount, "persist failed")
		return nil, err
	}

	// 5. 开仓费划入保险基金 (记账失败不回滚已开的仓，留痕人工对账)
	if entryFee > 0 {
		if err := l.pool.TopUpInsurance(ctx, l.cfg.VaultAccount, positionID, entryFee, "entry fee"); err != nil {
			log.Printf("[PositionLedger] CRITICAL: entry fee booking failed: position=%d, fee=%d, err=%v",
				positionID, entryFee, err)
		}
	}

	l.publisher.Publish(events.SubjectPositionOpened, map[string]any{
		"position_id": positionID,
		"owner":       owner,
		"asset":       asset,
		"collateral":  net,
		"leverage":    leverageBps,
		"exposure":    exposure,
		"borrowed":    borrowed,
		"entry_price": entryPrice,
		"timestamp":   position.EntryTime,
	})

	log.Printf("[PositionLedger] Opened position %d: owner=%d, asset=%s, collateral=%d, leverage=%dx, borrowed=%d",
		positionID, owner, asset, net, leverageBps/lending.RatePrecision, borrowed)
	return position, nil
}

// =============================================================================
// 补仓
// =============================================================================

// AddCollateral 追加保证金
//
// 敞口按原杠杆随保证金放大，债务不变，健康度只升不降
func (l *PositionLedger) AddCollateral(ctx context.Context, caller, positionID, amount int64) (*Position, error) {
	if amount <= 0 {
		return nil, ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	position, err := l.repo.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position.State != StateActive || position.Owner != caller {
		return nil, ErrPositionNotActive
	}
	if l.liquidating[positionID] {
		return nil, ErrLiquidationInProgress
	}

	currency := l.pool.Currency()
	if err := l.custody.TransferIn(ctx, currency, caller, amount); err != nil {
		return nil, err
	}

	position.Collateral += amount
	position.Exposure = lending.MulDiv(position.Collateral, position.LeverageBps, lending.RatePrecision)

	if err := l.repo.Update(ctx, position); err != nil {
		l.compensateTransferIn(ctx, currency, caller, amount, "persist failed")
		return nil, err
	}

	l.publisher.Publish(events.SubjectCollateralAdded, map[string]any{
		"position_id": positionID,
		"owner":       caller,
		"amount":      amount,
		"collateral":  position.Collateral,
		"exposure":    position.Exposure,
		"timestamp":   l.now(),
	})
	return position, nil
}

// =============================================================================
// 平仓
// =============================================================================

// ClosePosition 主动平仓
//
// 清算顺序: 还债 → 终态落库 → 盈利费 → 余款退还。
// 终态先于付款落库: 落库失败把还款借回来即可，
// 不留"债已清、仓还在"的可重放窗口。
// 卖出所得不足以还债时拒绝平仓 (ErrInsufficientProceeds)，
// 这种仓位只能走强平路径，亏空由保险基金/存款人分摊。
func (l *PositionLedger) ClosePosition(ctx context.Context, caller, positionID int64) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	position, err := l.repo.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position.State != StateActive {
		return nil, ErrPositionNotActive
	}
	if position.Owner != caller {
		return nil, ErrNotOwner
	}
	if l.liquidating[positionID] {
		return nil, ErrLiquidationInProgress
	}

	quote, err := l.oracle.GetPrice(ctx, position.Asset)
	if err != nil {
		return nil, err
	}
	if err := oracle.CheckFresh(quote, l.cfg.MaxStaleness); err != nil {
		return nil, err
	}

	// 先把利息计提到账，债务和还款在同一指数下结算
	index, err := l.pool.AccrueNow(ctx)
	if err != nil {
		return nil, err
	}
	debt := lending.MulDiv(position.Borrowed, index, position.EntryBorrowIndexE12)
	proceeds := lending.MulDiv(position.Exposure, quote.Price, position.EntryPrice)

	if proceeds < debt {
		return nil, ErrInsufficientProceeds
	}

	increase, fee, _, err := l.tracker.ValueIncrease(ctx, positionID, quote.Price, position.Owner)
	if err != nil {
		return nil, err
	}

	payout := proceeds - debt - fee
	if payout < 0 {
		// 利息吃掉了含费余额，费用让位于还款
		fee = proceeds - debt
		payout = 0
	}

	if debt > 0 {
		if err := l.pool.Repay(ctx, l.cfg.VaultAccount, debt, position.Borrowed); err != nil {
			return nil, err
		}
	}

	position.State = StateClosed
	position.ExitPrice = quote.Price
	position.ExitTime = l.now()
	if err := l.repo.Update(ctx, position); err != nil {
		position.State = StateActive
		position.ExitPrice = 0
		position.ExitTime = 0
		l.compensateRepay(ctx, debt, "close state persist failed")
		return nil, err
	}

	if fee > 0 {
		if err := l.pool.TopUpInsurance(ctx, l.cfg.VaultAccount, positionID, fee, "exit profit fee"); err != nil {
			log.Printf("[PositionLedger] CRITICAL: exit fee booking failed: position=%d, fee=%d, err=%v",
				positionID, fee, err)
		}
	}
	if payout > 0 {
		if err := l.custody.TransferOut(ctx, l.pool.Currency(), position.Owner, payout); err != nil {
			// 仓位已终态、债务已清，资金滞留托管户，留痕人工处理
			log.Printf("[PositionLedger] CRITICAL: close payout failed: position=%d, payout=%d, err=%v",
				positionID, payout, err)
			return nil, err
		}
	}

	l.publisher.Publish(events.SubjectPositionClosed, map[string]any{
		"position_id":    positionID,
		"owner":          position.Owner,
		"exit_price":     quote.Price,
		"value_increase": increase,
		"fee":            fee,
		"payout":         payout,
		"timestamp":      position.ExitTime,
	})

	log.Printf("[PositionLedger] Closed position %d: exit=%d, debt=%d, fee=%d, payout=%d",
		positionID, quote.Price, debt, fee, payout)
	return position, nil
}

// =============================================================================
// 强平占位 / 结算 (引擎专用)
// =============================================================================

// BeginLiquidation 强平占位 (仅强平引擎)
//
// 持锁校验 Active 并标记强平中，返回仓位快照。引擎必须在动用
// 任何资金之前占位: 占位期间平仓/补仓/重复占位都被拒绝，
// 引擎随后的还款和赏金划转不会与主动平仓交错。
func (l *PositionLedger) BeginLiquidation(ctx context.Context, caller, positionID int64) (*Position, error) {
	if err := l.acl.Require(caller, access.RoleLiquidator); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	position, err := l.repo.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position.State != StateActive {
		return nil, ErrPositionNotActive
	}
	if l.liquidating[positionID] {
		return nil, ErrLiquidationInProgress
	}

	l.liquidating[positionID] = true
	snapshot := *position
	return &snapshot, nil
}

// AbortLiquidation 解除占位 (引擎在资金尚未动用时的退出路径)
func (l *PositionLedger) AbortLiquidation(positionID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.liquidating, positionID)
}

// SettleLiquidation 强平终态迁移 (仅强平引擎)
//
// 资金的拆分 (赏金/还款/坏账) 由引擎完成，这里只负责
// 单向状态迁移、解除占位、事件和审计留痕
func (l *PositionLedger) SettleLiquidation(ctx context.Context, caller, positionID, exitPrice, badDebt, liquidatorBonus int64) error {
	if err := l.acl.Require(caller, access.RoleLiquidator); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	position, err := l.repo.Get(ctx, positionID)
	if err != nil {
		return err
	}
	if position.State != StateActive {
		return ErrPositionNotActive
	}

	position.State = StateLiquidated
	position.ExitPrice = exitPrice
	position.ExitTime = l.now()
	if err := l.repo.Update(ctx, position); err != nil {
		// 资金已拆分完毕，占位保留，仓位封禁等待人工对账
		return err
	}
	delete(l.liquidating, positionID)

	l.publisher.Publish(events.SubjectPositionLiquidated, map[string]any{
		"position_id":      positionID,
		"owner":            position.Owner,
		"exit_price":       exitPrice,
		"bad_debt":         badDebt,
		"liquidator_bonus": liquidatorBonus,
		"timestamp":        position.ExitTime,
	})
	l.journal.Append(audit.Record{
		Kind:       "LIQUIDATION",
		PositionID: positionID,
		Account:    position.Owner,
		Amount:     exitPrice,
		Detail: map[string]int64{
			"bad_debt":         badDebt,
			"liquidator_bonus": liquidatorBonus,
		},
	})
	return nil
}

// =============================================================================
// 只读查询
// =============================================================================

// GetPosition 按 ID 查询
func (l *PositionLedger) GetPosition(ctx context.Context, positionID int64) (*Position, error) {
	return l.repo.Get(ctx, positionID)
}

// GetUserPositions 某用户的全部仓位
func (l *PositionLedger) GetUserPositions(ctx context.Context, owner int64) ([]*Position, error) {
	return l.repo.GetByOwner(ctx, owner)
}

// ListActive 全部持仓中的仓位
func (l *PositionLedger) ListActive(ctx context.Context) ([]*Position, error) {
	return l.repo.ListActive(ctx)
}

// Debt 当前债务 (本金 + 按借款指数累积的利息)
func (l *PositionLedger) Debt(position *Position) int64 {
	if position.Borrowed <= 0 {
		return 0
	}
	return lending.MulDiv(position.Borrowed, l.pool.BorrowIndexE12(), position.EntryBorrowIndexE12)
}

// CurrentValue 敞口按当前价的估值
func (l *PositionLedger) CurrentValue(position *Position, currentPrice int64) int64 {
	return lending.MulDiv(position.Exposure, currentPrice, position.EntryPrice)
}

// =============================================================================
// 补偿
// =============================================================================

func (l *PositionLedger) compensateTransferIn(ctx context.Context, currency string, account, amount int64, reason string) {
	if err := l.custody.TransferOut(ctx, currency, account, amount); err != nil {
		log.Printf("[PositionLedger] CRITICAL: refund compensation failed (%s): account=%d, amount=%d, err=%v",
			reason, account, amount, err)
	}
}

func (l *PositionLedger) compensateBorrow(ctx context.Context, borrowed int64, reason string) {
	if borrowed <= 0 {
		return
	}
	if err := l.pool.Repay(ctx, l.cfg.VaultAccount, borrowed, borrowed); err != nil {
		log.Printf("[PositionLedger] CRITICAL: borrow compensation failed (%s): amount=%d, err=%v",
			reason, borrowed, err)
	}
}

// compensateRepay 把刚还掉的债借回来 (终态落库失败时)。
// 指数和入场指数都没动，下次平仓会算出同一笔债务。
func (l *PositionLedger) compensateRepay(ctx context.Context, amount int64, reason string) {
	if amount <= 0 {
		return
	}
	if err := l.pool.Borrow(ctx, l.cfg.VaultAccount, amount); err != nil {
		log.Printf("[PositionLedger] CRITICAL: repay compensation failed (%s): amount=%d, err=%v",
			reason, amount, err)
	}
}
