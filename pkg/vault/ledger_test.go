// 文件: pkg/vault/ledger_test.go
// 仓位账本单元测试

package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levx.com/pkg/access"
	"levx.com/pkg/custody"
	"levx.com/pkg/lending"
	"levx.com/pkg/oracle"
	"levx.com/pkg/pricing"
	"levx.com/pkg/rate"
)

const (
	P = lending.Precision

	acctVault     = int64(900)
	acctEngine    = int64(901)
	acctDepositor = int64(1)
	acctOwner     = int64(2)
	acctStranger  = int64(3)
)

type ledgerFixture struct {
	ledger *PositionLedger
	pool   *lending.Pool
	repo   *MemoryPositionRepo
	cust   *custody.Memory
	orc    *oracle.Static
}

func newLedgerFixture(t *testing.T, cfg LedgerConfig) *ledgerFixture {
	t.Helper()
	ctx := context.Background()

	cust := custody.NewMemory()
	acl := access.NewController()
	acl.Grant(acctVault, access.RoleVault)
	acl.Grant(acctEngine, access.RoleLiquidator)

	pool, err := lending.NewPool(ctx, lending.NewMemoryStore(), rate.DefaultModel(), cust, acl, lending.DefaultConfig())
	require.NoError(t, err)
	// 冻结时钟: 测试内不计提利息，金额断言保持精确
	frozen := time.Now().UnixMilli()
	pool.SetClock(func() int64 { return frozen })

	orc := oracle.NewStatic()
	orc.SetPrice("ETH", 100*P)
	orc.SetPrice("BTC", 50_000*P)

	tracker := pricing.NewValueTracker(pricing.NewMemoryRecordStore(), orc, nil, pricing.DefaultFeeConfig())

	repo := NewMemoryPositionRepo()
	ledger := NewPositionLedger(repo, pool, tracker, orc, cust, acl, cfg)

	// 存款人注入流动性，仓主备好保证金
	cust.Credit(acctDepositor, "USDT", 1_000_000*P)
	cust.Credit(acctOwner, "USDT", 100_000*P)
	_, err = pool.Deposit(ctx, acctDepositor, 100_000*P)
	require.NoError(t, err)

	return &ledgerFixture{ledger: ledger, pool: pool, repo: repo, cust: cust, orc: orc}
}

func noFeeConfig() LedgerConfig {
	cfg := DefaultLedgerConfig(acctVault)
	cfg.EntryFeeBps = 0
	return cfg
}

// =============================================================================
// 开仓
// =============================================================================

// 1000 保证金 3x 杠杆 → 敞口 3000，借款 2000
func TestOpenPositionThreeX(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	assert.Equal(t, int64(1000*P), position.Collateral)
	assert.Equal(t, int64(3000*P), position.Exposure)
	assert.Equal(t, int64(2000*P), position.Borrowed)
	assert.Equal(t, int64(100*P), position.EntryPrice)
	assert.Equal(t, StateActive, position.State)

	// 借贷池同步记账
	assert.Equal(t, int64(2000*P), fx.pool.Snapshot().TotalBorrowed)
}

func TestOpenPositionDeductsEntryFee(t *testing.T) {
	// 默认开仓费 10 bps: 1000 → 费 1，净保证金 999
	fx := newLedgerFixture(t, DefaultLedgerConfig(acctVault))
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 10000)
	require.NoError(t, err)

	assert.Equal(t, int64(999*P), position.Collateral)
	assert.Equal(t, int64(999*P), position.Exposure) // 1x
	assert.Equal(t, int64(0), position.Borrowed)

	// 开仓费进保险基金
	assert.Equal(t, int64(1*P), fx.pool.InsuranceBalance())
}

func TestOpenPositionValidation(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	_, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 0, 30000)
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, err = fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 9999)
	assert.ErrorIs(t, err, ErrInvalidLeverage)

	_, err = fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 100_001)
	assert.ErrorIs(t, err, ErrInvalidLeverage)

	_, err = fx.ledger.OpenPosition(ctx, acctOwner, "DOGE", 1000*P, 30000)
	assert.ErrorIs(t, err, ErrUnsupportedAsset)
}

func TestOpenPositionInsufficientLiquidityRollsBack(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	before := fx.cust.BalanceOf(acctOwner, "USDT")

	// 池里只有 10 万，借 18 万被拒
	fx.cust.Credit(acctOwner, "USDT", 100_000*P)
	_, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 90_000*P, 30000)
	assert.ErrorIs(t, err, lending.ErrInsufficientLiquidity)

	// 保证金原路退回，无仓位留存
	assert.Equal(t, before+100_000*P, fx.cust.BalanceOf(acctOwner, "USDT"))
	positions, err := fx.repo.GetByOwner(ctx, acctOwner)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestOpenPositionRollsBackOnPersistFailure(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	before := fx.cust.BalanceOf(acctOwner, "USDT")
	fx.repo.FailNextWrite(errors.New("db down"))

	_, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.Error(t, err)

	// 借款已补偿归还，保证金退回
	assert.Equal(t, int64(0), fx.pool.Snapshot().TotalBorrowed)
	assert.Equal(t, before, fx.cust.BalanceOf(acctOwner, "USDT"))
}

// =============================================================================
// 补仓
// =============================================================================

func TestAddCollateralScalesExposureKeepsDebt(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	updated, err := fx.ledger.AddCollateral(ctx, acctOwner, position.ID, 500*P)
	require.NoError(t, err)

	assert.Equal(t, int64(1500*P), updated.Collateral)
	assert.Equal(t, int64(4500*P), updated.Exposure) // 原杠杆 3x
	assert.Equal(t, int64(2000*P), updated.Borrowed) // 债务不变
}

func TestAddCollateralOnlyOwnerAndActive(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	fx.cust.Credit(acctStranger, "USDT", 1000*P)
	_, err = fx.ledger.AddCollateral(ctx, acctStranger, position.ID, 100*P)
	assert.ErrorIs(t, err, ErrPositionNotActive)

	_, err = fx.ledger.AddCollateral(ctx, acctOwner, position.ID, 0)
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, err = fx.ledger.AddCollateral(ctx, acctOwner, 404, 100*P)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

// =============================================================================
// 平仓
// =============================================================================

// 入场 100 → 离场 150，净保证金 999 (1x):
// 增值 499.5，费 124.875，退款 = 1498.5 - 124.875 = 1373.625
func TestClosePositionProfitWithFee(t *testing.T) {
	fx := newLedgerFixture(t, DefaultLedgerConfig(acctVault))
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 10000)
	require.NoError(t, err)

	balanceBefore := fx.cust.BalanceOf(acctOwner, "USDT")
	insuranceBefore := fx.pool.InsuranceBalance()

	fx.orc.SetPrice("ETH", 150*P)
	closed, err := fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	require.NoError(t, err)

	assert.Equal(t, StateClosed, closed.State)
	assert.Equal(t, int64(150*P), closed.ExitPrice)

	payout := fx.cust.BalanceOf(acctOwner, "USDT") - balanceBefore
	assert.Equal(t, int64(137_362_500_000), payout) // 1373.625

	// 盈利费进保险基金
	assert.Equal(t, int64(12_487_500_000), fx.pool.InsuranceBalance()-insuranceBefore) // 124.875
}

// 入场 100 → 离场 80: 亏损不收费，退回缩水后的敞口价值
func TestClosePositionLossNoFee(t *testing.T) {
	fx := newLedgerFixture(t, DefaultLedgerConfig(acctVault))
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 10000)
	require.NoError(t, err)

	balanceBefore := fx.cust.BalanceOf(acctOwner, "USDT")
	insuranceBefore := fx.pool.InsuranceBalance()

	fx.orc.SetPrice("ETH", 80*P)
	_, err = fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	require.NoError(t, err)

	// 999 × 80/100 = 799.2，无任何费用
	payout := fx.cust.BalanceOf(acctOwner, "USDT") - balanceBefore
	assert.Equal(t, int64(79_920_000_000), payout)
	assert.Equal(t, insuranceBefore, fx.pool.InsuranceBalance())
}

func TestClosePositionLeveragedRepaysPool(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	balanceBefore := fx.cust.BalanceOf(acctOwner, "USDT")

	fx.orc.SetPrice("ETH", 150*P)
	_, err = fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	require.NoError(t, err)

	// 卖出 4500，还债 2000，增值 500 收费 25% = 125，退款 2375
	assert.Equal(t, int64(0), fx.pool.Snapshot().TotalBorrowed)
	payout := fx.cust.BalanceOf(acctOwner, "USDT") - balanceBefore
	assert.Equal(t, int64(2375*P), payout)
}

func TestClosePositionGuards(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	_, err = fx.ledger.ClosePosition(ctx, acctStranger, position.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	require.NoError(t, err)

	// 终态不可再平
	_, err = fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	assert.ErrorIs(t, err, ErrPositionNotActive)
}

func TestClosePositionUnderwaterRejected(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	// 敞口 3000 跌到 1800 < 债务 2000，只能走强平
	fx.orc.SetPrice("ETH", 60*P)
	_, err = fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	assert.ErrorIs(t, err, ErrInsufficientProceeds)

	got, err := fx.ledger.GetPosition(ctx, position.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
}

func TestClosePositionRejectsStalePrice(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	fx.orc.SetQuote("ETH", oracle.Quote{Price: 150 * P, Timestamp: 1})
	_, err = fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	assert.ErrorIs(t, err, oracle.ErrStalePrice)
}

// 终态落库失败: 还款借回补偿，仓位保持 Active，不付任何款，可重试
func TestClosePositionCompensatesOnPersistFailure(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	balanceBefore := fx.cust.BalanceOf(acctOwner, "USDT")

	fx.orc.SetPrice("ETH", 150*P)
	fx.repo.FailNextWrite(errors.New("db down"))
	_, err = fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	require.Error(t, err)

	// 债务借回，仓位未动，仓主分文未得
	assert.Equal(t, int64(2000*P), fx.pool.Snapshot().TotalBorrowed)
	assert.Equal(t, balanceBefore, fx.cust.BalanceOf(acctOwner, "USDT"))
	got, err := fx.ledger.GetPosition(ctx, position.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)

	// 重试结果与一次成功完全一致
	_, err = fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fx.pool.Snapshot().TotalBorrowed)
	assert.Equal(t, balanceBefore+2375*P, fx.cust.BalanceOf(acctOwner, "USDT"))
}

// =============================================================================
// 强平占位 / 结算
// =============================================================================

// 占位期间平仓/补仓/重复占位都被拒绝，解除后恢复
func TestLiquidationClaimFencesPosition(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	_, err = fx.ledger.BeginLiquidation(ctx, acctOwner, position.ID)
	assert.ErrorIs(t, err, access.ErrAccessDenied)

	claimed, err := fx.ledger.BeginLiquidation(ctx, acctEngine, position.ID)
	require.NoError(t, err)
	assert.Equal(t, position.ID, claimed.ID)

	_, err = fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	assert.ErrorIs(t, err, ErrLiquidationInProgress)
	_, err = fx.ledger.AddCollateral(ctx, acctOwner, position.ID, 100*P)
	assert.ErrorIs(t, err, ErrLiquidationInProgress)
	_, err = fx.ledger.BeginLiquidation(ctx, acctEngine, position.ID)
	assert.ErrorIs(t, err, ErrLiquidationInProgress)

	// 解除占位后主动平仓恢复
	fx.ledger.AbortLiquidation(position.ID)
	_, err = fx.ledger.ClosePosition(ctx, acctOwner, position.ID)
	require.NoError(t, err)
}

// 结算清除占位: 占位 → 结算 → 仓位终态，占位不残留
func TestSettleLiquidationClearsClaim(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	_, err = fx.ledger.BeginLiquidation(ctx, acctEngine, position.ID)
	require.NoError(t, err)

	err = fx.ledger.SettleLiquidation(ctx, acctEngine, position.ID, 60*P, 200*P, 18*P)
	require.NoError(t, err)

	got, err := fx.ledger.GetPosition(ctx, position.ID)
	require.NoError(t, err)
	assert.Equal(t, StateLiquidated, got.State)
	assert.False(t, fx.ledger.liquidating[position.ID])
}

// =============================================================================
// 强平结算
// =============================================================================

func TestSettleLiquidationRequiresLiquidatorRole(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	err = fx.ledger.SettleLiquidation(ctx, acctOwner, position.ID, 60*P, 0, 0)
	assert.ErrorIs(t, err, access.ErrAccessDenied)

	err = fx.ledger.SettleLiquidation(ctx, acctEngine, position.ID, 60*P, 200*P, 18*P)
	require.NoError(t, err)

	got, err := fx.ledger.GetPosition(ctx, position.ID)
	require.NoError(t, err)
	assert.Equal(t, StateLiquidated, got.State)
	assert.Equal(t, int64(60*P), got.ExitPrice)

	// 终态只迁移一次
	err = fx.ledger.SettleLiquidation(ctx, acctEngine, position.ID, 60*P, 0, 0)
	assert.ErrorIs(t, err, ErrPositionNotActive)
}

// =============================================================================
// 查询
// =============================================================================

func TestDebtAndCurrentValue(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	position, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)

	// 无时间流逝: 债务 = 本金
	assert.Equal(t, int64(2000*P), fx.ledger.Debt(position))
	assert.Equal(t, int64(3000*P), fx.ledger.CurrentValue(position, 100*P))
	assert.Equal(t, int64(2400*P), fx.ledger.CurrentValue(position, 80*P))
}

func TestGetUserPositionsAndListActive(t *testing.T) {
	fx := newLedgerFixture(t, noFeeConfig())
	ctx := context.Background()

	p1, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 30000)
	require.NoError(t, err)
	p2, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 500*P, 20000)
	require.NoError(t, err)

	_, err = fx.ledger.ClosePosition(ctx, acctOwner, p2.ID)
	require.NoError(t, err)

	all, err := fx.ledger.GetUserPositions(ctx, acctOwner)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := fx.ledger.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, p1.ID, active[0].ID)
}
