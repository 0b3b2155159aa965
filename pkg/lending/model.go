// 文件: pkg/lending/model.go
// 借贷池数据结构
//
// 【存储策略】
// - 主存储: MySQL (池状态单行 + 份额表 + 保险基金流水)
// - 池状态常驻内存，写操作先落库再换入内存 (要么全成要么全不成)
//
// 【份额记账】
// 存款人持有份额 (share)，可赎回价值 = shares × totalDeposits / totalShares
// 利息计提使 totalDeposits 增长，份额不变，存款人被动增值

package lending

import "time"

// =============================================================================
// 精度常量
// =============================================================================

const (
	// Precision 金额精度因子
	// 所有金额存储为 int64，乘以 10^8
	// 例: 1.5 USDT = 150_000_000
	Precision = 100_000_000

	// RatePrecision 费率精度 (万分比)
	RatePrecision = 10000

	// IndexPrecision 借款累积指数精度 (×1e12)
	// 指数增长缓慢，需要比金额更高的精度避免截断
	IndexPrecision = 1_000_000_000_000
)

// =============================================================================
// PoolState - 池状态 (单行)
// =============================================================================

// PoolState 借贷池全局状态
//
// 不变量: TotalDeposits >= TotalBorrowed (借款入口强制)
// InsuranceBalance 独立于 TotalDeposits，不参与出借
type PoolState struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Currency string `gorm:"column:currency;type:varchar(16);uniqueIndex"`

	// ===== 份额记账 =====
	TotalDeposits int64 `gorm:"column:total_deposits"`
	TotalBorrowed int64 `gorm:"column:total_borrowed"`
	TotalShares   int64 `gorm:"column:total_shares"`

	// ===== 利息计提 =====
	// BorrowIndexE12 借款累积指数 (×1e12，初始 1e12)
	// 仓位记录开仓时的指数，当前债务 = borrowed × 当前指数 / 开仓指数
	BorrowIndexE12  int64 `gorm:"column:borrow_index_e12"`
	LastAccrualTime int64 `gorm:"column:last_accrual_time"` // Unix毫秒

	// ===== 保险基金 =====
	InsuranceBalance    int64 `gorm:"column:insurance_balance"`
	TotalBadDebtCovered int64 `gorm:"column:total_bad_debt_covered"`

	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (PoolState) TableName() string {
	return "lending_pools"
}

// AvailableLiquidity 可动用流动性
func (s *PoolState) AvailableLiquidity() int64 {
	return s.TotalDeposits - s.TotalBorrowed
}

// =============================================================================
// DepositorShare - 存款人份额
// =============================================================================

// DepositorShare 存款人份额行
type DepositorShare struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Currency  string `gorm:"column:currency;type:varchar(16);uniqueIndex:uk_currency_depositor"`
	Depositor int64  `gorm:"column:depositor;uniqueIndex:uk_currency_depositor"`
	Shares    int64  `gorm:"column:shares"`
	UpdatedAt int64  `gorm:"column:updated_at"`
}

func (DepositorShare) TableName() string {
	return "depositor_shares"
}

// =============================================================================
// InsuranceFundLog - 保险基金流水
// =============================================================================

// 保险基金变更类型
const (
	InsuranceChangeInterestCut = "INTEREST_CUT"  // 利息抽成
	InsuranceChangeTopUp       = "TOP_UP"        // 注资 (含开/平仓手续费)
	InsuranceChangeBadDebt     = "BAD_DEBT"      // 坏账兜底
)

// InsuranceFundLog 保险基金流水
type InsuranceFundLog struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	Currency          string `gorm:"column:currency;type:varchar(16);index"`
	ChangeType        string `gorm:"column:change_type;type:varchar(32)"`
	Amount            int64  `gorm:"column:amount"` // 正=增加，负=减少
	BalanceAfter      int64  `gorm:"column:balance_after"`
	RelatedPositionID int64  `gorm:"column:related_position_id"`
	Remark            string `gorm:"column:remark;type:text"`
	CreatedAt         int64  `gorm:"column:created_at;index"`
}

func (InsuranceFundLog) TableName() string {
	return "insurance_fund_logs"
}

func newInsuranceLog(currency, changeType string, amount, after, positionID int64, remark string) *InsuranceFundLog {
	return &InsuranceFundLog{
		Currency:          currency,
		ChangeType:        changeType,
		Amount:            amount,
		BalanceAfter:      after,
		RelatedPositionID: positionID,
		Remark:            remark,
		CreatedAt:         time.Now().UnixMilli(),
	}
}
