// 文件: pkg/vault/model.go
// 杠杆仓位数据结构
//
// 【状态机】Active → Closed | Liquidated (单向，终态不可逆)
// 仓位进入终态后永不复用、永不再变更

package vault

// PositionState 仓位状态
type PositionState int8

const (
	// StateActive 持仓中
	StateActive PositionState = iota

	// StateClosed 用户主动平仓 (终态)
	StateClosed

	// StateLiquidated 被强平 (终态)
	StateLiquidated
)

func (s PositionState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	case StateLiquidated:
		return "LIQUIDATED"
	}
	return "UNKNOWN"
}

// Terminal 是否终态
func (s PositionState) Terminal() bool {
	return s == StateClosed || s == StateLiquidated
}

// Position 杠杆仓位
//
// 不变量:
//   Exposure = Collateral × LeverageBps / 10000
//   Borrowed = Exposure - Collateral (Collateral 为扣除开仓费后的净额)
type Position struct {
	// ID 雪花算法生成，单调递增
	ID    int64 `gorm:"primaryKey"`
	Owner int64 `gorm:"column:owner;index"`

	Asset       string `gorm:"column:asset;type:varchar(16)"`
	Collateral  int64  `gorm:"column:collateral"`
	LeverageBps int64  `gorm:"column:leverage_bps"`
	Exposure    int64  `gorm:"column:exposure"`
	Borrowed    int64  `gorm:"column:borrowed"`

	// ===== 入场快照 =====
	EntryPrice int64 `gorm:"column:entry_price"`
	// EntryBorrowIndexE12 开仓时的借款指数
	// 当前债务 = Borrowed × 当前指数 / EntryBorrowIndexE12
	EntryBorrowIndexE12 int64 `gorm:"column:entry_borrow_index_e12"`
	EntryTime           int64 `gorm:"column:entry_time"` // Unix毫秒

	State PositionState `gorm:"column:state;index"`

	// ===== 离场快照 (终态时写入) =====
	ExitPrice int64 `gorm:"column:exit_price"`
	ExitTime  int64 `gorm:"column:exit_time"`

	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (Position) TableName() string {
	return "positions"
}
