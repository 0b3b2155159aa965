// 文件: pkg/pricing/model.go
// 入场价值记录

package pricing

// Precision 金额/价格精度因子 (×1e8)
const Precision = 100_000_000

// RatePrecision 费率精度 (万分比)
const RatePrecision = 10000

// ValueRecord 入场价值记录
//
// 开仓时写入一次，平仓/强平时读取算费。
// append-only: 仓位关闭后保留作审计，永不修改。
type ValueRecord struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	PositionID     int64  `gorm:"column:position_id;uniqueIndex"`
	Asset          string `gorm:"column:asset;type:varchar(16)"`
	EntryPrice     int64  `gorm:"column:entry_price"`
	EntryTimestamp int64  `gorm:"column:entry_timestamp"` // Unix毫秒
	DepositValue   int64  `gorm:"column:deposit_value"`
	CreatedAt      int64  `gorm:"column:created_at"`
}

func (ValueRecord) TableName() string {
	return "value_records"
}
