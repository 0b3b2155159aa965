// 文件: pkg/pricing/store.go
// 价值记录存储接口

package pricing

import (
	"context"
	"errors"
)

var (
	ErrAlreadyRecorded = errors.New("value record already exists")
	ErrRecordNotFound  = errors.New("value record not found")
)

// RecordStore 价值记录存储
type RecordStore interface {
	// Save 写入记录，position_id 重复返回 ErrAlreadyRecorded
	Save(ctx context.Context, record *ValueRecord) error

	// Get 按仓位查询，不存在返回 ErrRecordNotFound
	Get(ctx context.Context, positionID int64) (*ValueRecord, error)
}
