// 文件: pkg/pricing/mysql_store.go
// 价值记录 MySQL 存储实现

package pricing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var _ RecordStore = (*MySQLRecordStore)(nil)

// MySQLRecordStore GORM 实现
type MySQLRecordStore struct {
	db *gorm.DB
}

func NewMySQLRecordStore(db *gorm.DB) *MySQLRecordStore {
	return &MySQLRecordStore{db: db}
}

// Save 写入记录 (先查重，position_id 上有唯一索引兜底)
func (s *MySQLRecordStore) Save(ctx context.Context, record *ValueRecord) error {
	record.CreatedAt = time.Now().UnixMilli()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ValueRecord
		err := tx.Where("position_id = ?", record.PositionID).First(&existing).Error
		if err == nil {
			return ErrAlreadyRecorded
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(record).Error
	})
}

// Get 按仓位查询
func (s *MySQLRecordStore) Get(ctx context.Context, positionID int64) (*ValueRecord, error) {
	var record ValueRecord
	err := s.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		First(&record).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
