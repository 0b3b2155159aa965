// 文件: pkg/lending/mysql_store.go
// 借贷池 MySQL 存储实现

package lending

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ Store = (*MySQLStore)(nil)

// MySQLStore GORM 实现
type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// LoadPool 加载池状态
func (s *MySQLStore) LoadPool(ctx context.Context, currency string) (*PoolState, error) {
	var state PoolState
	err := s.db.WithContext(ctx).
		Where("currency = ?", currency).
		First(&state).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// LoadShares 加载全部份额
func (s *MySQLStore) LoadShares(ctx context.Context, currency string) (map[int64]int64, error) {
	var rows []DepositorShare
	err := s.db.WithContext(ctx).
		Where("currency = ?", currency).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	shares := make(map[int64]int64, len(rows))
	for _, row := range rows {
		shares[row.Depositor] = row.Shares
	}
	return shares, nil
}

// Commit 单事务落盘
func (s *MySQLStore) Commit(ctx context.Context, pool *PoolState, shareChanges map[int64]int64, logs []*InsuranceFundLog) error {
	now := time.Now().UnixMilli()
	pool.UpdatedAt = now

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 池状态 (upsert 单行)
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "currency"}},
			UpdateAll: true,
		}).Create(pool).Error
		if err != nil {
			return err
		}

		// 2. 份额变更行
		for depositor, shares := range shareChanges {
			row := DepositorShare{
				Currency:  pool.Currency,
				Depositor: depositor,
				Shares:    shares,
				UpdatedAt: now,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "currency"}, {Name: "depositor"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"shares":     shares,
					"updated_at": now,
				}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}

		// 3. 保险基金流水
		for _, logEntry := range logs {
			if err := tx.Create(logEntry).Error; err != nil {
				return err
			}
		}

		return nil
	})
}
