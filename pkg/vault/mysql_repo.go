// 文件: pkg/vault/mysql_repo.go
// 仓位 MySQL 存储实现

package vault

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var _ PositionRepo = (*MySQLPositionRepo)(nil)

// MySQLPositionRepo GORM 实现
type MySQLPositionRepo struct {
	db *gorm.DB
}

func NewMySQLPositionRepo(db *gorm.DB) *MySQLPositionRepo {
	return &MySQLPositionRepo{db: db}
}

func (r *MySQLPositionRepo) Create(ctx context.Context, position *Position) error {
	position.UpdatedAt = time.Now().UnixMilli()
	return r.db.WithContext(ctx).Create(position).Error
}

func (r *MySQLPositionRepo) Update(ctx context.Context, position *Position) error {
	position.UpdatedAt = time.Now().UnixMilli()
	return r.db.WithContext(ctx).Save(position).Error
}

func (r *MySQLPositionRepo) Get(ctx context.Context, id int64) (*Position, error) {
	var position Position
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&position).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

func (r *MySQLPositionRepo) GetByOwner(ctx context.Context, owner int64) ([]*Position, error) {
	var positions []*Position
	err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("id DESC").
		Find(&positions).Error
	return positions, err
}

func (r *MySQLPositionRepo) ListActive(ctx context.Context) ([]*Position, error) {
	var positions []*Position
	err := r.db.WithContext(ctx).
		Where("state = ?", StateActive).
		Find(&positions).Error
	return positions, err
}
