// 文件: pkg/vault/repo.go
// 仓位存储接口
//
// 【设计模式】Repository Pattern
// 账本逻辑只依赖接口，MySQL 主存储 + Redis 缓存装饰器 + 内存实现可替换

package vault

import (
	"context"
	"errors"
)

var ErrPositionNotFound = errors.New("position not found")

// PositionRepo 仓位存储
type PositionRepo interface {
	// Create 创建仓位
	Create(ctx context.Context, position *Position) error

	// Update 更新仓位
	Update(ctx context.Context, position *Position) error

	// Get 按 ID 查询，不存在返回 ErrPositionNotFound
	Get(ctx context.Context, id int64) (*Position, error)

	// GetByOwner 某用户的全部仓位 (含终态)
	GetByOwner(ctx context.Context, owner int64) ([]*Position, error)

	// ListActive 全部持仓中的仓位 (强平扫描用)
	ListActive(ctx context.Context) ([]*Position, error)
}
