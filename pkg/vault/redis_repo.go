// 文件: pkg/vault/redis_repo.go
// 仓位 Redis 缓存装饰器
//
// 【缓存策略】
// - 单仓位查询 (强平引擎高频读): Cache-Aside + 写穿
// - 列表查询 (扫描/用户列表): 直透底层存储，保证看到最新集合
// Redis 故障时静默降级，缓存不是正确性依赖

package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	positionCacheKeyPrefix = "vault:position:"
	positionCacheTTL       = time.Hour
)

var _ PositionRepo = (*CachedPositionRepo)(nil)

// CachedPositionRepo Redis 缓存装饰器
type CachedPositionRepo struct {
	inner PositionRepo
	rdb   *redis.Client
}

func NewCachedPositionRepo(inner PositionRepo, rdb *redis.Client) *CachedPositionRepo {
	return &CachedPositionRepo{inner: inner, rdb: rdb}
}

func positionCacheKey(id int64) string {
	return fmt.Sprintf("%s%d", positionCacheKeyPrefix, id)
}

func (r *CachedPositionRepo) Create(ctx context.Context, position *Position) error {
	if err := r.inner.Create(ctx, position); err != nil {
		return err
	}
	r.fill(ctx, position)
	return nil
}

func (r *CachedPositionRepo) Update(ctx context.Context, position *Position) error {
	if err := r.inner.Update(ctx, position); err != nil {
		return err
	}
	r.fill(ctx, position)
	return nil
}

func (r *CachedPositionRepo) Get(ctx context.Context, id int64) (*Position, error) {
	data, err := r.rdb.Get(ctx, positionCacheKey(id)).Bytes()
	if err == nil {
		var position Position
		if jerr := json.Unmarshal(data, &position); jerr == nil {
			return &position, nil
		}
	}

	position, err := r.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.fill(ctx, position)
	return position, nil
}

func (r *CachedPositionRepo) GetByOwner(ctx context.Context, owner int64) ([]*Position, error) {
	return r.inner.GetByOwner(ctx, owner)
}

func (r *CachedPositionRepo) ListActive(ctx context.Context) ([]*Position, error) {
	return r.inner.ListActive(ctx)
}

func (r *CachedPositionRepo) fill(ctx context.Context, position *Position) {
	data, err := json.Marshal(position)
	if err != nil {
		return
	}
	// 回填失败不影响主流程
	r.rdb.Set(ctx, positionCacheKey(position.ID), data, positionCacheTTL)
}
