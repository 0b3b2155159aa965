// 文件: pkg/pricing/redis_store.go
// 价值记录 Redis 缓存装饰器
//
// 【缓存策略】Cache-Aside + 写穿
// 记录是 append-only 的，写入后永不变化，可以放心长期缓存。
// Redis 故障时静默降级到底层存储 (缓存只是加速，不是正确性依赖)。

package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordCacheKeyPrefix = "pricing:record:"
	recordCacheTTL       = 24 * time.Hour
)

var _ RecordStore = (*CachedRecordStore)(nil)

// CachedRecordStore Redis 缓存装饰器
type CachedRecordStore struct {
	inner RecordStore
	rdb   *redis.Client
}

func NewCachedRecordStore(inner RecordStore, rdb *redis.Client) *CachedRecordStore {
	return &CachedRecordStore{inner: inner, rdb: rdb}
}

func recordCacheKey(positionID int64) string {
	return fmt.Sprintf("%s%d", recordCacheKeyPrefix, positionID)
}

// Save 写穿: 先落库，成功后回填缓存
func (s *CachedRecordStore) Save(ctx context.Context, record *ValueRecord) error {
	if err := s.inner.Save(ctx, record); err != nil {
		return err
	}
	s.fill(ctx, record)
	return nil
}

// Get 先缓存后底层存储
func (s *CachedRecordStore) Get(ctx context.Context, positionID int64) (*ValueRecord, error) {
	data, err := s.rdb.Get(ctx, recordCacheKey(positionID)).Bytes()
	if err == nil {
		var record ValueRecord
		if jerr := json.Unmarshal(data, &record); jerr == nil {
			return &record, nil
		}
	}

	record, err := s.inner.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, record)
	return record, nil
}

func (s *CachedRecordStore) fill(ctx context.Context, record *ValueRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	// 回填失败不影响主流程
	s.rdb.Set(ctx, recordCacheKey(record.PositionID), data, recordCacheTTL)
}
