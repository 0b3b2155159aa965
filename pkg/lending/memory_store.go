// 文件: pkg/lending/memory_store.go
// 借贷池内存存储 (开发测试用)

package lending

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore 内存实现
//
// Commit 语义与 MySQL 版一致: 整体成功或整体失败。
// failNext 可以注入一次落盘失败，用于测试回滚路径。
type MemoryStore struct {
	mu     sync.Mutex
	pools  map[string]PoolState
	shares map[string]map[int64]int64
	logs   []*InsuranceFundLog

	failNext error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:  make(map[string]PoolState),
		shares: make(map[string]map[int64]int64),
	}
}

// FailNextCommit 注入一次落盘失败 (测试回滚用)
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) LoadPool(ctx context.Context, currency string) (*PoolState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[currency]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

func (s *MemoryStore) LoadShares(ctx context.Context, currency string) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shares := make(map[int64]int64, len(s.shares[currency]))
	for depositor, amount := range s.shares[currency] {
		shares[depositor] = amount
	}
	return shares, nil
}

func (s *MemoryStore) Commit(ctx context.Context, pool *PoolState, shareChanges map[int64]int64, logs []*InsuranceFundLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}

	s.pools[pool.Currency] = *pool
	if s.shares[pool.Currency] == nil {
		s.shares[pool.Currency] = make(map[int64]int64)
	}
	for depositor, shares := range shareChanges {
		s.shares[pool.Currency][depositor] = shares
	}
	s.logs = append(s.logs, logs...)
	return nil
}

// InsuranceLogs 全部保险流水 (测试断言用)
func (s *MemoryStore) InsuranceLogs() []*InsuranceFundLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*InsuranceFundLog, len(s.logs))
	copy(out, s.logs)
	return out
}
