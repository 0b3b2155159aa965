// 文件: pkg/pricing/memory_store.go
// 价值记录内存存储 (开发测试用)

package pricing

import (
	"context"
	"sync"
)

var _ RecordStore = (*MemoryRecordStore)(nil)

// MemoryRecordStore 内存实现
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[int64]ValueRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[int64]ValueRecord)}
}

func (s *MemoryRecordStore) Save(ctx context.Context, record *ValueRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.PositionID]; ok {
		return ErrAlreadyRecorded
	}
	s.records[record.PositionID] = *record
	return nil
}

func (s *MemoryRecordStore) Get(ctx context.Context, positionID int64) (*ValueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[positionID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := record
	return &copied, nil
}
