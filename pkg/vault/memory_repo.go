// 文件: pkg/vault/memory_repo.go
// 仓位内存存储 (开发测试用)

package vault

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ PositionRepo = (*MemoryPositionRepo)(nil)

// MemoryPositionRepo 内存实现
type MemoryPositionRepo struct {
	mu        sync.Mutex
	positions map[int64]Position

	failNext error
}

func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{positions: make(map[int64]Position)}
}

// FailNextWrite 注入一次写失败 (测试回滚用)
func (r *MemoryPositionRepo) FailNextWrite(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

func (r *MemoryPositionRepo) Create(ctx context.Context, position *Position) error {
	return r.write(position)
}

func (r *MemoryPositionRepo) Update(ctx context.Context, position *Position) error {
	return r.write(position)
}

func (r *MemoryPositionRepo) write(position *Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}

	position.UpdatedAt = time.Now().UnixMilli()
	r.positions[position.ID] = *position
	return nil
}

func (r *MemoryPositionRepo) Get(ctx context.Context, id int64) (*Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	position, ok := r.positions[id]
	if !ok {
		return nil, ErrPositionNotFound
	}
	copied := position
	return &copied, nil
}

func (r *MemoryPositionRepo) GetByOwner(ctx context.Context, owner int64) ([]*Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Position
	for _, position := range r.positions {
		if position.Owner == owner {
			copied := position
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *MemoryPositionRepo) ListActive(ctx context.Context) ([]*Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Position
	for _, position := range r.positions {
		if position.State == StateActive {
			copied := position
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
