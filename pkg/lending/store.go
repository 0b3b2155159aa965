// 文件: pkg/lending/store.go
// 借贷池存储接口
//
// 【设计模式】Repository Pattern
// 池逻辑只依赖接口。Commit 是唯一写入口:
// 池状态 + 份额变更 + 保险流水作为一个原子单元落盘，
// 落盘失败时内存状态不变，等价于整个操作回滚。

package lending

import "context"

// Store 借贷池存储
type Store interface {
	// LoadPool 加载池状态，不存在返回 nil
	LoadPool(ctx context.Context, currency string) (*PoolState, error)

	// LoadShares 加载全部份额 (启动时灌入内存)
	LoadShares(ctx context.Context, currency string) (map[int64]int64, error)

	// Commit 原子落盘: 池状态、变更的份额行、保险流水
	// shareChanges 只含本次变更的 depositor → 新份额
	Commit(ctx context.Context, pool *PoolState, shareChanges map[int64]int64, logs []*InsuranceFundLog) error
}
