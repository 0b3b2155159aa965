// 文件: pkg/custody/memory.go
// 内存托管账本 (开发测试用)

package custody

import (
	"context"
	"sync"
)

// Memory 内存实现，语义与 LedgerCustody 一致
type Memory struct {
	mu       sync.Mutex
	balances map[int64]map[string]int64 // account -> asset -> amount
}

var _ Custody = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{balances: make(map[int64]map[string]int64)}
}

// Credit 入金
func (m *Memory) Credit(account int64, asset string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(account, asset, amount)
}

// BalanceOf 查询余额
func (m *Memory) BalanceOf(account int64, asset string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account][asset]
}

func (m *Memory) TransferIn(ctx context.Context, asset string, from int64, amount int64) error {
	return m.transfer(asset, from, HouseAccount, amount)
}

func (m *Memory) TransferOut(ctx context.Context, asset string, to int64, amount int64) error {
	return m.transfer(asset, HouseAccount, to, amount)
}

func (m *Memory) transfer(asset string, from, to, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[from][asset] < amount {
		return ErrInsufficientFunds
	}
	m.add(from, asset, -amount)
	m.add(to, asset, amount)
	return nil
}

func (m *Memory) add(account int64, asset string, delta int64) {
	if m.balances[account] == nil {
		m.balances[account] = make(map[string]int64)
	}
	m.balances[account][asset] += delta
}
