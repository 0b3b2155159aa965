// 文件: pkg/custody/memory_test.go

package custody

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransferSemantics(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Credit(1, "USDT", 1000)

	require.NoError(t, m.TransferIn(ctx, "USDT", 1, 600))
	assert.Equal(t, int64(400), m.BalanceOf(1, "USDT"))
	assert.Equal(t, int64(600), m.BalanceOf(HouseAccount, "USDT"))

	require.NoError(t, m.TransferOut(ctx, "USDT", 1, 600))
	assert.Equal(t, int64(1000), m.BalanceOf(1, "USDT"))

	assert.ErrorIs(t, m.TransferIn(ctx, "USDT", 1, 2000), ErrInsufficientFunds)
	assert.ErrorIs(t, m.TransferIn(ctx, "USDT", 1, 0), ErrZeroAmount)
	assert.ErrorIs(t, m.TransferOut(ctx, "USDT", 1, 1), ErrInsufficientFunds) // 托管户已空
}
