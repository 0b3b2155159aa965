// 文件: pkg/oracle/oracle_test.go

package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticOracle(t *testing.T) {
	s := NewStatic()
	ctx := context.Background()

	_, err := s.GetPrice(ctx, "ETH")
	assert.ErrorIs(t, err, ErrPriceNotFound)

	s.SetPrice("ETH", 100_00000000)
	q, err := s.GetPrice(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, int64(100_00000000), q.Price)
	assert.NoError(t, CheckFresh(q, 30*time.Second))
}

func TestCheckFresh(t *testing.T) {
	now := time.Now().UnixMilli()

	assert.NoError(t, CheckFresh(Quote{Price: 1, Timestamp: now}, time.Minute))
	assert.ErrorIs(t, CheckFresh(Quote{Price: 1, Timestamp: now - 61_000}, time.Minute), ErrStalePrice)
	assert.ErrorIs(t, CheckFresh(Quote{Price: 0, Timestamp: now}, time.Minute), ErrPriceNotFound)
}
