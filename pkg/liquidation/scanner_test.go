// 文件: pkg/liquidation/scanner_test.go
// 健康扫描器单元测试

package liquidation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levx.com/pkg/vault"
)

func TestScanClassifiesPositions(t *testing.T) {
	fx := newEngineFixture(t, DefaultEngineConfig(acctEngine))
	ctx := context.Background()

	// 健康 (1x 无债务) / 预警 / 待强平 各一个
	_, err := fx.ledger.OpenPosition(ctx, acctOwner, "ETH", 1000*P, 10000)
	require.NoError(t, err)
	fx.openTwoX(t)
	fx.openTwoX(t)

	scanner := NewScanner(fx.engine, fx.ledger, DefaultScannerConfig(acctKeeper))

	// 价格不动: 全部健康
	report := scanner.Scan(ctx)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 0, report.Warning)
	assert.Equal(t, 0, report.Queued)

	// 跌到 hf=11500: 两个 2x 仓进预警层 (11000 <= hf < 12000)
	fx.orc.SetPrice("ETH", 5_750_000_000)
	report = scanner.Scan(ctx)
	assert.Equal(t, 2, report.Warning)
	assert.Equal(t, 0, report.Queued)

	// 跌到 hf=10000: 两个 2x 仓进强平队列
	fx.orc.SetPrice("ETH", 50*P)
	report = scanner.Scan(ctx)
	assert.Equal(t, 2, report.Queued)
}

// 队列里/执行中的仓位不重复投递，执行完解除在途标记后可再投
func TestScanDeduplicatesQueuedPositions(t *testing.T) {
	fx := newEngineFixture(t, DefaultEngineConfig(acctEngine))
	ctx := context.Background()

	fx.openTwoX(t)
	fx.openTwoX(t)
	fx.orc.SetPrice("ETH", 50*P)

	// 不启动 Worker: 任务停在队列里
	scanner := NewScanner(fx.engine, fx.ledger, DefaultScannerConfig(acctKeeper))

	report := scanner.Scan(ctx)
	assert.Equal(t, 2, report.Queued)

	// 第二轮扫描到同样的仓位，但全部已在途
	report = scanner.Scan(ctx)
	assert.Equal(t, 0, report.Queued)
	assert.Equal(t, 2, len(scanner.queue))

	// 模拟 Worker 消费完一个任务: 该仓位可被重新投递
	task := <-scanner.queue
	scanner.release(task.PositionID)

	report = scanner.Scan(ctx)
	assert.Equal(t, 1, report.Queued)
}

func TestScannerLifecycleLiquidatesUnhealthy(t *testing.T) {
	fx := newEngineFixture(t, DefaultEngineConfig(acctEngine))
	ctx := context.Background()

	position := fx.openTwoX(t)
	fx.orc.SetPrice("ETH", 50*P)

	cfg := DefaultScannerConfig(acctKeeper)
	cfg.ScanInterval = 50 * time.Millisecond
	scanner := NewScanner(fx.engine, fx.ledger, cfg)

	scanner.Start()
	defer scanner.Stop()

	// Worker 消费队列后仓位进入终态
	assert.Eventually(t, func() bool {
		got, err := fx.ledger.GetPosition(ctx, position.ID)
		return err == nil && got.State == vault.StateLiquidated
	}, 3*time.Second, 20*time.Millisecond)

	stats := scanner.GetStats()
	assert.GreaterOrEqual(t, stats.Executed, int64(1))
}

func TestScannerStartStopIdempotent(t *testing.T) {
	fx := newEngineFixture(t, DefaultEngineConfig(acctEngine))

	scanner := NewScanner(fx.engine, fx.ledger, DefaultScannerConfig(acctKeeper))
	scanner.Start()
	scanner.Start() // 重复启动无副作用
	scanner.Stop()
	scanner.Stop() // 重复停止无副作用
}
