// 文件: pkg/liquidation/scanner.go
// 仓位健康扫描器
//
// 【职责】
// 1. 定期全量扫描持仓中的仓位，计算健康因子
// 2. 按健康度分层: 正常 / 预警 (接近阈值) / 待强平
// 3. 待强平仓位投递到任务队列，Worker Pool 并发执行
//
// 全量扫描是兜底: 即使某次行情事件漏掉，下一轮扫描也会补上。
// Worker 执行时仓位可能已被别人平掉，按单笔失败跳过处理。

package liquidation

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"levx.com/pkg/vault"
)

// =============================================================================
// 配置常量
// =============================================================================

const (
	// DefaultScanInterval 默认全量扫描间隔
	DefaultScanInterval = 5 * time.Second

	// DefaultWorkers 强平 Worker 数量
	DefaultWorkers = 4

	// DefaultQueueSize 任务队列大小
	DefaultQueueSize = 256
)

// =============================================================================
// 配置 / 任务
// =============================================================================

// ScannerConfig 扫描器配置
type ScannerConfig struct {
	// KeeperAccount 扫描器自动强平使用的 keeper 身份 (赏金收款账户)
	KeeperAccount int64

	// ScanInterval 全量扫描间隔
	ScanInterval time.Duration

	// WarningBps 预警线 (万分比)，低于此值进入预警层
	WarningBps int64

	Workers   int
	QueueSize int
}

// DefaultScannerConfig 默认配置 (预警线 120%)
func DefaultScannerConfig(keeperAccount int64) ScannerConfig {
	return ScannerConfig{
		KeeperAccount: keeperAccount,
		ScanInterval:  DefaultScanInterval,
		WarningBps:    12000,
		Workers:       DefaultWorkers,
		QueueSize:     DefaultQueueSize,
	}
}

// Task 强平任务
type Task struct {
	PositionID int64
	HealthBps  int64
	CreatedAt  time.Time
}

// ScanReport 一轮扫描的分层结果
type ScanReport struct {
	Scanned int
	Warning int
	Queued  int
}

// Stats 扫描器累计统计
type Stats struct {
	Scans      int64
	Executed   int64
	Failed     int64
	QueuedNow  int
}

// =============================================================================
// Scanner - 健康扫描器
// =============================================================================

// Scanner 仓位健康扫描器
type Scanner struct {
	engine *Engine
	ledger *vault.PositionLedger
	cfg    ScannerConfig

	queue chan Task

	// inflight 已投递未执行完的仓位，防止同一仓位被两个 Worker 抢平
	inflightMu sync.Mutex
	inflight   map[int64]struct{}

	scans    atomic.Int64
	executed atomic.Int64
	failed   atomic.Int64

	running  bool
	stopCh   chan struct{}
	loopWg   sync.WaitGroup
	workerWg sync.WaitGroup
	mu       sync.Mutex
}

// NewScanner 创建扫描器
func NewScanner(engine *Engine, ledger *vault.PositionLedger, cfg ScannerConfig) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	return &Scanner{
		engine:   engine,
		ledger:   ledger,
		cfg:      cfg,
		queue:    make(chan Task, cfg.QueueSize),
		inflight: make(map[int64]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动扫描循环和 Worker Pool
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.queue = make(chan Task, s.cfg.QueueSize)

	s.loopWg.Add(1)
	go func() {
		defer s.loopWg.Done()
		s.runLoop()
	}()

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWg.Add(1)
		go func(workerID int) {
			defer s.workerWg.Done()
			s.runWorker(workerID)
		}(i)
	}

	log.Printf("[Scanner] Started: interval=%v, workers=%d", s.cfg.ScanInterval, s.cfg.Workers)
}

// Stop 停止 (等待在途任务执行完)
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	// 先停扫描循环 (等在途的 Scan 跑完)，再关队列放 Worker 退出
	close(s.stopCh)
	s.loopWg.Wait()
	close(s.queue)
	s.workerWg.Wait()
	s.running = false
	log.Println("[Scanner] Stopped")
}

func (s *Scanner) runLoop() {
	// 启动时立即执行一次扫描
	s.Scan(context.Background())

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Scan(context.Background())
		}
	}
}

// =============================================================================
// 扫描
// =============================================================================

// Scan 执行一次全量扫描
func (s *Scanner) Scan(ctx context.Context) ScanReport {
	start := time.Now()
	s.scans.Add(1)

	var report ScanReport

	positions, err := s.ledger.ListActive(ctx)
	if err != nil {
		log.Printf("[Scanner] Failed to list active positions: %v", err)
		return report
	}
	report.Scanned = len(positions)

	for _, position := range positions {
		select {
		case <-ctx.Done():
			return report
		default:
		}

		hf, err := s.engine.HealthFactorBps(ctx, position.ID)
		if err != nil {
			log.Printf("[Scanner] Health check failed: position=%d, err=%v", position.ID, err)
			continue
		}

		switch {
		case hf < s.engine.cfg.ThresholdBps:
			if s.enqueue(Task{PositionID: position.ID, HealthBps: hf, CreatedAt: time.Now()}) {
				report.Queued++
			}
		case hf < s.cfg.WarningBps:
			report.Warning++
			log.Printf("[Scanner] Position %d near threshold: health=%d bps", position.ID, hf)
		}
	}

	log.Printf("[Scanner] Scan completed: scanned=%d, warning=%d, queued=%d, elapsed=%v",
		report.Scanned, report.Warning, report.Queued, time.Since(start))
	return report
}

// enqueue 非阻塞投递，队列满则丢弃 (下一轮扫描会补上)。
// 已在队列或执行中的仓位不重复投递。
func (s *Scanner) enqueue(task Task) bool {
	s.inflightMu.Lock()
	if _, dup := s.inflight[task.PositionID]; dup {
		s.inflightMu.Unlock()
		return false
	}
	s.inflight[task.PositionID] = struct{}{}
	s.inflightMu.Unlock()

	select {
	case s.queue <- task:
		return true
	default:
		s.release(task.PositionID)
		log.Printf("[Scanner] WARNING: queue full, task dropped: position=%d", task.PositionID)
		return false
	}
}

// release 任务执行完 (或投递失败) 后解除在途标记
func (s *Scanner) release(positionID int64) {
	s.inflightMu.Lock()
	delete(s.inflight, positionID)
	s.inflightMu.Unlock()
}

// =============================================================================
// Worker Pool
// =============================================================================

func (s *Scanner) runWorker(workerID int) {
	for task := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

		result, err := s.engine.Liquidate(ctx, s.cfg.KeeperAccount, task.PositionID)
		if err != nil {
			// 仓位可能在排队期间已被平掉/别人抢平，跳过即可
			s.failed.Add(1)
			log.Printf("[Worker-%d] Liquidation skipped: position=%d, err=%v", workerID, task.PositionID, err)
		} else {
			s.executed.Add(1)
			log.Printf("[Worker-%d] Liquidated position %d: repaid=%d, badDebt=%d, bonus=%d",
				workerID, task.PositionID, result.DebtRepaid, result.BadDebt, result.LiquidatorBonus)
		}

		cancel()
		s.release(task.PositionID)
	}
}

// =============================================================================
// 监控接口
// =============================================================================

// GetStats 扫描器统计
func (s *Scanner) GetStats() Stats {
	return Stats{
		Scans:     s.scans.Load(),
		Executed:  s.executed.Load(),
		Failed:    s.failed.Load(),
		QueuedNow: len(s.queue),
	}
}
