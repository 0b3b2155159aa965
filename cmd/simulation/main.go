// 文件: cmd/simulation/main.go
// 全链路仿真: 存款 → 开杠杆仓 → 行情暴跌 → 扫描强平 → 坏账兜底
//
// 全部使用内存实现 (存储/托管/预言机)，不依赖外部 MySQL/Redis/NATS/Kafka，
// 接生产组件时把对应实现换进来即可。

package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"levx.com/pkg/access"
	"levx.com/pkg/custody"
	"levx.com/pkg/lending"
	"levx.com/pkg/liquidation"
	"levx.com/pkg/oracle"
	"levx.com/pkg/pricing"
	"levx.com/pkg/rate"
	"levx.com/pkg/vault"
)

const (
	P = lending.Precision

	acctVault  = int64(900)
	acctEngine = int64(901)
	acctAdmin  = int64(902)
	acctKeeper = int64(903)

	acctAlice = int64(1) // 存款人
	acctBob   = int64(2) // 杠杆仓主
)

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Println("🚀 Starting leveraged position ledger simulation...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. 组装核心组件
	// -------------------------------------------------------------------------
	cust := custody.NewMemory()
	acl := access.NewController()
	acl.Grant(acctVault, access.RoleVault)
	acl.Grant(acctEngine, access.RoleLiquidator)
	acl.Grant(acctAdmin, access.RoleAdmin)

	orc := oracle.NewStatic()
	orc.SetPrice("ETH", 100*P)

	pool, err := lending.NewPool(ctx, lending.NewMemoryStore(), rate.DefaultModel(), cust, acl, lending.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to create lending pool: %v", err)
	}

	tracker := pricing.NewValueTracker(pricing.NewMemoryRecordStore(), orc, nil, pricing.DefaultFeeConfig())

	ledger := vault.NewPositionLedger(vault.NewMemoryPositionRepo(), pool, tracker, orc, cust, acl,
		vault.DefaultLedgerConfig(acctVault))

	engine := liquidation.NewEngine(ledger, pool, orc, cust, acl, liquidation.DefaultEngineConfig(acctEngine))

	scannerCfg := liquidation.DefaultScannerConfig(acctKeeper)
	scannerCfg.ScanInterval = 500 * time.Millisecond
	scanner := liquidation.NewScanner(engine, ledger, scannerCfg)
	scanner.Start()
	defer scanner.Stop()
	log.Println("✅ Ledger assembled, scanner started")

	// 2. 铺底资金
	// -------------------------------------------------------------------------
	cust.Credit(acctAlice, "USDT", 100_000*P)
	cust.Credit(acctBob, "USDT", 10_000*P)

	shares, err := pool.Deposit(ctx, acctAlice, 50_000*P)
	if err != nil {
		log.Fatalf("Deposit failed: %v", err)
	}
	log.Printf("[Sim] Alice deposited 50000 USDT, shares=%d", shares)

	if err := pool.TopUpInsurance(ctx, acctAdmin, 0, 200*P, "genesis seed"); err != nil {
		log.Fatalf("Insurance seed failed: %v", err)
	}

	// 3. Bob 开 3x 杠杆仓
	// -------------------------------------------------------------------------
	position, err := ledger.OpenPosition(ctx, acctBob, "ETH", 2000*P, 30000)
	if err != nil {
		log.Fatalf("Open position failed: %v", err)
	}
	log.Printf("[Sim] Bob opened 3x position %d: collateral=%d, exposure=%d, borrowed=%d",
		position.ID, position.Collateral, position.Exposure, position.Borrowed)

	hf, _ := engine.HealthFactorBps(ctx, position.ID)
	log.Printf("[Sim] Initial health factor: %d bps, pool utilization: %d bps", hf, pool.UtilizationBps())

	// 4. 行情模拟器: 小幅震荡 2 秒后强制暴跌
	// -------------------------------------------------------------------------
	go func() {
		price := int64(100 * P)
		start := time.Now()
		crashed := false

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !crashed {
					price += int64((rand.Float64() - 0.5) * float64(P)) // ±0.5
					if time.Since(start) > 2*time.Second {
						price = 70 * P // 敞口跌穿强平线
						crashed = true
						log.Printf("[Market] 📉 FORCED CRASH! ETH dropped to 70.00")
					}
				} else {
					price = 70*P + int64((rand.Float64()-0.5)*float64(P)/10)
				}
				orc.SetPrice("ETH", price)
			}
		}
	}()

	// 5. 状态巡检: 定期打印账本全景
	// -------------------------------------------------------------------------
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := pool.Snapshot()
				stats := scanner.GetStats()
				log.Printf("[Pool] deposits=%d, borrowed=%d, insurance=%d, badDebtCovered=%d | [Scanner] scans=%d, executed=%d",
					s.TotalDeposits, s.TotalBorrowed, s.InsuranceBalance, s.TotalBadDebtCovered,
					stats.Scans, stats.Executed)

				got, err := ledger.GetPosition(ctx, position.ID)
				if err == nil && got.State != vault.StateActive {
					log.Printf("[Sim] Position %d is %s: exitPrice=%d", got.ID, got.State, got.ExitPrice)
				}
			}
		}
	}()

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("🛑 Shutting down...")
}
