// 文件: pkg/lending/pool.go
// 借贷池
//
// 【职责】
// 1. 存款/取款: 份额铸销，按池价值比例
// 2. 借款/还款: 只对金库/强平引擎开放 (访问控制)
// 3. 利息计提: 每次写操作开头惰性计提，elapsed=0 时幂等
// 4. 保险基金: 利息抽成积累，坏账时先保险后社会化
//
// 【原子性】
// 写操作全程持有写锁；变更先在状态副本上演算，
// Commit 落盘成功才换入内存，失败则副本被丢弃 (等价回滚)。
// 资金划转失败走补偿路径 (划回)，绝不留下半完成状态。

package lending

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"levx.com/pkg/access"
	"levx.com/pkg/audit"
	"levx.com/pkg/custody"
	"levx.com/pkg/events"
	"levx.com/pkg/rate"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientShares    = errors.New("insufficient shares")
)

// =============================================================================
// 配置
// =============================================================================

// Config 池配置
type Config struct {
	// Currency 结算货币
	Currency string

	// InsuranceCutBps 利息的保险基金抽成 (万分比)
	InsuranceCutBps int64
}

// DefaultConfig 默认配置 (USDT 池，10% 利息进保险基金)
func DefaultConfig() Config {
	return Config{
		Currency:        "USDT",
		InsuranceCutBps: 1000,
	}
}

// =============================================================================
// Pool - 借贷池
// =============================================================================

// Pool 借贷池
type Pool struct {
	mu sync.RWMutex

	// 内存权威状态 (写操作成功落盘后换入)
	state  PoolState
	shares map[int64]int64 // depositor -> shares

	store   Store
	model   *rate.Model
	custody custody.Custody
	acl     *access.Controller
	cfg     Config

	publisher *events.Publisher
	journal   *audit.Journal

	// now 可注入时钟 (测试控制利息计提)
	now func() int64
}

// NewPool 创建借贷池，从存储恢复状态 (无则初始化空池)
func NewPool(ctx context.Context, store Store, model *rate.Model, cust custody.Custody, acl *access.Controller, cfg Config) (*Pool, error) {
	p := &Pool{
		store:   store,
		model:   model,
		custody: cust,
		acl:     acl,
		cfg:     cfg,
		now:     func() int64 { return time.Now().UnixMilli() },
	}

	state, err := store.LoadPool(ctx, cfg.Currency)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &PoolState{
			Currency:        cfg.Currency,
			BorrowIndexE12:  IndexPrecision,
			LastAccrualTime: p.now(),
		}
	}
	p.state = *state

	shares, err := store.LoadShares(ctx, cfg.Currency)
	if err != nil {
		return nil, err
	}
	p.shares = shares

	log.Printf("[LendingPool] Loaded %s pool: deposits=%d, borrowed=%d, depositors=%d",
		cfg.Currency, p.state.TotalDeposits, p.state.TotalBorrowed, len(shares))
	return p, nil
}

// SetPublisher 设置 NATS 发布器
func (p *Pool) SetPublisher(publisher *events.Publisher) {
	p.publisher = publisher
}

// SetAuditJournal 设置 Kafka 审计日志
func (p *Pool) SetAuditJournal(journal *audit.Journal) {
	p.journal = journal
}

// SetClock 注入时钟 (仿真/测试控制利息计提)
func (p *Pool) SetClock(now func() int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// =============================================================================
// 存款 / 取款
// =============================================================================

// Deposit 存款，铸造份额
//
// 首个存款人: shares = amount
// 其后: shares = amount × totalShares / totalDeposits
func (p *Pool) Deposit(ctx context.Context, depositor int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	staged := p.state
	logs := p.accrue(&staged)

	shareChanges := make(map[int64]int64, 1)

	// 池价值被坏账社会化清零后，存量份额已一文不值:
	// 作废全部旧份额按首存重开，否则按比例永远铸出 0 份额，
	// 池子再也接收不了存款
	retired := staged.TotalDeposits == 0 && staged.TotalShares > 0
	if retired {
		log.Printf("[LendingPool] Pool value wiped out, retiring %d orphan shares", staged.TotalShares)
		for holder, held := range p.shares {
			if held != 0 {
				shareChanges[holder] = 0
			}
		}
		staged.TotalShares = 0
	}

	var shares int64
	if staged.TotalShares == 0 {
		shares = amount
	} else {
		shares = MulDiv(amount, staged.TotalShares, staged.TotalDeposits)
	}
	if shares <= 0 {
		return 0, ErrZeroAmount
	}

	// 资金先进托管户
	if err := p.custody.TransferIn(ctx, p.cfg.Currency, depositor, amount); err != nil {
		return 0, err
	}

	staged.TotalDeposits += amount
	staged.TotalShares += shares
	prior := p.shares[depositor]
	if retired {
		prior = 0
	}
	shareChanges[depositor] = prior + shares

	if err := p.store.Commit(ctx, &staged, shareChanges, logs); err != nil {
		// 落盘失败，补偿划回
		if cerr := p.custody.TransferOut(ctx, p.cfg.Currency, depositor, amount); cerr != nil {
			log.Printf("[LendingPool] CRITICAL: deposit compensation failed: depositor=%d, amount=%d, err=%v",
				depositor, amount, cerr)
		}
		return 0, err
	}

	p.state = staged
	if retired {
		p.shares = make(map[int64]int64)
	}
	p.shares[depositor] = shareChanges[depositor]

	p.publisher.Publish(events.SubjectPoolDeposited, map[string]any{
		"depositor": depositor,
		"amount":    amount,
		"shares":    shares,
		"timestamp": p.now(),
	})
	return shares, nil
}

// Withdraw 取款，销毁份额
//
// 赎回金额 = shares × totalDeposits / totalShares
// 超出可动用流动性 (已出借部分 + 保险基金不可取) 时失败
func (p *Pool) Withdraw(ctx context.Context, depositor int64, shares int64) (int64, error) {
	if shares <= 0 {
		return 0, ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.shares[depositor]
	if shares > held {
		return 0, ErrInsufficientShares
	}

	staged := p.state
	logs := p.accrue(&staged)

	amount := MulDiv(shares, staged.TotalDeposits, staged.TotalShares)
	if amount <= 0 {
		return 0, ErrZeroAmount
	}
	if amount > staged.AvailableLiquidity() {
		return 0, ErrInsufficientLiquidity
	}

	staged.TotalDeposits -= amount
	staged.TotalShares -= shares
	newShares := held - shares

	if err := p.custody.TransferOut(ctx, p.cfg.Currency, depositor, amount); err != nil {
		return 0, err
	}

	if err := p.store.Commit(ctx, &staged, map[int64]int64{depositor: newShares}, logs); err != nil {
		// 落盘失败，把刚付出去的钱划回托管户
		if cerr := p.custody.TransferIn(ctx, p.cfg.Currency, depositor, amount); cerr != nil {
			log.Printf("[LendingPool] CRITICAL: withdraw compensation failed: depositor=%d, amount=%d, err=%v",
				depositor, amount, cerr)
		}
		return 0, err
	}

	p.state = staged
	p.shares[depositor] = newShares

	p.publisher.Publish(events.SubjectPoolWithdrawn, map[string]any{
		"depositor": depositor,
		"amount":    amount,
		"shares":    shares,
		"timestamp": p.now(),
	})
	return amount, nil
}

// =============================================================================
// 借款 / 还款 (仅协作方)
// =============================================================================

// Borrow 借出 (仅金库)
//
// 不变量: totalBorrowed 永不超过 totalDeposits，越界的借款直接拒绝
func (p *Pool) Borrow(ctx context.Context, caller int64, amount int64) error {
	if err := p.acl.Require(caller, access.RoleVault); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	staged := p.state
	logs := p.accrue(&staged)

	if staged.TotalBorrowed+amount > staged.TotalDeposits {
		return ErrInsufficientLiquidity
	}
	staged.TotalBorrowed += amount

	if err := p.store.Commit(ctx, &staged, nil, logs); err != nil {
		return err
	}
	p.state = staged
	return nil
}

// Repay 还款 (金库平仓 / 强平引擎)
//
// amount = principal + 利息。计提已把利息滚入 totalBorrowed 并
// 分账给存款人和保险基金，这里整笔核销债务即可；
// principal 只用于流水里的本息拆分展示。
func (p *Pool) Repay(ctx context.Context, caller int64, amount, principal int64) error {
	if err := p.acl.RequireAny(caller, access.RoleVault, access.RoleLiquidator); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	staged := p.state
	logs := p.accrue(&staged)

	reduce := amount
	if reduce > staged.TotalBorrowed {
		// 超还部分直接归存款人
		staged.TotalDeposits += reduce - staged.TotalBorrowed
		reduce = staged.TotalBorrowed
	}
	staged.TotalBorrowed -= reduce

	if err := p.store.Commit(ctx, &staged, nil, logs); err != nil {
		return err
	}
	p.state = staged

	log.Printf("[LendingPool] Repaid %d (principal=%d, interest=%d), outstanding=%d",
		amount, principal, amount-principal, p.state.TotalBorrowed)
	return nil
}

// =============================================================================
// 坏账兜底
// =============================================================================

// CoverBadDebt 坏账兜底 (仅强平引擎)
//
// 【顺序】先保险基金，不够的部分核减 totalDeposits (全体存款人按份额稀释)。
// 坏账不是错误: 记录事件后系统照常运转。
//
// 返回 (保险承担, 社会化承担)
func (p *Pool) CoverBadDebt(ctx context.Context, caller int64, positionID int64, amount int64) (int64, int64, error) {
	if err := p.acl.Require(caller, access.RoleLiquidator); err != nil {
		return 0, 0, err
	}
	if amount <= 0 {
		return 0, 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	staged := p.state
	logs := p.accrue(&staged)

	fromInsurance := amount
	if fromInsurance > staged.InsuranceBalance {
		fromInsurance = staged.InsuranceBalance
	}
	socialized := amount - fromInsurance

	staged.InsuranceBalance -= fromInsurance
	if socialized > staged.TotalDeposits {
		// 池子整体资不抵债，最多稀释到零 (理论上到不了这里)
		log.Printf("[LendingPool] CRITICAL: bad debt %d exceeds pool value %d", socialized, staged.TotalDeposits)
		socialized = staged.TotalDeposits
	}
	staged.TotalDeposits -= socialized

	// 核销对应债务
	writeOff := amount
	if writeOff > staged.TotalBorrowed {
		writeOff = staged.TotalBorrowed
	}
	staged.TotalBorrowed -= writeOff
	staged.TotalBadDebtCovered += amount

	if fromInsurance > 0 {
		logs = append(logs, newInsuranceLog(p.cfg.Currency, InsuranceChangeBadDebt,
			-fromInsurance, staged.InsuranceBalance, positionID, "cover liquidation shortfall"))
	}

	if err := p.store.Commit(ctx, &staged, nil, logs); err != nil {
		return 0, 0, err
	}
	p.state = staged

	p.publisher.Publish(events.SubjectBadDebtCovered, map[string]any{
		"position_id":    positionID,
		"amount":         amount,
		"from_insurance": fromInsurance,
		"socialized":     socialized,
		"timestamp":      p.now(),
	})
	p.journal.Append(audit.Record{
		Kind:       "BAD_DEBT",
		PositionID: positionID,
		Amount:     amount,
		Detail: map[string]int64{
			"from_insurance": fromInsurance,
			"socialized":     socialized,
		},
	})

	log.Printf("[LendingPool] Bad debt covered: position=%d, amount=%d, insurance=%d, socialized=%d",
		positionID, amount, fromInsurance, socialized)
	return fromInsurance, socialized, nil
}

// TopUpInsurance 保险基金注资 (管理员注资 / 金库手续费划入)
//
// 资金须已在托管户内，这里只做保险账记账
func (p *Pool) TopUpInsurance(ctx context.Context, caller int64, positionID int64, amount int64, remark string) error {
	if err := p.acl.RequireAny(caller, access.RoleAdmin, access.RoleVault); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	staged := p.state
	logs := p.accrue(&staged)

	staged.InsuranceBalance += amount
	logs = append(logs, newInsuranceLog(p.cfg.Currency, InsuranceChangeTopUp,
		amount, staged.InsuranceBalance, positionID, remark))

	if err := p.store.Commit(ctx, &staged, nil, logs); err != nil {
		return err
	}
	p.state = staged
	return nil
}

// =============================================================================
// 利息计提
// =============================================================================

// accrue 惰性计提 (在状态副本上执行)
//
// interest = totalBorrowed × 年化利率 × elapsed / 一年
// 抽成进保险基金，剩余计入 totalDeposits (存款人增值)，
// 同时滚入 totalBorrowed 并放大借款指数。
// elapsed = 0 时无任何变更 (幂等)，计提永不失败。
func (p *Pool) accrue(staged *PoolState) []*InsuranceFundLog {
	now := p.now()
	elapsed := now - staged.LastAccrualTime
	if elapsed <= 0 {
		return nil
	}
	staged.LastAccrualTime = now

	if staged.TotalBorrowed <= 0 {
		return nil
	}

	utilization := rate.UtilizationBps(staged.TotalBorrowed, staged.TotalDeposits)
	rateBps := p.model.BorrowRateBps(utilization)
	interest := accruedInterest(staged.TotalBorrowed, rateBps, elapsed, rate.YearMillis)
	if interest <= 0 {
		return nil
	}

	cut := interest * p.cfg.InsuranceCutBps / RatePrecision

	// 指数先放大 (用计提前的 totalBorrowed 做基数)
	staged.BorrowIndexE12 = MulDiv(staged.BorrowIndexE12, staged.TotalBorrowed+interest, staged.TotalBorrowed)

	staged.TotalBorrowed += interest
	staged.TotalDeposits += interest - cut
	staged.InsuranceBalance += cut

	if cut <= 0 {
		return nil
	}
	return []*InsuranceFundLog{
		newInsuranceLog(p.cfg.Currency, InsuranceChangeInterestCut,
			cut, staged.InsuranceBalance, 0, "interest cut"),
	}
}

// AccrueNow 立即计提并落盘，返回最新借款指数
//
// 金库在计算债务前调用，保证后续 Repay 在同一指数下结算
func (p *Pool) AccrueNow(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	staged := p.state
	logs := p.accrue(&staged)
	if staged == p.state {
		return p.state.BorrowIndexE12, nil
	}

	if err := p.store.Commit(ctx, &staged, nil, logs); err != nil {
		return 0, err
	}
	p.state = staged
	return p.state.BorrowIndexE12, nil
}

// =============================================================================
// 只读查询
// =============================================================================

// Snapshot 池状态快照 (一致性读，不暴露变更中间态)
func (p *Pool) Snapshot() PoolState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// UtilizationBps 当前利用率
func (p *Pool) UtilizationBps() int64 {
	s := p.Snapshot()
	return rate.UtilizationBps(s.TotalBorrowed, s.TotalDeposits)
}

// BorrowRateBps 当前借款年化利率
func (p *Pool) BorrowRateBps() int64 {
	return p.model.BorrowRateBps(p.UtilizationBps())
}

// SupplyRateBps 当前存款年化利率
func (p *Pool) SupplyRateBps() int64 {
	return p.model.SupplyRateBps(p.UtilizationBps(), p.cfg.InsuranceCutBps)
}

// BorrowIndexE12 当前借款指数 (含未落盘的待计提部分)
func (p *Pool) BorrowIndexE12() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	staged := p.state
	p.accrue(&staged)
	return staged.BorrowIndexE12
}

// SharesOf 存款人份额
func (p *Pool) SharesOf(depositor int64) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shares[depositor]
}

// RedeemableValue 存款人当前可赎回价值
func (p *Pool) RedeemableValue(depositor int64) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state.TotalShares == 0 {
		return 0
	}
	return MulDiv(p.shares[depositor], p.state.TotalDeposits, p.state.TotalShares)
}

// InsuranceBalance 保险基金余额
func (p *Pool) InsuranceBalance() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.InsuranceBalance
}

// Currency 结算货币
func (p *Pool) Currency() string {
	return p.cfg.Currency
}
