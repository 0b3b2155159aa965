// 文件: pkg/rate/model.go
// 利率模型 (Kinked / 拐点模型)
//
// 【核心公式】
// 利用率 <= 拐点: 利率 = 基础利率 + 利用率 × Slope1 / 拐点
// 利用率 >  拐点: 利率 = 基础利率 + Slope1 + 超额利用率 × Slope2 / (1 - 拐点)
//
// 【设计目标】
// 1. 纯函数: 无状态、无副作用、确定性
// 2. 定点数: 全部用万分比 (bps)，避免浮点精度问题
// 3. 低利用率鼓励借款，高利用率鼓励存款

package rate

// =============================================================================
// 精度常量
// =============================================================================

const (
	// RatePrecision 费率精度 (万分比)
	// 例: 1% = 100, 100% = 10000
	RatePrecision = 10000

	// YearMillis 一年的毫秒数 (365天)
	// 利息按 elapsed / YearMillis 线性计提
	YearMillis = 365 * 24 * 3600 * 1000
)

// =============================================================================
// Model - 利率模型
// =============================================================================

// Model 拐点利率模型
//
// 创建后不可变，可安全并发共享
type Model struct {
	// BaseRateBps 基础年化利率 (利用率 0 时)
	BaseRateBps int64

	// Slope1Bps 拐点以下的利率增量 (利用率从 0 到拐点，利率线性增加 Slope1)
	Slope1Bps int64

	// Slope2Bps 拐点以上的利率增量 (利用率从拐点到 100%，利率再增加 Slope2)
	Slope2Bps int64

	// OptimalUtilizationBps 最优利用率 (拐点)
	OptimalUtilizationBps int64
}

// DefaultModel 默认利率模型
//
// 参考 Compound/Aave 常用参数:
// - 基础利率 2%
// - 拐点以下斜率 8%
// - 拐点以上斜率 75%
// - 最优利用率 80%
func DefaultModel() *Model {
	return &Model{
		BaseRateBps:           200,
		Slope1Bps:             800,
		Slope2Bps:             7500,
		OptimalUtilizationBps: 8000,
	}
}

// =============================================================================
// 核心计算
// =============================================================================

// UtilizationBps 计算利用率 (万分比)
//
// 利用率 = totalBorrowed / totalDeposits
// totalDeposits = 0 时定义为 0，避免除零
func UtilizationBps(totalBorrowed, totalDeposits int64) int64 {
	if totalDeposits <= 0 {
		return 0
	}
	u := totalBorrowed * RatePrecision / totalDeposits
	if u > RatePrecision {
		u = RatePrecision
	}
	if u < 0 {
		u = 0
	}
	return u
}

// BorrowRateBps 计算借款年化利率 (万分比)
//
// 分段线性:
// - u <= optimal: base + u × slope1 / optimal
// - u >  optimal: base + slope1 + (u - optimal) × slope2 / (10000 - optimal)
func (m *Model) BorrowRateBps(utilizationBps int64) int64 {
	u := utilizationBps
	if u < 0 {
		u = 0
	}
	if u > RatePrecision {
		u = RatePrecision
	}

	if u <= m.OptimalUtilizationBps {
		if m.OptimalUtilizationBps == 0 {
			return m.BaseRateBps
		}
		return m.BaseRateBps + u*m.Slope1Bps/m.OptimalUtilizationBps
	}

	excess := u - m.OptimalUtilizationBps
	headroom := RatePrecision - m.OptimalUtilizationBps
	if headroom <= 0 {
		return m.BaseRateBps + m.Slope1Bps + m.Slope2Bps
	}
	return m.BaseRateBps + m.Slope1Bps + excess*m.Slope2Bps/headroom
}

// SupplyRateBps 计算存款年化利率 (万分比)
//
// 存款利率 = 借款利率 × 利用率 × (1 - 保险基金抽成)
// 借款人付的利息按利用率摊给存款人，保险基金先抽一笔
func (m *Model) SupplyRateBps(utilizationBps, insuranceCutBps int64) int64 {
	borrowRate := m.BorrowRateBps(utilizationBps)
	gross := borrowRate * utilizationBps / RatePrecision
	return gross * (RatePrecision - insuranceCutBps) / RatePrecision
}
