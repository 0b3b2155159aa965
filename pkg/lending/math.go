// 文件: pkg/lending/math.go
// 定点数乘除
//
// a × b 在池级名义金额下会超出 int64 (1e15 × 1e12 量级)，
// 中间积走 big.Int，结果截断回 int64

package lending

import "math/big"

// MulDiv 计算 a × b / c (向下取整)，中间积 128 位
//
// c <= 0 时返回 0，调用方自行保证分母合法
func MulDiv(a, b, c int64) int64 {
	if c <= 0 {
		return 0
	}
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	r.Quo(r, big.NewInt(c))
	return r.Int64()
}

// accruedInterest 计算线性利息
//
// interest = principal × rateBps × elapsedMs / (10000 × 一年毫秒数)
func accruedInterest(principal, rateBps, elapsedMs, yearMs int64) int64 {
	if principal <= 0 || rateBps <= 0 || elapsedMs <= 0 {
		return 0
	}
	r := new(big.Int).Mul(big.NewInt(principal), big.NewInt(rateBps))
	r.Mul(r, big.NewInt(elapsedMs))
	r.Quo(r, new(big.Int).Mul(big.NewInt(RatePrecision), big.NewInt(yearMs)))
	return r.Int64()
}
