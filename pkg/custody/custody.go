// 文件: pkg/custody/custody.go
// 资产托管接口
//
// 【设计】
// 托管是外部协作方，核心账本只通过这个强类型接口划转资产。
// 划转失败返回 error，调用方立即中止所在操作，绝不静默吞掉。

package custody

import (
	"context"
	"errors"
)

var (
	ErrZeroAmount        = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Custody 资产托管
//
// 金库侧视角: TransferIn 把用户资产划入托管户，TransferOut 划出给用户
type Custody interface {
	// TransferIn 从 from 账户划入托管户
	TransferIn(ctx context.Context, asset string, from int64, amount int64) error

	// TransferOut 从托管户划出到 to 账户
	TransferOut(ctx context.Context, asset string, to int64, amount int64) error
}
