// 文件: pkg/custody/ledger_custody.go
// 托管账本 (GORM 实现)
//
// 【设计】
// - 复式记账: 每笔划转同时动用户户和托管户两行余额
// - 余额 + 流水在同一个 DB 事务里写入，要么全成要么全不成
// - 余额不足直接失败，不允许透支

package custody

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// HouseAccount 托管户的内部账户ID
const HouseAccount int64 = -1

// =============================================================================
// 数据模型
// =============================================================================

// Balance 托管余额
type Balance struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Account   int64  `gorm:"column:account;uniqueIndex:uk_account_asset"`
	Asset     string `gorm:"column:asset;type:varchar(16);uniqueIndex:uk_account_asset"`
	Amount    int64  `gorm:"column:amount"`
	UpdatedAt int64  `gorm:"column:updated_at"`
}

func (Balance) TableName() string {
	return "custody_balances"
}

// Journal 划转流水
type Journal struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Asset     string `gorm:"column:asset;type:varchar(16);index"`
	From      int64  `gorm:"column:from_account;index"`
	To        int64  `gorm:"column:to_account;index"`
	Amount    int64  `gorm:"column:amount"`
	CreatedAt int64  `gorm:"column:created_at;index"`
}

func (Journal) TableName() string {
	return "custody_journals"
}

// =============================================================================
// LedgerCustody - GORM 实现
// =============================================================================

// LedgerCustody MySQL 托管账本
type LedgerCustody struct {
	db *gorm.DB
}

var _ Custody = (*LedgerCustody)(nil)

func NewLedgerCustody(db *gorm.DB) *LedgerCustody {
	return &LedgerCustody{db: db}
}

func (c *LedgerCustody) TransferIn(ctx context.Context, asset string, from int64, amount int64) error {
	return c.transfer(ctx, asset, from, HouseAccount, amount)
}

func (c *LedgerCustody) TransferOut(ctx context.Context, asset string, to int64, amount int64) error {
	return c.transfer(ctx, asset, HouseAccount, to, amount)
}

// transfer 单笔划转 (事务内: 扣 from、加 to、记流水)
func (c *LedgerCustody) transfer(ctx context.Context, asset string, from, to, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}

	now := time.Now().UnixMilli()

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 扣减 from (行锁防并发扣减)
		var src Balance
		err := tx.Clauses(forUpdate()).
			Where("account = ? AND asset = ?", from, asset).
			First(&src).Error
		if err == gorm.ErrRecordNotFound {
			return ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		if src.Amount < amount {
			return ErrInsufficientFunds
		}
		err = tx.Model(&Balance{}).
			Where("id = ?", src.ID).
			Updates(map[string]any{
				"amount":     src.Amount - amount,
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}

		// 2. 增加 to (不存在则创建)
		var dst Balance
		err = tx.Clauses(forUpdate()).
			Where("account = ? AND asset = ?", to, asset).
			First(&dst).Error
		if err == gorm.ErrRecordNotFound {
			dst = Balance{Account: to, Asset: asset, Amount: 0, UpdatedAt: now}
			if err := tx.Create(&dst).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		err = tx.Model(&Balance{}).
			Where("id = ?", dst.ID).
			Updates(map[string]any{
				"amount":     dst.Amount + amount,
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}

		// 3. 记流水
		return tx.Create(&Journal{
			Asset:     asset,
			From:      from,
			To:        to,
			Amount:    amount,
			CreatedAt: now,
		}).Error
	})
}

// GetBalance 查询余额 (不存在返回 0)
func (c *LedgerCustody) GetBalance(ctx context.Context, account int64, asset string) (int64, error) {
	var b Balance
	err := c.db.WithContext(ctx).
		Where("account = ? AND asset = ?", account, asset).
		First(&b).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return b.Amount, nil
}

// Credit 入金 (充值入口，直接加余额并记流水，from 记 0)
func (c *LedgerCustody) Credit(ctx context.Context, account int64, asset string, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	now := time.Now().UnixMilli()

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b Balance
		err := tx.Where("account = ? AND asset = ?", account, asset).First(&b).Error
		if err == gorm.ErrRecordNotFound {
			b = Balance{Account: account, Asset: asset, Amount: 0, UpdatedAt: now}
			if err := tx.Create(&b).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		err = tx.Model(&Balance{}).
			Where("id = ?", b.ID).
			Update("amount", b.Amount+amount).Error
		if err != nil {
			return err
		}
		return tx.Create(&Journal{
			Asset: asset, From: 0, To: account, Amount: amount, CreatedAt: now,
		}).Error
	})
}
