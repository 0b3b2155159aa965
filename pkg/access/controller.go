// 文件: pkg/access/controller.go
// 访问控制
//
// 【设计】
// 借款/还款/坏账兜底等敏感操作只允许特定协作方账户调用。
// 授权关系作为配置注入，不在业务代码里硬编码账户。

package access

import (
	"errors"
	"sync"
)

var ErrAccessDenied = errors.New("access denied")

// =============================================================================
// 角色定义
// =============================================================================

// Role 调用方角色
type Role int8

const (
	// RoleAdmin 管理员: 白名单维护、保险基金注资等管理操作
	RoleAdmin Role = iota

	// RoleVault 持仓金库: 允许调用借贷池的 Borrow / Repay
	RoleVault

	// RoleLiquidator 强平引擎: 允许调用 CoverBadDebt 和强平结算
	RoleLiquidator
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "ADMIN"
	case RoleVault:
		return "VAULT"
	case RoleLiquidator:
		return "LIQUIDATOR"
	}
	return "UNKNOWN"
}

// =============================================================================
// Controller - 授权表
// =============================================================================

// Controller 账户 → 角色授权表
type Controller struct {
	mu     sync.RWMutex
	grants map[int64]map[Role]bool
}

func NewController() *Controller {
	return &Controller{grants: make(map[int64]map[Role]bool)}
}

// Grant 授权
func (c *Controller) Grant(account int64, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.grants[account] == nil {
		c.grants[account] = make(map[Role]bool)
	}
	c.grants[account][role] = true
}

// Revoke 撤销授权
func (c *Controller) Revoke(account int64, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if roles, ok := c.grants[account]; ok {
		delete(roles, role)
	}
}

// Has 是否持有角色
func (c *Controller) Has(account int64, role Role) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.grants[account][role]
}

// Require 校验角色，未授权返回 ErrAccessDenied
//
// 每个敏感操作的第一步调用这里，校验失败时不产生任何状态变更
func (c *Controller) Require(account int64, role Role) error {
	if !c.Has(account, role) {
		return ErrAccessDenied
	}
	return nil
}

// RequireAny 校验任一角色
func (c *Controller) RequireAny(account int64, roles ...Role) error {
	for _, role := range roles {
		if c.Has(account, role) {
			return nil
		}
	}
	return ErrAccessDenied
}
