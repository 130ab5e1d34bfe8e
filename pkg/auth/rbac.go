// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
)

// Permission 权限
type Permission string

const (
	PermissionDispatchCreate  Permission = "dispatch:create"
	PermissionDispatchView    Permission = "dispatch:view"
	PermissionDispatchRespond Permission = "dispatch:respond" // 志愿者接受/拒绝/提交证明
	PermissionDispatchVerify  Permission = "dispatch:verify"  // 核验或驳回，核验需二次验证
	PermissionLedgerRetry     Permission = "ledger:retry"
	PermissionLedgerExport    Permission = "ledger:export" // 导出账本记录与证据包
	PermissionReportReview    Permission = "report:review"
)

// Role 角色
type Role string

const (
	RoleAdmin     Role = "admin"     // 全部权限
	RoleLGU       Role = "lgu"       // 派遣、核验、审核上报
	RoleVolunteer Role = "volunteer" // 响应分配给自己的派遣
	RoleResident  Role = "resident"  // 只能上报
)

// RolePermissions 角色与权限映射
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionDispatchCreate,
		PermissionDispatchView,
		PermissionDispatchRespond,
		PermissionDispatchVerify,
		PermissionLedgerRetry,
		PermissionLedgerExport,
		PermissionReportReview,
	},
	RoleLGU: {
		PermissionDispatchCreate,
		PermissionDispatchView,
		PermissionDispatchVerify,
		PermissionLedgerRetry,
		PermissionLedgerExport,
		PermissionReportReview,
	},
	RoleVolunteer: {
		PermissionDispatchRespond,
	},
	RoleResident: {},
}

// ValidRole 是否为已知角色
func ValidRole(role Role) bool {
	_, ok := RolePermissions[role]
	return ok
}

// CanStepUp 可申请二次验证的角色
func CanStepUp(role Role) bool {
	return role == RoleAdmin || role == RoleLGU
}

// RBACChecker RBAC 权限检查器接口
type RBACChecker interface {
	// CheckPermission 检查身份是否有权限访问资源
	CheckPermission(ctx context.Context, id Identity, permission Permission, resourceID string) (bool, error)
}

// HasPermission 检查角色是否包含指定权限
func HasPermission(role Role, permission Permission) bool {
	permissions, ok := RolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// SimpleRBACChecker 基于静态角色表的 RBAC 实现；Overrides 非空时按用户覆盖角色
type SimpleRBACChecker struct {
	Overrides map[string]Role
}

// NewSimpleRBACChecker 创建简单 RBAC 检查器
func NewSimpleRBACChecker(overrides map[string]Role) *SimpleRBACChecker {
	return &SimpleRBACChecker{Overrides: overrides}
}

// CheckPermission 实现 RBACChecker 接口
func (c *SimpleRBACChecker) CheckPermission(ctx context.Context, id Identity, permission Permission, resourceID string) (bool, error) {
	role := id.Role
	if r, ok := c.Overrides[id.UserID]; ok {
		role = r
	}
	return HasPermission(role, permission), nil
}
