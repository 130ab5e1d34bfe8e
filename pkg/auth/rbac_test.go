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
	"testing"
	"time"
)

// TestRBAC_AdminHasAllPermissions Admin 角色拥有所有权限
func TestRBAC_AdminHasAllPermissions(t *testing.T) {
	rbac := NewSimpleRBACChecker(nil)
	admin := Identity{UserID: "admin-1", Role: RoleAdmin}

	for _, perm := range RolePermissions[RoleLGU] {
		allowed, err := rbac.CheckPermission(context.Background(), admin, perm, "")
		if err != nil {
			t.Errorf("permission check failed: %v", err)
		}
		if !allowed {
			t.Errorf("admin should have permission %s", perm)
		}
	}
	if !HasPermission(RoleAdmin, PermissionDispatchRespond) {
		t.Error("admin should be able to respond")
	}
}

// TestRBAC_VolunteerCannotVerify 志愿者不能核验或导出
func TestRBAC_VolunteerCannotVerify(t *testing.T) {
	for _, perm := range []Permission{PermissionDispatchVerify, PermissionLedgerExport, PermissionReportReview} {
		if HasPermission(RoleVolunteer, perm) {
			t.Errorf("volunteer should not have %s", perm)
		}
	}
	if !HasPermission(RoleVolunteer, PermissionDispatchRespond) {
		t.Error("volunteer should respond to dispatches")
	}
	if HasPermission(RoleResident, PermissionDispatchView) || HasPermission("ghost", PermissionDispatchView) {
		t.Error("resident and unknown roles have no dispatch permissions")
	}
}

// TestRBAC_Overrides 用户级角色覆盖优先于 token 角色
func TestRBAC_Overrides(t *testing.T) {
	rbac := NewSimpleRBACChecker(map[string]Role{"u1": RoleLGU})
	allowed, _ := rbac.CheckPermission(context.Background(), Identity{UserID: "u1", Role: RoleResident}, PermissionReportReview, "")
	if !allowed {
		t.Error("override should grant lgu permissions")
	}
	allowed, _ = rbac.CheckPermission(context.Background(), Identity{UserID: "u2", Role: RoleResident}, PermissionReportReview, "")
	if allowed {
		t.Error("resident should not review reports")
	}
}

func TestIdentityClaimsRoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	id := Identity{UserID: "lgu-1", Role: RoleLGU, Email: "ops@example.org"}.Elevate(at, 15*time.Minute)
	claims := id.Claims()
	// 模拟 JSON 解码后的数字类型
	claims[ClaimStepUpAt] = float64(at.Unix())
	claims[ClaimStepUpTo] = float64(at.Add(15 * time.Minute).Unix())

	got, err := IdentityFromClaims(claims)
	if err != nil {
		t.Fatalf("IdentityFromClaims: %v", err)
	}
	if got.UserID != "lgu-1" || got.Role != RoleLGU || got.Email != "ops@example.org" {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if !got.SteppedUp(at.Add(time.Minute)) {
		t.Error("should be stepped up within ttl")
	}
	if got.SteppedUp(at.Add(16 * time.Minute)) {
		t.Error("step-up should expire")
	}

	plain, err := IdentityFromClaims(Identity{UserID: "v1", Role: RoleVolunteer}.Claims())
	if err != nil {
		t.Fatal(err)
	}
	if plain.SteppedUp(at) {
		t.Error("plain session is not stepped up")
	}
}

func TestIdentityFromClaims_Rejects(t *testing.T) {
	if _, err := IdentityFromClaims(map[string]interface{}{"role": "admin"}); err == nil {
		t.Error("missing subject should fail")
	}
	if _, err := IdentityFromClaims(map[string]interface{}{"sub": "x", "role": "root"}); err == nil {
		t.Error("unknown role should fail")
	}
}

func TestContextIdentity(t *testing.T) {
	ctx := context.Background()
	if GetUserID(ctx) != "" || GetRole(ctx) != "" {
		t.Error("empty context has no identity")
	}
	ctx = WithIdentity(ctx, Identity{UserID: "u", Role: RoleAdmin})
	if GetUserID(ctx) != "u" || GetRole(ctx) != RoleAdmin {
		t.Error("identity not propagated")
	}
}
