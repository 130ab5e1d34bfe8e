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
	"fmt"
	"time"
)

// JWT claim 名称
const (
	ClaimSubject  = "sub"
	ClaimRole     = "role"
	ClaimEmail    = "email"
	ClaimStepUp   = "mfa"
	ClaimStepUpAt = "mfa_at"
	ClaimStepUpTo = "mfa_exp"
)

// Identity 会话身份
type Identity struct {
	UserID string
	Role   Role
	Email  string
	// StepUpExpiresAt 非零表示会话已通过二次验证，至该时刻有效
	StepUpExpiresAt time.Time
	StepUpAt        time.Time
}

// SteppedUp 二次验证在 now 时仍有效
func (i Identity) SteppedUp(now time.Time) bool {
	return !i.StepUpExpiresAt.IsZero() && now.Before(i.StepUpExpiresAt)
}

// Elevate 返回已提权的副本
func (i Identity) Elevate(at time.Time, ttl time.Duration) Identity {
	i.StepUpAt = at
	i.StepUpExpiresAt = at.Add(ttl)
	return i
}

// Claims 转为 JWT claims
func (i Identity) Claims() map[string]interface{} {
	claims := map[string]interface{}{
		ClaimSubject: i.UserID,
		ClaimRole:    string(i.Role),
	}
	if i.Email != "" {
		claims[ClaimEmail] = i.Email
	}
	if !i.StepUpExpiresAt.IsZero() {
		claims[ClaimStepUp] = true
		claims[ClaimStepUpAt] = i.StepUpAt.Unix()
		claims[ClaimStepUpTo] = i.StepUpExpiresAt.Unix()
	}
	return claims
}

// IdentityFromClaims 从 JWT claims 解析身份
func IdentityFromClaims(claims map[string]interface{}) (Identity, error) {
	sub, _ := claims[ClaimSubject].(string)
	if sub == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}
	role, _ := claims[ClaimRole].(string)
	if !ValidRole(Role(role)) {
		return Identity{}, fmt.Errorf("token has unknown role %q", role)
	}
	id := Identity{UserID: sub, Role: Role(role)}
	id.Email, _ = claims[ClaimEmail].(string)
	if mfa, _ := claims[ClaimStepUp].(bool); mfa {
		id.StepUpAt = unixClaim(claims[ClaimStepUpAt])
		id.StepUpExpiresAt = unixClaim(claims[ClaimStepUpTo])
	}
	return id, nil
}

// unixClaim JSON 解码后数字为 float64，直接构造时可能为 int64
func unixClaim(v interface{}) time.Time {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0).UTC()
	case int64:
		return time.Unix(n, 0).UTC()
	case int:
		return time.Unix(int64(n), 0).UTC()
	}
	return time.Time{}
}
