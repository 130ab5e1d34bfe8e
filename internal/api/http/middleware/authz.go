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

package middleware

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"dispatch-ledger/pkg/auth"
)

// AuthZMiddleware 授权中间件
type AuthZMiddleware struct {
	rbac auth.RBACChecker
	now  func() time.Time
}

// NewAuthZMiddleware 创建授权中间件
func NewAuthZMiddleware(rbac auth.RBACChecker) *AuthZMiddleware {
	return &AuthZMiddleware{rbac: rbac, now: time.Now}
}

// RequireAuth 要求已认证
func (a *AuthZMiddleware) RequireAuth() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		if _, ok := auth.GetIdentity(c); !ok {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{
				"error": "authentication required",
			})
			return
		}
		ctx.Next(c)
	}
}

// RequirePermission 要求具备权限
func (a *AuthZMiddleware) RequirePermission(permission auth.Permission) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		id, ok := auth.GetIdentity(c)
		if !ok {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{
				"error": "authentication required",
			})
			return
		}

		allowed, err := a.rbac.CheckPermission(c, id, permission, ctx.Param("id"))
		if err != nil || !allowed {
			ctx.AbortWithStatusJSON(consts.StatusForbidden, map[string]string{
				"error": "permission denied",
			})
			return
		}

		ctx.Next(c)
	}
}

// RequireStepUp 要求会话已通过二次验证且未过期
func (a *AuthZMiddleware) RequireStepUp() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		id, ok := auth.GetIdentity(c)
		if !ok {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{
				"error": "authentication required",
			})
			return
		}
		if !id.SteppedUp(a.now()) {
			ctx.AbortWithStatusJSON(consts.StatusForbidden, map[string]string{
				"error": "step-up verification required",
				"code":  "step_up_required",
			})
			return
		}
		ctx.Next(c)
	}
}
