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
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/jwt"

	"dispatch-ledger/pkg/auth"
)

// IdentityKey JWT 中间件写入 RequestContext 的身份键
const IdentityKey = "identity"

var errLoginDisabled = errors.New("password login is not served by this service")

// NewJWTAuth 创建 JWT 中间件。令牌由外部身份服务或 CLI 用同一密钥签发，本服务只校验并在二次验证后换发。
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:         "dispatch-ledger",
		Key:           key,
		Timeout:       timeout,
		MaxRefresh:    maxRefresh,
		IdentityKey:   IdentityKey,
		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if id, ok := data.(auth.Identity); ok {
				return jwt.MapClaims(id.Claims())
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(c context.Context, ctx *app.RequestContext) interface{} {
			id, err := auth.IdentityFromClaims(jwt.ExtractClaims(c, ctx))
			if err != nil {
				return nil
			}
			return id
		},
		Authenticator: func(c context.Context, ctx *app.RequestContext) (interface{}, error) {
			return nil, errLoginDisabled
		},
		Authorizator: func(data interface{}, c context.Context, ctx *app.RequestContext) bool {
			_, ok := data.(auth.Identity)
			return ok
		},
		Unauthorized: func(c context.Context, ctx *app.RequestContext, code int, message string) {
			ctx.JSON(code, map[string]string{
				"error": message,
			})
		},
	})
}

// InjectIdentity 将 JWT 中间件解析出的身份注入 context，供后续 handler 通过 auth.GetIdentity 读取
func InjectIdentity() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		if v, ok := ctx.Get(IdentityKey); ok {
			if id, ok := v.(auth.Identity); ok {
				c = auth.WithIdentity(c, id)
			}
		}
		ctx.Next(c)
	}
}

// HeaderIdentity 关闭认证时的本地开发身份：X-User-ID / X-User-Role / X-User-Email
func HeaderIdentity() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		userID := string(ctx.GetHeader("X-User-ID"))
		role := auth.Role(ctx.GetHeader("X-User-Role"))
		if userID != "" && auth.ValidRole(role) {
			id := auth.Identity{UserID: userID, Role: role, Email: string(ctx.GetHeader("X-User-Email"))}
			if string(ctx.GetHeader("X-Step-Up")) == "true" {
				id = id.Elevate(time.Now().UTC(), time.Hour)
			}
			c = auth.WithIdentity(c, id)
		} else if bearerToken(ctx) != "" {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{
				"error": "token authentication is disabled",
			})
			return
		}
		ctx.Next(c)
	}
}
