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
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"

	"dispatch-ledger/pkg/auth"
)

// Middleware 通用中间件
type Middleware struct {
	logger *slog.Logger
}

// NewMiddleware 创建通用中间件；logger 为 nil 时使用 slog.Default()
func NewMiddleware(logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{logger: logger}
}

// CORS 跨域头；OPTIONS 预检直接返回 204
func (m *Middleware) CORS() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")
		ctx.Header("Access-Control-Expose-Headers", "Content-Length, Content-Disposition")
		ctx.Header("Access-Control-Max-Age", "86400")

		if string(ctx.Method()) == consts.MethodOptions {
			ctx.AbortWithStatus(consts.StatusNoContent)
			return
		}
		ctx.Next(c)
	}
}

// AccessLog 结构化访问日志
func (m *Middleware) AccessLog() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		m.logger.InfoContext(c, "http request",
			"method", string(ctx.Method()),
			"path", string(ctx.Path()),
			"status", ctx.Response.StatusCode(),
			"client_ip", ctx.ClientIP(),
			"user_id", auth.GetUserID(c),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

// RateLimit 按客户端（已认证用户或 IP）限流；rps <= 0 时不限流
func (m *Middleware) RateLimit(rps float64, burst int) app.HandlerFunc {
	if rps <= 0 {
		return func(c context.Context, ctx *app.RequestContext) { ctx.Next(c) }
	}
	if burst < 1 {
		burst = 1
	}
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)
	return func(c context.Context, ctx *app.RequestContext) {
		key := auth.GetUserID(c)
		if key == "" {
			key = "ip:" + ctx.ClientIP()
		}
		mu.Lock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[key] = l
		}
		mu.Unlock()

		if !l.Allow() {
			ctx.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]string{
				"error": "too many requests",
			})
			return
		}
		ctx.Next(c)
	}
}

// bearerToken 取 Authorization: Bearer 之后的部分
func bearerToken(ctx *app.RequestContext) string {
	h := string(ctx.GetHeader("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
