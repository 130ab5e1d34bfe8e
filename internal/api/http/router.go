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

package http

import (
	"bytes"
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/jwt"

	"dispatch-ledger/internal/api/http/middleware"
	"dispatch-ledger/pkg/auth"
	"dispatch-ledger/pkg/metrics"
)

// Router HTTP 路由器（Hertz）
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	authz      *middleware.AuthZMiddleware
	audit      *middleware.AuditMiddleware
	jwtAuth    *jwt.HertzJWTMiddleware
	global     []app.HandlerFunc
	metrics    bool
	rateRPS    float64
	rateBurst  int
}

// NewRouter 创建新的 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{
		handler:    handler,
		middleware: mw,
		authz:      middleware.NewAuthZMiddleware(handler.rbac),
	}
}

// SetJWT 设置 JWT 鉴权；未设置时退化为开发模式的请求头身份
func (r *Router) SetJWT(jwtAuth *jwt.HertzJWTMiddleware) {
	r.jwtAuth = jwtAuth
}

// SetAudit 设置审计中间件
func (r *Router) SetAudit(audit *middleware.AuditMiddleware) {
	r.audit = audit
}

// SetRateLimit 设置已认证接口的限流，rps<=0 表示不限流
func (r *Router) SetRateLimit(rps float64, burst int) {
	r.rateRPS = rps
	r.rateBurst = burst
}

// EnableMetrics 暴露 /metrics
func (r *Router) EnableMetrics() {
	r.metrics = true
}

// Use 追加全局中间件（如 tracing），在 CORS 与访问日志之前执行
func (r *Router) Use(mws ...app.HandlerFunc) {
	r.global = append(r.global, mws...)
}

// Build 创建 Hertz 服务并注册路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	all := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(all...)
	h.Use(r.global...)
	h.Use(r.middleware.CORS(), r.middleware.AccessLog())
	r.register(h)
	return h
}

func (r *Router) authChain() []app.HandlerFunc {
	var chain []app.HandlerFunc
	if r.jwtAuth != nil {
		chain = append(chain, r.jwtAuth.MiddlewareFunc(), middleware.InjectIdentity())
	} else {
		chain = append(chain, middleware.HeaderIdentity())
	}
	chain = append(chain, r.authz.RequireAuth(), r.middleware.RateLimit(r.rateRPS, r.rateBurst))
	if r.audit != nil {
		chain = append(chain, r.audit.AuditAccess())
	}
	return chain
}

func (r *Router) register(h *server.Hertz) {
	hd := r.handler
	perm := r.authz.RequirePermission

	h.GET("/api/health", hd.HealthCheck)
	if r.metrics {
		h.GET("/metrics", func(c context.Context, ctx *app.RequestContext) {
			var buf bytes.Buffer
			if err := metrics.WritePrometheus(&buf); err != nil {
				writeError(c, ctx, err)
				return
			}
			ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
		})
	}

	api := h.Group("/api", r.authChain()...)

	// 二次验证
	api.POST("/auth/step-up", hd.StartStepUp)
	api.POST("/auth/step-up/verify", hd.VerifyStepUp)

	// 派遣
	d := api.Group("/dispatches")
	{
		d.POST("", perm(auth.PermissionDispatchCreate), hd.CreateDispatches)
		d.GET("", perm(auth.PermissionDispatchView), hd.ListDispatches)
		d.GET("/mine", perm(auth.PermissionDispatchRespond), hd.ListMyDispatches)
		d.GET("/:id", hd.GetDispatch)
		d.GET("/:id/events", hd.GetDispatchEvents)
		d.POST("/:id/respond", perm(auth.PermissionDispatchRespond), hd.RespondDispatch)
		d.POST("/:id/proofs", perm(auth.PermissionDispatchRespond), hd.AddDispatchProof)
		d.POST("/:id/complete", perm(auth.PermissionDispatchRespond), hd.CompleteDispatch)
		d.POST("/:id/verify", perm(auth.PermissionDispatchVerify), r.authz.RequireStepUp(), hd.VerifyDispatch)
		d.POST("/:id/reject", perm(auth.PermissionDispatchVerify), hd.RejectDispatch)
		d.POST("/:id/anchor/retry", perm(auth.PermissionLedgerRetry), r.authz.RequireStepUp(), hd.RetryAnchor)
		d.GET("/:id/ledger-record", perm(auth.PermissionLedgerExport), hd.GetLedgerRecord)
		d.GET("/:id/evidence", perm(auth.PermissionLedgerExport), hd.ExportEvidence)
	}

	// 账本与证据
	api.GET("/ledger/status", perm(auth.PermissionLedgerExport), hd.LedgerStatus)
	api.POST("/evidence/verify", perm(auth.PermissionLedgerExport), hd.VerifyEvidence)

	// 紧急上报与审核
	rp := api.Group("/reports")
	{
		rp.POST("", hd.CreateReport)
		rp.GET("/map", hd.ListReportMap)
		rp.GET("/reference/:ref", hd.GetReportByReference)
		rp.GET("/approvals", perm(auth.PermissionReportReview), hd.ListReportApprovals)
		rp.PATCH("/:id/approve", perm(auth.PermissionReportReview), hd.ApproveReport)
		rp.PATCH("/:id/reject", perm(auth.PermissionReportReview), hd.RejectReport)
	}
}
