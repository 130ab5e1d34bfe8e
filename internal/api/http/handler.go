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
	"context"
	"crypto/ed25519"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"dispatch-ledger/internal/challenge"
	"dispatch-ledger/internal/dispatch"
	"dispatch-ledger/internal/ledger"
	"dispatch-ledger/internal/report"
	"dispatch-ledger/pkg/auth"
	"dispatch-ledger/pkg/proof"
)

// TokenIssuer 签发会话令牌（*jwt.HertzJWTMiddleware 实现）
type TokenIssuer interface {
	TokenGenerator(data interface{}) (string, time.Time, error)
}

// SignerChecker 查询账本签名账户状态（ledger.Client 与 ledger.Unconfigured 实现）
type SignerChecker interface {
	CheckSigner(ctx context.Context) (ledger.SignerStatus, error)
}

// Handler HTTP 处理器
type Handler struct {
	workflow   *dispatch.Workflow
	reports    *report.Service
	challenges *challenge.Service
	tokens     TokenIssuer
	stepUpTTL  time.Duration
	signer     SignerChecker
	rbac       auth.RBACChecker
	exportOpts proof.ExportOptions
	verifyKey  ed25519.PublicKey
	now        func() time.Time
}

// NewHandler 创建 HTTP 处理器
func NewHandler(workflow *dispatch.Workflow, reports *report.Service) *Handler {
	return &Handler{
		workflow:  workflow,
		reports:   reports,
		rbac:      auth.NewSimpleRBACChecker(nil),
		stepUpTTL: 15 * time.Minute,
		now:       time.Now,
	}
}

// SetStepUp 设置二次验证服务与提权令牌签发
func (h *Handler) SetStepUp(challenges *challenge.Service, tokens TokenIssuer, ttl time.Duration) {
	h.challenges = challenges
	h.tokens = tokens
	if ttl > 0 {
		h.stepUpTTL = ttl
	}
}

// SetSignerChecker 设置账本状态查询
func (h *Handler) SetSignerChecker(s SignerChecker) {
	h.signer = s
}

// SetRBAC 设置权限检查器（handler 内的资源级检查使用）
func (h *Handler) SetRBAC(rbac auth.RBACChecker) {
	if rbac != nil {
		h.rbac = rbac
	}
}

// SetExportOptions 设置证据包导出选项；verifyKey 用于校验上传的证据包签名
func (h *Handler) SetExportOptions(opts proof.ExportOptions, verifyKey ed25519.PublicKey) {
	h.exportOpts = opts
	h.verifyKey = verifyKey
}

// HealthCheck 健康检查
// GET /api/health
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": h.now().Unix(),
		"service":   "dispatch-ledger",
	})
}

func (h *Handler) identity(c context.Context, ctx *app.RequestContext) (auth.Identity, bool) {
	id, ok := auth.GetIdentity(c)
	if !ok {
		ctx.JSON(consts.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}
	return id, ok
}
