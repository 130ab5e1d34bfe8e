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
	"errors"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"dispatch-ledger/internal/challenge"
	"dispatch-ledger/pkg/auth"
	pkgerrors "dispatch-ledger/pkg/errors"
)

// StepUpVerifyRequest 提交验证码
type StepUpVerifyRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// StartStepUp 为管理员签发一次性验证码（发送到账号邮箱）
// POST /api/auth/step-up
func (h *Handler) StartStepUp(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	if h.challenges == nil {
		ctx.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "step-up verification is not configured"})
		return
	}
	if !auth.CanStepUp(id.Role) {
		writeError(c, ctx, pkgerrors.Wrap(pkgerrors.ErrForbidden, "step-up is only available to admin and lgu accounts"))
		return
	}
	target := strings.TrimSpace(id.Email)
	if target == "" {
		writeError(c, ctx, pkgerrors.Invalid("email", "account has no email for verification delivery"))
		return
	}
	issued, err := h.challenges.Create(c, id.UserID, target)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusCreated, issued)
}

// VerifyStepUp 校验验证码，成功后签发带提权时效的新令牌
// POST /api/auth/step-up/verify
func (h *Handler) VerifyStepUp(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	if h.challenges == nil || h.tokens == nil {
		ctx.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "step-up verification is not configured"})
		return
	}
	var req StepUpVerifyRequest
	if err := ctx.BindJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ChallengeID) == "" {
		writeError(c, ctx, pkgerrors.Invalid("challengeId", "is required"))
		return
	}
	if err := h.challenges.Verify(c, req.ChallengeID, id.UserID, strings.TrimSpace(req.Code)); err != nil {
		if errors.Is(err, challenge.ErrNotOwner) {
			hlog.CtxWarnf(c, "step-up challenge %s belongs to another account", req.ChallengeID)
		}
		writeError(c, ctx, err)
		return
	}
	elevated := id.Elevate(h.now(), h.stepUpTTL)
	token, expire, err := h.tokens.TokenGenerator(elevated)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"token":           token,
		"expire":          expire,
		"stepUpExpiresAt": elevated.StepUpExpiresAt,
	})
}
