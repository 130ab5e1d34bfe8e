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
	"fmt"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"dispatch-ledger/internal/ledger"
	"dispatch-ledger/pkg/proof"
)

// GetLedgerRecord 已锚定派遣的账本记录
// GET /api/dispatches/:id/ledger-record
func (h *Handler) GetLedgerRecord(c context.Context, ctx *app.RequestContext) {
	rec, err := h.workflow.LedgerRecord(c, ctx.Param("id"))
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, rec)
}

// ExportEvidence 导出证据包 ZIP（规范记录、哈希链事件、锚定记录、manifest）
// GET /api/dispatches/:id/evidence
func (h *Handler) ExportEvidence(c context.Context, ctx *app.RequestContext) {
	dispatchID := ctx.Param("id")
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	opts := h.exportOpts
	opts.GeneratedBy = id.UserID
	zipBytes, err := h.workflow.ExportEvidence(c, dispatchID, opts)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="evidence-%s.zip"`, dispatchID))
	ctx.Data(consts.StatusOK, "application/zip", zipBytes)
}

// VerifyEvidence 校验上传的证据包
// POST /api/evidence/verify
func (h *Handler) VerifyEvidence(c context.Context, ctx *app.RequestContext) {
	body := ctx.Request.Body()
	if len(body) == 0 {
		badRequest(ctx, "empty evidence package")
		return
	}
	ctx.JSON(consts.StatusOK, proof.VerifyEvidenceZip(body, h.verifyKey))
}

// LedgerStatus 账本网络与签名账户授权状态
// GET /api/ledger/status
func (h *Handler) LedgerStatus(c context.Context, ctx *app.RequestContext) {
	if h.signer == nil {
		writeError(c, ctx, ledger.ErrMisconfigured)
		return
	}
	st, err := h.signer.CheckSigner(c)
	var unauthorized *ledger.UnauthorizedSignerError
	switch {
	case err == nil:
		ctx.JSON(consts.StatusOK, st)
	case errors.As(err, &unauthorized):
		ctx.JSON(consts.StatusOK, map[string]interface{}{
			"status": st,
			"error":  err.Error(),
		})
	default:
		writeError(c, ctx, err)
	}
}
