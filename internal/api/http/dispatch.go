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
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"dispatch-ledger/internal/dispatch"
	"dispatch-ledger/pkg/auth"
	pkgerrors "dispatch-ledger/pkg/errors"
)

// CreateDispatchesRequest 创建派遣邀约请求
type CreateDispatchesRequest struct {
	EmergencyID  string   `json:"emergencyId"`
	VolunteerIDs []string `json:"volunteerIds"`
}

// RespondRequest 志愿者答复请求
type RespondRequest struct {
	Decision string `json:"decision"`
}

// AddProofRequest 完成证明上传请求
type AddProofRequest struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
}

// RejectRequest 驳回请求
type RejectRequest struct {
	Reason string `json:"reason"`
}

// CreateDispatches 创建派遣邀约
// POST /api/dispatches
func (h *Handler) CreateDispatches(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	var req CreateDispatchesRequest
	if err := ctx.BindJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	created, err := h.workflow.CreateOffers(c, dispatch.CreateOffersInput{
		EmergencyID:  req.EmergencyID,
		VolunteerIDs: req.VolunteerIDs,
		DispatchedBy: id.UserID,
	})
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusCreated, map[string]interface{}{
		"dispatches": created,
		"count":      len(created),
	})
}

// ListDispatches 列出派遣
// GET /api/dispatches?status=&volunteerId=&emergencyId=&limit=
func (h *Handler) ListDispatches(c context.Context, ctx *app.RequestContext) {
	filter := dispatch.Filter{
		VolunteerID: ctx.Query("volunteerId"),
		EmergencyID: ctx.Query("emergencyId"),
	}
	if raw := ctx.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, dispatch.Status(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(ctx, "invalid limit")
			return
		}
		filter.Limit = n
	}
	list, err := h.workflow.List(c, filter)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"dispatches": list,
		"count":      len(list),
	})
}

// ListMyDispatches 当前志愿者自己的派遣
// GET /api/dispatches/mine
func (h *Handler) ListMyDispatches(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	list, err := h.workflow.List(c, dispatch.Filter{VolunteerID: id.UserID})
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"dispatches": list,
		"count":      len(list),
	})
}

// GetDispatch 获取派遣详情；有查看权限或本人被派遣
// GET /api/dispatches/:id
func (h *Handler) GetDispatch(c context.Context, ctx *app.RequestContext) {
	d, ok := h.readableDispatch(c, ctx)
	if !ok {
		return
	}
	ctx.JSON(consts.StatusOK, d)
}

// GetDispatchEvents 派遣历史事件（哈希链）
// GET /api/dispatches/:id/events
func (h *Handler) GetDispatchEvents(c context.Context, ctx *app.RequestContext) {
	d, ok := h.readableDispatch(c, ctx)
	if !ok {
		return
	}
	events, err := h.workflow.Events(c, d.ID)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"dispatchId": d.ID,
		"events":     events,
	})
}

// RespondDispatch 接受或拒绝派遣邀约
// POST /api/dispatches/:id/respond
func (h *Handler) RespondDispatch(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	var req RespondRequest
	if err := ctx.BindJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	decision := dispatch.Decision(strings.ToUpper(strings.TrimSpace(req.Decision)))
	d, err := h.workflow.Respond(c, ctx.Param("id"), id.UserID, decision)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, d)
}

// AddDispatchProof 追加完成证明
// POST /api/dispatches/:id/proofs
func (h *Handler) AddDispatchProof(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	var req AddProofRequest
	if err := ctx.BindJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	d, err := h.workflow.AddProof(c, ctx.Param("id"), id.UserID, dispatch.ProofRef{
		URL:        req.URL,
		MimeType:   req.MimeType,
		FileName:   req.FileName,
		UploadedAt: h.now().UTC().Truncate(time.Millisecond),
	})
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, d)
}

// CompleteDispatch 志愿者标记完成
// POST /api/dispatches/:id/complete
func (h *Handler) CompleteDispatch(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	d, err := h.workflow.Complete(c, ctx.Param("id"), id.UserID)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, d)
}

// VerifyDispatch 核验派遣并锚定到账本；锚定失败不回滚 VERIFIED
// POST /api/dispatches/:id/verify
func (h *Handler) VerifyDispatch(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	d, err := h.workflow.Verify(c, ctx.Param("id"), id.UserID)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, d)
}

// RejectDispatch 驳回完成的派遣
// POST /api/dispatches/:id/reject
func (h *Handler) RejectDispatch(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	var req RejectRequest
	if err := ctx.BindJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	d, err := h.workflow.Reject(c, ctx.Param("id"), id.UserID, req.Reason)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, d)
}

// RetryAnchor 重试失败或中断的锚定
// POST /api/dispatches/:id/anchor/retry
func (h *Handler) RetryAnchor(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	d, err := h.workflow.RetryAnchor(c, ctx.Param("id"), id.UserID)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, d)
}

func (h *Handler) readableDispatch(c context.Context, ctx *app.RequestContext) (*dispatch.Dispatch, bool) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return nil, false
	}
	d, err := h.workflow.Get(c, ctx.Param("id"))
	if err != nil {
		writeError(c, ctx, err)
		return nil, false
	}
	if d.VolunteerID == id.UserID {
		return d, true
	}
	allowed, err := h.rbac.CheckPermission(c, id, auth.PermissionDispatchView, d.ID)
	if err != nil {
		writeError(c, ctx, err)
		return nil, false
	}
	if !allowed {
		writeError(c, ctx, pkgerrors.ErrForbidden)
		return nil, false
	}
	return d, true
}
