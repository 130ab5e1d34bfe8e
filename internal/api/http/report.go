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

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"dispatch-ledger/internal/report"
)

// CreateReportRequest 紧急上报请求
type CreateReportRequest struct {
	IsSOS       bool            `json:"isSos"`
	Type        string          `json:"type"`
	Location    report.Location `json:"location"`
	Description string          `json:"description"`
	Photos      []string        `json:"photos"`
}

// ReviewReportRequest 审核请求
type ReviewReportRequest struct {
	Reason string `json:"reason"`
}

// CreateReport 提交紧急上报
// POST /api/reports
func (h *Handler) CreateReport(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	var req CreateReportRequest
	if err := ctx.BindJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	r, err := h.reports.Create(c, report.CreateInput{
		IsSOS:       req.IsSOS,
		Type:        report.Type(strings.ToLower(strings.TrimSpace(req.Type))),
		Location:    req.Location,
		Description: req.Description,
		Photos:      req.Photos,
		ReporterID:  id.UserID,
	})
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusCreated, r)
}

// GetReportByReference 按参考号查询上报进度（仅返回公开字段）
// GET /api/reports/reference/:ref
func (h *Handler) GetReportByReference(c context.Context, ctx *app.RequestContext) {
	r, err := h.reports.GetByReference(c, ctx.Param("ref"))
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"referenceNumber": r.ReferenceNumber,
		"status":          r.Status,
		"type":            r.Type,
		"createdAt":       r.CreatedAt,
	})
}

// ListReportMap 地图可见的上报（SOS 与已批准）
// GET /api/reports/map?limit=
func (h *Handler) ListReportMap(c context.Context, ctx *app.RequestContext) {
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(ctx, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.reports.ListMap(c, limit)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"reports": list,
		"count":   len(list),
	})
}

// ListReportApprovals 按审核状态列出非 SOS 上报，默认 pending
// GET /api/reports/approvals?status=
func (h *Handler) ListReportApprovals(c context.Context, ctx *app.RequestContext) {
	status := report.ApprovalStatus(strings.ToLower(strings.TrimSpace(ctx.Query("status"))))
	list, err := h.reports.ListByApproval(c, status)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"reports": list,
		"count":   len(list),
	})
}

// ApproveReport 批准上报，上报在地图上可见
// PATCH /api/reports/:id/approve
func (h *Handler) ApproveReport(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	r, err := h.reports.Approve(c, ctx.Param("id"), id.UserID)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, r)
}

// RejectReport 驳回上报，reason 必填
// PATCH /api/reports/:id/reject
func (h *Handler) RejectReport(c context.Context, ctx *app.RequestContext) {
	id, ok := h.identity(c, ctx)
	if !ok {
		return
	}
	var req ReviewReportRequest
	if err := ctx.BindJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	r, err := h.reports.Reject(c, ctx.Param("id"), id.UserID, req.Reason)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, r)
}
