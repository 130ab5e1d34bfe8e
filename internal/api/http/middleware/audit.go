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
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"dispatch-ledger/pkg/auth"
	"dispatch-ledger/pkg/redaction"
)

// AuditMiddleware 审计中间件：记录写操作与证据导出
type AuditMiddleware struct {
	auditStore AuditStore
	redactor   *redaction.Redactor
}

// AuditStore 审计日志存储
type AuditStore interface {
	LogAccess(ctx context.Context, log AuditLog) error
}

// AuditLog 审计记录
type AuditLog struct {
	UserID       string
	Role         string
	StepUp       bool
	Action       string
	ResourceType string
	ResourceID   string
	Status       int
	Success      bool
	DurationMS   int64
	Request      string // 脱敏后的请求体
	CreatedAt    time.Time
}

// NewAuditMiddleware 创建审计中间件，请求体按 redaction.DefaultPolicy 脱敏
func NewAuditMiddleware(auditStore AuditStore) *AuditMiddleware {
	return &AuditMiddleware{
		auditStore: auditStore,
		redactor:   redaction.New(redaction.DefaultPolicy("")),
	}
}

// SetRedactor 替换请求体脱敏器
func (a *AuditMiddleware) SetRedactor(r *redaction.Redactor) {
	a.redactor = r
}

// AuditAccess 记录访问；只读的非导出请求不记录
func (a *AuditMiddleware) AuditAccess() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		var body []byte
		if string(ctx.Method()) != "GET" {
			body = append([]byte(nil), ctx.Request.Body()...)
		}
		ctx.Next(c)

		method := string(ctx.Method())
		path := string(ctx.Path())
		action := determineAction(method, path)
		if action == "" {
			return
		}
		id, _ := auth.GetIdentity(c)
		resourceType, resourceID := extractResource(path)
		status := ctx.Response.StatusCode()
		request, err := a.redactor.Redact(action, body)
		if err != nil {
			request = nil
		}
		entry := AuditLog{
			UserID:       id.UserID,
			Role:         string(id.Role),
			StepUp:       id.SteppedUp(start),
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Status:       status,
			Success:      status < 400,
			DurationMS:   time.Since(start).Milliseconds(),
			Request:      string(request),
			CreatedAt:    time.Now().UTC(),
		}

		// 异步写入，不阻塞请求
		go func() {
			_ = a.auditStore.LogAccess(context.Background(), entry)
		}()
	}
}

func determineAction(method string, path string) string {
	switch {
	case strings.HasSuffix(path, "/evidence"):
		return "export_evidence"
	case strings.HasSuffix(path, "/ledger-record"):
		return "view_ledger_record"
	case method == "GET":
		return ""
	case strings.HasSuffix(path, "/auth/step-up"):
		return "request_step_up"
	case strings.HasSuffix(path, "/auth/step-up/verify"):
		return "verify_step_up"
	case strings.HasSuffix(path, "/anchor/retry"):
		return "retry_anchor"
	}
	if strings.HasPrefix(path, "/api/dispatches") {
		switch {
		case strings.HasSuffix(path, "/verify"):
			return "verify_dispatch"
		case strings.HasSuffix(path, "/reject"):
			return "reject_dispatch"
		case strings.HasSuffix(path, "/respond"):
			return "respond_dispatch"
		case strings.HasSuffix(path, "/proofs"):
			return "add_proof"
		case strings.HasSuffix(path, "/complete"):
			return "complete_dispatch"
		case strings.TrimSuffix(path, "/") == "/api/dispatches":
			return "create_dispatch"
		}
	}
	if strings.HasPrefix(path, "/api/reports") {
		switch {
		case strings.HasSuffix(path, "/approve"):
			return "approve_report"
		case strings.HasSuffix(path, "/reject"):
			return "reject_report"
		case strings.TrimSuffix(path, "/") == "/api/reports":
			return "create_report"
		}
	}
	return "unknown"
}

func extractResource(path string) (resourceType string, resourceID string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) >= 3 {
		// /api/dispatches/:id -> resourceType=dispatch, resourceID=:id
		if parts[1] == "dispatches" {
			return "dispatch", parts[2]
		}
		if parts[1] == "reports" && parts[2] != "approvals" {
			return "report", parts[2]
		}
	}

	return "unknown", ""
}

// SlogAuditStore 将审计记录写入结构化日志
type SlogAuditStore struct {
	Logger *slog.Logger
}

// LogAccess 实现 AuditStore
func (s SlogAuditStore) LogAccess(ctx context.Context, log AuditLog) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"user_id", log.UserID,
		"role", log.Role,
		"step_up", log.StepUp,
		"action", log.Action,
		"resource_type", log.ResourceType,
		"resource_id", log.ResourceID,
		"status", log.Status,
		"success", log.Success,
		"duration_ms", log.DurationMS,
	}
	if log.Request != "" {
		attrs = append(attrs, "request", log.Request)
	}
	logger.InfoContext(ctx, "audit", attrs...)
	return nil
}
