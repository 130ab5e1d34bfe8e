// Copyright 2026 fanjia1024
// Step-up code delivery

package challenge

import (
	"context"
	"log/slog"
	"strings"
)

// Deliverer 投递验证码（邮件、短信等由外部实现）
type Deliverer interface {
	Deliver(ctx context.Context, target, code, challengeID string) error
}

// DelivererFunc 函数适配
type DelivererFunc func(ctx context.Context, target, code, challengeID string) error

// Deliver 实现 Deliverer
func (f DelivererFunc) Deliver(ctx context.Context, target, code, challengeID string) error {
	return f(ctx, target, code, challengeID)
}

// LogDeliverer 仅记录投递事件，开发环境使用；日志中不含验证码
type LogDeliverer struct {
	Logger *slog.Logger
}

// Deliver 实现 Deliverer
func (d LogDeliverer) Deliver(ctx context.Context, target, code, challengeID string) error {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "step-up code issued", "challenge_id", challengeID, "target", MaskTarget(target))
	return nil
}

// MaskTarget 遮盖投递目标：邮箱保留本地部分前两位，其他保留末四位
func MaskTarget(target string) string {
	if strings.Contains(target, "@") {
		return maskEmail(target)
	}
	if len(target) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(target)-4) + target[len(target)-4:]
}

func maskEmail(email string) string {
	name, domain, ok := strings.Cut(email, "@")
	if !ok || name == "" || domain == "" {
		return "****"
	}
	if len(name) > 2 {
		name = name[:2]
	}
	return name + "***@" + domain
}
