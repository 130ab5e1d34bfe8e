// Copyright 2026 fanjia1024
// Step-up code delivery through an HTTP mail relay

package challenge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookDeliverer 将验证码 POST 给邮件/短信中继服务
type WebhookDeliverer struct {
	url    string
	token  string
	client *resty.Client
}

// NewWebhookDeliverer 创建中继投递器；token 非空时以 Bearer 方式携带
func NewWebhookDeliverer(url, token string) *WebhookDeliverer {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(2 * time.Second)
	return &WebhookDeliverer{url: url, token: token, client: client}
}

// Deliver 实现 Deliverer
func (d *WebhookDeliverer) Deliver(ctx context.Context, target, code, challengeID string) error {
	req := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"target":      target,
			"code":        code,
			"challengeId": challengeID,
			"template":    "step_up_code",
		})
	if d.token != "" {
		req.SetHeader("Authorization", "Bearer "+d.token)
	}
	resp, err := req.Post(d.url)
	if err != nil {
		return fmt.Errorf("deliver step-up code: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("deliver step-up code: relay returned %d", resp.StatusCode())
	}
	return nil
}
