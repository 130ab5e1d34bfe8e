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

package worker

import (
	"context"
	"fmt"
	"os"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"dispatch-ledger/internal/app"
	"dispatch-ledger/internal/dispatch"
	"dispatch-ledger/pkg/tracing"
)

// App Worker 应用：在共享 Postgres 存储上扫描锚定失败或中断的已核验派遣并重试
type App struct {
	bootstrap *app.Bootstrap
	scheduler *dispatch.AnchorScheduler
	tracer    *sdktrace.TracerProvider
	cancel    context.CancelFunc
}

// NewApp 创建 Worker 应用
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	if cfg.Storage.Type != "postgres" {
		return nil, fmt.Errorf("worker requires storage.type=postgres to share dispatches with the API")
	}
	if cfg.Dispatch.AnchorRetry.Policy != "background" {
		bootstrap.Logger.Warn("dispatch.anchor_retry.policy 不是 background，worker 仍按配置执行重试")
	}

	a := &App{bootstrap: bootstrap}
	if cfg.Monitoring.Tracing.Enable && cfg.Monitoring.Tracing.ExportEndpoint != "" {
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    cfg.Monitoring.Tracing.ServiceName + "-worker",
			ExportEndpoint: cfg.Monitoring.Tracing.ExportEndpoint,
			Insecure:       cfg.Monitoring.Tracing.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化链路追踪失败: %w", err)
		}
		a.tracer = tp
	}
	a.scheduler = dispatch.NewAnchorScheduler(bootstrap.Workflow, bootstrap.SchedulerConfig(DefaultWorkerID()), bootstrap.Logger.Logger)
	return a, nil
}

// Start 启动扫描循环（非阻塞）
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.scheduler.Start(ctx)
	a.bootstrap.Logger.Info("锚定重试 worker 已启动", "worker_id", DefaultWorkerID())
	return nil
}

// Shutdown 停止扫描并释放资源
func (a *App) Shutdown(ctx context.Context) error {
	a.bootstrap.Logger.Info("关闭 worker 应用")
	if a.cancel != nil {
		a.cancel()
	}
	a.scheduler.Stop()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.bootstrap.Logger.Error("关闭 tracer 失败", "error", err)
		}
	}
	a.bootstrap.Close()
	a.bootstrap.Logger.Info("worker 应用关闭成功")
	return nil
}

// DefaultWorkerID 优先 WORKER_ID 环境变量，其次主机名
func DefaultWorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	host, _ := os.Hostname()
	if host != "" {
		return host
	}
	return "worker-unknown"
}
