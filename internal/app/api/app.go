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

package api

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	ledgergrpc "dispatch-ledger/internal/api/grpc"
	"dispatch-ledger/internal/api/http"
	"dispatch-ledger/internal/api/http/middleware"
	"dispatch-ledger/internal/app"
	"dispatch-ledger/internal/dispatch"
	"dispatch-ledger/pkg/config"
	"dispatch-ledger/pkg/proof"
	"dispatch-ledger/pkg/redaction"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 HTTP Router、Handler、Middleware）
type App struct {
	config       *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
	scheduler    *dispatch.AnchorScheduler
	grpc         *ledgergrpc.Server
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	logger := bootstrap.Logger

	handler := http.NewHandler(bootstrap.Workflow, bootstrap.Reports)
	handler.SetSignerChecker(bootstrap.Ledger)
	handler.SetExportOptions(proof.ExportOptions{Signer: bootstrap.EvidenceSigner}, bootstrap.VerifyKey)

	mw := middleware.NewMiddleware(logger.Logger)
	router := http.NewRouter(handler, mw)
	router.SetRateLimit(cfg.API.Middleware.RateLimitRPS, cfg.API.Middleware.RateLimitBurst)
	if cfg.API.Middleware.Audit {
		audit := middleware.NewAuditMiddleware(middleware.SlogAuditStore{Logger: logger.Logger})
		audit.SetRedactor(redaction.New(redaction.DefaultPolicy(cfg.API.Middleware.AuditSalt)))
		router.SetAudit(audit)
	}
	if cfg.Monitoring.Prometheus.Enable {
		router.EnableMetrics()
	}

	stepUpTTL := config.ParseDuration(cfg.Challenge.StepUpTTL, 15*time.Minute)
	if cfg.API.Middleware.Auth {
		if cfg.API.Middleware.JWTKey == "" {
			return nil, fmt.Errorf("api.middleware.jwt_key is required when auth is enabled")
		}
		timeout := config.ParseDuration(cfg.API.Middleware.JWTTimeout, time.Hour)
		maxRefresh := config.ParseDuration(cfg.API.Middleware.JWTMaxRefresh, time.Hour)
		jwtAuth, err := middleware.NewJWTAuth([]byte(cfg.API.Middleware.JWTKey), timeout, maxRefresh)
		if err != nil {
			return nil, fmt.Errorf("JWT 初始化失败: %w", err)
		}
		router.SetJWT(jwtAuth)
		handler.SetStepUp(bootstrap.Challenges, jwtAuth, stepUpTTL)
		logger.Info("JWT 认证已启用")
	} else {
		handler.SetStepUp(bootstrap.Challenges, nil, stepUpTTL)
		logger.Warn("认证已关闭，使用请求头身份（仅限本地开发）")
	}

	appObj := &App{
		config: bootstrap,
		router: router,
	}
	// 内存存储无法与独立 worker 共享，后台重试在 API 进程内执行
	if cfg.Dispatch.AnchorRetry.Policy == "background" && cfg.Storage.Type != "postgres" {
		appObj.scheduler = dispatch.NewAnchorScheduler(bootstrap.Workflow, bootstrap.SchedulerConfig("api"), logger.Logger)
	}
	if cfg.API.GRPCPort > 0 {
		appObj.grpc = ledgergrpc.NewServer(bootstrap.Ledger, config.ParseDuration(cfg.API.HealthInterval, 30*time.Second))
	}
	return appObj, nil
}

// Run 启动 HTTP 服务（阻塞）
func (a *App) Run(addr string) error {
	cfg := a.config.Config
	logger := a.config.Logger
	logger.Info("API 服务启动", "addr", addr)

	hertzLogger := hertzslog.NewLogger(
		hertzslog.WithOutput(logger.Output),
		hertzslog.WithLevel(logger.Level),
	)
	hlog.SetLogger(hertzLogger)

	if cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "dispatch-ledger"
		}
		exportEndpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			popts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if cfg.Monitoring.Tracing.Insecure {
				popts = append(popts, provider.WithInsecure())
			}
			a.otelProvider = provider.NewOpenTelemetryProvider(popts...)
			tracerOpt, tcfg := hertztracing.NewServerTracer()
			a.router.Use(hertztracing.ServerMiddleware(tcfg))
			a.hertz = a.router.Build(addr, tracerOpt)
			logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		}
	}
	if a.hertz == nil {
		a.hertz = a.router.Build(addr)
	}

	if a.scheduler != nil {
		a.scheduler.Start(context.Background())
		logger.Info("锚定后台重试已在 API 进程内启动")
	}
	if a.grpc != nil {
		grpcAddr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.GRPCPort)
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("gRPC 监听失败: %w", err)
		}
		go func() {
			if err := a.grpc.Serve(lis); err != nil {
				logger.Error("gRPC 服务退出", "error", err)
			}
		}()
		logger.Info("gRPC 健康检查已启动", "addr", grpcAddr)
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭
func (a *App) Shutdown(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.grpc != nil {
		a.grpc.Stop()
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	a.config.Close()
	return nil
}
