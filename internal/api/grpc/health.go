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

// Package grpc 提供 gRPC 健康检查服务：账本签名账户的授权状态映射为 LedgerService 的 SERVING/NOT_SERVING。
package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"dispatch-ledger/internal/ledger"
)

// LedgerService 健康检查中的账本服务名；空服务名表示进程整体
const LedgerService = "dispatchledger.Ledger"

const checkTimeout = 10 * time.Second

// SignerChecker 账本签名账户授权检查
type SignerChecker interface {
	CheckSigner(ctx context.Context) (ledger.SignerStatus, error)
}

// Server gRPC 服务端，持有 health.Server 与定时刷新循环
type Server struct {
	server   *grpc.Server
	health   *health.Server
	signer   SignerChecker
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewServer 创建 gRPC 服务端；interval 为账本状态刷新间隔，<=0 时取 30s
func NewServer(signer SignerChecker, interval time.Duration, opts ...grpc.ServerOption) *Server {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &Server{
		server:   grpc.NewServer(opts...),
		health:   health.NewServer(),
		signer:   signer,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(LedgerService, healthpb.HealthCheckResponse_UNKNOWN)
	return s
}

// Refresh 查询一次签名账户状态并更新 LedgerService
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.signer == nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	} else {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		st, err := s.signer.CheckSigner(ctx)
		cancel()
		if err != nil || !st.Authorized {
			if err != nil {
				hlog.CtxWarnf(ctx, "ledger health check failed: %v", err)
			}
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus(LedgerService, status)
	return status
}

// Serve 启动刷新循环并在 lis 上提供服务，直到 Stop
func (s *Server) Serve(lis net.Listener) error {
	go s.loop()
	return s.server.Serve(lis)
}

func (s *Server) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Refresh(context.Background())
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Refresh(context.Background())
		}
	}
}

// Stop 停止刷新循环并优雅关闭 gRPC 服务
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.health.Shutdown()
		s.server.GracefulStop()
	})
}
