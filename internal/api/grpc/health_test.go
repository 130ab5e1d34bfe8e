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

package grpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"dispatch-ledger/internal/ledger"
)

type fakeSigner struct {
	mu         sync.Mutex
	authorized bool
	err        error
}

func (f *fakeSigner) CheckSigner(ctx context.Context) (ledger.SignerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ledger.SignerStatus{Network: "ganache", Authorized: f.authorized}, f.err
}

func (f *fakeSigner) set(authorized bool, err error) {
	f.mu.Lock()
	f.authorized, f.err = authorized, err
	f.mu.Unlock()
}

func startServer(t *testing.T, signer SignerChecker) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer(signer, time.Hour)
	// 只启动 gRPC 服务，不启动刷新循环，状态由测试调用 Refresh 驱动
	go func() { _ = s.server.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_ReflectsSignerAuthorization(t *testing.T) {
	signer := &fakeSigner{authorized: true}
	s, client := startServer(t, signer)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.Refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, LedgerService))

	signer.set(false, ledger.ErrUnauthorizedSigner)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, LedgerService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
}

func TestHealth_UnconfiguredLedger(t *testing.T) {
	s, client := startServer(t, ledger.Unconfigured{})
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, LedgerService))
}

func TestHealth_NilSigner(t *testing.T) {
	s := NewServer(nil, 0)
	defer s.Stop()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Refresh(context.Background()))
}
