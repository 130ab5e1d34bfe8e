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

package app

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch-ledger/internal/challenge"
	"dispatch-ledger/internal/dispatch"
	"dispatch-ledger/internal/ledger"
	"dispatch-ledger/internal/report"
	"dispatch-ledger/internal/storage/cache"
	"dispatch-ledger/pkg/config"
	"dispatch-ledger/pkg/log"
	"dispatch-ledger/pkg/proof"
	"dispatch-ledger/pkg/secrets"
	"dispatch-ledger/pkg/signature"
)

// LedgerClient 账本写入与签名账户检查（ledger.Client 与 ledger.Unconfigured 实现）
type LedgerClient interface {
	dispatch.Recorder
	CheckSigner(ctx context.Context) (ledger.SignerStatus, error)
}

// Bootstrap 统一初始化：供 api 与 worker 复用，避免在 cmd 内写业务装配
type Bootstrap struct {
	Config         *config.Config
	Logger         *log.Logger
	Secrets        secrets.Store
	Pool           *pgxpool.Pool
	Cache          cache.Store
	Ledger         LedgerClient
	Workflow       *dispatch.Workflow
	Reports        *report.Service
	Challenges     *challenge.Service
	EvidenceSigner proof.PackageSigner // 为 nil 表示证据包不签名
	VerifyKey      ed25519.PublicKey

	closers []func()
}

// NewBootstrap 根据配置创建 Bootstrap（Secrets/DB/Cache/Ledger/Workflow）
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	b := &Bootstrap{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	b.Secrets, err = secrets.NewStore(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("初始化 secrets 失败: %w", err)
	}

	dispatches, reports, err := b.openStores(ctx)
	if err != nil {
		return nil, err
	}

	b.Cache, err = cache.NewCache(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}
	b.closers = append(b.closers, func() { _ = b.Cache.Close() })

	if err := b.openLedger(ctx); err != nil {
		return nil, err
	}

	b.Reports = report.NewService(reports, report.WithLogger(logger.Logger))
	b.Workflow = dispatch.NewWorkflow(dispatches, b.Ledger, dispatch.Config{
		VerifyTimeout: config.ParseDuration(cfg.Dispatch.VerifyTimeout, 0),
		StalePending:  config.ParseDuration(cfg.Dispatch.AnchorRetry.StalePending, 0),
	}, dispatch.WithEmergencies(b.Reports), dispatch.WithLogger(logger.Logger))

	if err := b.openChallenges(ctx); err != nil {
		return nil, err
	}
	if err := b.openEvidenceSigner(ctx); err != nil {
		return nil, err
	}

	ok = true
	return b, nil
}

func (b *Bootstrap) openStores(ctx context.Context) (dispatch.Store, report.Store, error) {
	cfg := b.Config.Storage
	if cfg.Type != "postgres" {
		b.Logger.Warn("使用内存存储，重启后数据丢失")
		return dispatch.NewMemoryStore(), report.NewMemoryStore(), nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("解析 postgres dsn 失败: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Postgres.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("连接 postgres 失败: %w", err)
	}
	b.Pool = pool
	b.closers = append(b.closers, pool.Close)
	if err := pool.Ping(ctx); err != nil {
		return nil, nil, fmt.Errorf("连接 postgres 失败: %w", err)
	}

	ds := dispatch.NewPgStoreWithPool(pool)
	if err := ds.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	rs := report.NewPgStoreWithPool(pool)
	if err := rs.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	b.Logger.Info("存储使用 PostgreSQL 后端")
	return ds, rs, nil
}

// openLedger 网络配置解析失败时退化为 Unconfigured：核验照常完成，锚定注记为 misconfigured
func (b *Bootstrap) openLedger(ctx context.Context) error {
	network, err := ledger.ResolveNetwork(ctx, b.Config.Ledger, b.Secrets)
	if err != nil {
		b.Logger.Warn("账本未配置，锚定将失败直至配置修复", "error", err)
		b.Ledger = ledger.Unconfigured{Err: err}
		return nil
	}
	client, err := ledger.Dial(ctx, network, ledger.WithLogger(b.Logger.Logger))
	if err != nil {
		return fmt.Errorf("连接账本网络失败: %w", err)
	}
	b.Ledger = client
	b.closers = append(b.closers, client.Close)
	b.Logger.Info("账本客户端已就绪",
		"network", network.Name,
		"contract", network.ContractAddress.Hex(),
		"signer", network.Signer.Hex())
	return nil
}

func (b *Bootstrap) openChallenges(ctx context.Context) error {
	cc := b.Config.Challenge
	var deliverer challenge.Deliverer = challenge.LogDeliverer{Logger: b.Logger.Logger}
	if cc.DeliveryWebhook != "" {
		token := ""
		if cc.DeliveryTokenSecret != "" {
			v, err := b.Secrets.Get(ctx, cc.DeliveryTokenSecret)
			if err != nil {
				return fmt.Errorf("读取验证码中继 token 失败: %w", err)
			}
			token = v
		}
		deliverer = challenge.NewWebhookDeliverer(cc.DeliveryWebhook, token)
	}
	b.Challenges = challenge.NewService(b.Cache, deliverer, challenge.Config{
		TTL:             config.ParseDuration(cc.TTL, 0),
		MaxAttempts:     cc.MaxAttempts,
		CodeLength:      cc.CodeLength,
		ResendCooldown:  config.ParseDuration(cc.ResendCooldown, 0),
		MaxSendsPerHour: cc.MaxSendsPerHour,
		VerifyRPS:       cc.VerifyRPS,
	}, challenge.WithLogger(b.Logger.Logger))
	return nil
}

func (b *Bootstrap) openEvidenceSigner(ctx context.Context) error {
	keyID := b.Config.Evidence.SigningKeyID
	if keyID == "" {
		return nil
	}
	ks := signature.NewSecretsKeyStore(b.Secrets, b.Config.Evidence.SecretPrefix)
	pub, err := ks.GetVerifyKey(ctx, keyID)
	if err != nil {
		return fmt.Errorf("读取证据包签名密钥失败: %w", err)
	}
	b.EvidenceSigner = signature.NewSigner(ks, keyID)
	b.VerifyKey = pub
	return nil
}

// SchedulerConfig 由配置构造后台锚定重试参数；worker.id 优先于 workerID
func (b *Bootstrap) SchedulerConfig(workerID string) dispatch.AnchorSchedulerConfig {
	rc := b.Config.Dispatch.AnchorRetry
	if b.Config.Worker.ID != "" {
		workerID = b.Config.Worker.ID
	}
	return dispatch.AnchorSchedulerConfig{
		WorkerID:       workerID,
		MaxConcurrency: b.Config.Worker.Concurrency,
		MaxAttempts:    rc.MaxAttempts,
		Backoff:        config.ParseDuration(rc.Backoff, time.Minute),
		PollInterval:   config.ParseDuration(rc.PollInterval, 30*time.Second),
		StalePending:   config.ParseDuration(rc.StalePending, 10*time.Minute),
		BatchSize:      rc.BatchSize,
	}
}

// Close 按创建的逆序释放资源
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
