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

package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"dispatch-ledger/internal/storage/cache"
	"dispatch-ledger/pkg/metrics"
)

// Service 签发与校验 step-up 挑战
type Service struct {
	store     cache.Store
	deliverer Deliverer
	cfg       Config
	cost      int
	now       func() time.Time
	logger    *slog.Logger
	limiter   *verifyLimiter
}

// Option Service 选项
type Option func(*Service)

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock 设置时钟（测试用；存储的 TTL 不受影响）
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost 设置 bcrypt 代价
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService 创建挑战服务
func NewService(store cache.Store, deliverer Deliverer, cfg Config, opts ...Option) *Service {
	if deliverer == nil {
		deliverer = LogDeliverer{}
	}
	s := &Service{
		store:     store,
		deliverer: deliverer,
		cfg:       cfg.withDefaults(),
		cost:      bcrypt.DefaultCost,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.limiter = newVerifyLimiter(s.cfg.VerifyRPS, s.now)
	return s
}

// Config 生效配置
func (s *Service) Config() Config { return s.cfg }

// Create 为 actor 签发挑战并投递验证码
func (s *Service) Create(ctx context.Context, actorID, target string) (Issued, error) {
	actorID = strings.TrimSpace(actorID)
	target = strings.TrimSpace(target)
	if actorID == "" || target == "" {
		return Issued{}, fmt.Errorf("actor and delivery target are required")
	}
	if err := s.throttle(ctx, actorID); err != nil {
		return Issued{}, err
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return Issued{}, fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return Issued{}, fmt.Errorf("hash code: %w", err)
	}

	now := s.now().UTC()
	ch := Challenge{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		CodeHash:  string(hash),
		Target:    target,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	// 计数器先于挑战体写入：挑战可见时计数器一定存在
	if err := s.store.Set(ctx, attemptsKey(ch.ID), 0, s.cfg.TTL); err != nil {
		return Issued{}, fmt.Errorf("store challenge attempts: %w", err)
	}
	if err := s.store.Set(ctx, challengeKey(ch.ID), ch, s.cfg.TTL); err != nil {
		_, _ = s.store.Delete(ctx, attemptsKey(ch.ID))
		return Issued{}, fmt.Errorf("store challenge: %w", err)
	}

	if err := s.deliverer.Deliver(ctx, target, code, ch.ID); err != nil {
		s.consume(ctx, ch.ID)
		return Issued{}, fmt.Errorf("deliver code: %w", err)
	}
	metrics.StepUpIssuedTotal.Inc()
	s.logger.InfoContext(ctx, "step-up challenge created", "challenge_id", ch.ID, "actor_id", actorID)

	return Issued{
		ChallengeID:    ch.ID,
		DeliveryTarget: MaskTarget(target),
		ExpiresAt:      ch.ExpiresAt,
	}, nil
}

// Verify 校验 actorID 名下挑战的验证码，成功时作废挑战。
// 非本人的请求在计数与限流之前返回 ErrNotOwner，不消耗挑战的尝试次数。
func (s *Service) Verify(ctx context.Context, challengeID, actorID, code string) (err error) {
	defer func() { metrics.StepUpVerifyTotal.WithLabelValues(verifyResult(err)).Inc() }()

	challengeID = strings.TrimSpace(challengeID)
	actorID = strings.TrimSpace(actorID)
	code = strings.TrimSpace(code)
	if challengeID == "" {
		return ErrChallengeExpired
	}

	var ch Challenge
	if err := s.store.Get(ctx, challengeKey(challengeID), &ch); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return ErrChallengeExpired
		}
		return fmt.Errorf("load challenge: %w", err)
	}
	if actorID == "" || ch.ActorID != actorID {
		s.logger.WarnContext(ctx, "step-up challenge used by another account", "challenge_id", challengeID, "actor_id", actorID)
		return ErrNotOwner
	}
	if !s.limiter.Allow(challengeID, s.cfg.TTL) {
		return ErrRateLimited
	}

	attempts, err := s.store.IncrExisting(ctx, attemptsKey(challengeID))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return ErrChallengeExpired
		}
		return fmt.Errorf("count attempt: %w", err)
	}
	if attempts > int64(s.cfg.MaxAttempts) {
		s.consume(ctx, challengeID)
		s.logger.WarnContext(ctx, "step-up challenge exhausted", "challenge_id", challengeID, "actor_id", ch.ActorID)
		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(ch.CodeHash), []byte(code)) != nil {
		s.logger.InfoContext(ctx, "step-up code mismatch", "challenge_id", challengeID, "attempt", attempts)
		return ErrCodeMismatch
	}

	deleted, err := s.store.Delete(ctx, challengeKey(challengeID))
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if !deleted {
		// 并发校验已先一步使用
		return ErrChallengeExpired
	}
	_, _ = s.store.Delete(ctx, attemptsKey(challengeID))
	s.limiter.forget(challengeID)
	return nil
}

// Attempts 当前已尝试次数
func (s *Service) Attempts(ctx context.Context, challengeID string) (int64, error) {
	var n int64
	if err := s.store.Get(ctx, attemptsKey(challengeID), &n); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return 0, ErrChallengeExpired
		}
		return 0, err
	}
	return n, nil
}

// throttle 发送冷却与每小时上限
func (s *Service) throttle(ctx context.Context, actorID string) error {
	if s.cfg.ResendCooldown > 0 {
		ok, err := s.store.SetNX(ctx, cooldownKey(actorID), s.now().Unix(), s.cfg.ResendCooldown)
		if err != nil {
			return fmt.Errorf("check resend cooldown: %w", err)
		}
		if !ok {
			return ErrResendTooSoon
		}
	}
	if s.cfg.MaxSendsPerHour > 0 {
		n, err := s.store.Incr(ctx, sendsKey(actorID), time.Hour)
		if err != nil {
			return fmt.Errorf("count sends: %w", err)
		}
		if n > int64(s.cfg.MaxSendsPerHour) {
			return ErrTooManySends
		}
	}
	return nil
}

func (s *Service) consume(ctx context.Context, challengeID string) {
	if _, err := s.store.Delete(ctx, challengeKey(challengeID)); err != nil {
		s.logger.WarnContext(ctx, "delete challenge failed", "challenge_id", challengeID, "error", err)
	}
	_, _ = s.store.Delete(ctx, attemptsKey(challengeID))
	s.limiter.forget(challengeID)
}

// generateCode 生成定长十进制验证码，前导零保留
func generateCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	code := n.String()
	if len(code) < length {
		code = strings.Repeat("0", length-len(code)) + code
	}
	return code, nil
}

func verifyResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCodeMismatch):
		return "mismatch"
	case errors.Is(err, ErrChallengeExpired):
		return "expired"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	default:
		return "error"
	}
}
