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

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dispatch-ledger/pkg/metrics"
)

// AnchorSchedulerConfig 后台锚定重试配置
type AnchorSchedulerConfig struct {
	WorkerID       string
	MaxConcurrency int           // 最大并发重试数，<=0 表示 1
	MaxAttempts    int           // 含首次写入的最大尝试次数
	Backoff        time.Duration // 同一派遣两次尝试的最小间隔
	PollInterval   time.Duration // 扫描间隔
	StalePending   time.Duration // pending 超过该时长视为中断
	BatchSize      int
	RatePerSecond  float64 // 提交速率上限，<=0 不限
}

// AnchorScheduler 在 Store 之上扫描锚定失败的已核验派遣并重试；形态与 Workflow.RetryAnchor 共享
type AnchorScheduler struct {
	workflow *Workflow
	config   AnchorSchedulerConfig
	pacer    *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	limiter  chan struct{} // 信号量，限制并发

	mu       sync.Mutex
	inflight map[string]bool
}

// NewAnchorScheduler 创建调度器
func NewAnchorScheduler(w *Workflow, config AnchorSchedulerConfig, logger *slog.Logger) *AnchorScheduler {
	slots := config.MaxConcurrency
	if slots <= 0 {
		slots = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.StalePending <= 0 {
		config.StalePending = w.cfg.StalePending
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.WorkerID == "" {
		config.WorkerID = "anchor-worker"
	}
	if logger == nil {
		logger = slog.Default()
	}
	var pacer *rate.Limiter
	if config.RatePerSecond > 0 {
		pacer = rate.NewLimiter(rate.Limit(config.RatePerSecond), 1)
	}
	return &AnchorScheduler{
		workflow: w,
		config:   config,
		pacer:    pacer,
		logger:   logger,
		now:      w.now,
		stopCh:   make(chan struct{}),
		limiter:  make(chan struct{}, slots),
		inflight: make(map[string]bool),
	}
}

// Start 启动扫描循环
func (s *AnchorScheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.PollInterval)
		defer ticker.Stop()
		for {
			s.Tick(ctx)
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop 停止扫描并等待进行中的重试完成
func (s *AnchorScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Tick 扫描一轮，返回本轮启动的重试数
func (s *AnchorScheduler) Tick(ctx context.Context) int {
	now := s.now()
	candidates, err := s.workflow.store.ListAnchorable(ctx, now.Add(-s.config.StalePending), s.config.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "list anchorable dispatches failed", "error", err)
		return 0
	}
	started := 0
	for _, d := range candidates {
		if !s.due(d, now) {
			metrics.AnchorRetryTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if !s.claim(d.ID) {
			continue
		}
		select {
		case <-ctx.Done():
			s.release(d.ID)
			return started
		case <-s.stopCh:
			s.release(d.ID)
			return started
		case s.limiter <- struct{}{}:
		}
		if s.pacer != nil {
			if err := s.pacer.Wait(ctx); err != nil {
				<-s.limiter
				s.release(d.ID)
				return started
			}
		}
		started++
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer func() { <-s.limiter }()
			defer s.release(id)
			s.retry(context.WithoutCancel(ctx), id)
		}(d.ID)
	}
	return started
}

// due 是否到达重试时机
func (s *AnchorScheduler) due(d *Dispatch, now time.Time) bool {
	if d.Anchor.Attempts >= s.config.MaxAttempts {
		return false
	}
	if d.Anchor.Status == AnchorFailed && d.Anchor.UpdatedAt != nil {
		return !now.Before(d.Anchor.UpdatedAt.Add(s.config.Backoff))
	}
	return true
}

func (s *AnchorScheduler) retry(ctx context.Context, id string) {
	gauge := metrics.AnchorWorkerBusy.WithLabelValues(s.config.WorkerID)
	gauge.Inc()
	defer gauge.Dec()

	d, err := s.workflow.RetryAnchor(ctx, id, "system:"+s.config.WorkerID)
	switch {
	case errors.Is(err, ErrAnchorNotRetryable):
		metrics.AnchorRetryTotal.WithLabelValues("conflict").Inc()
	case err != nil:
		metrics.AnchorRetryTotal.WithLabelValues("error").Inc()
		s.logger.ErrorContext(ctx, "anchor retry failed", "dispatch_id", id, "error", err)
	case d.Anchor.Status == AnchorAnchored:
		metrics.AnchorRetryTotal.WithLabelValues("anchored").Inc()
	default:
		metrics.AnchorRetryTotal.WithLabelValues("failed").Inc()
	}
}

func (s *AnchorScheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *AnchorScheduler) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}
