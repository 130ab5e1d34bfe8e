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
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// verifyLimiter 按挑战维度限制校验速率，挑战过期后清理
type verifyLimiter struct {
	mu       sync.Mutex
	rps      float64
	burst    int
	limiters map[string]*limiterEntry
	now      func() time.Time
}

type limiterEntry struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func newVerifyLimiter(rps float64, now func() time.Time) *verifyLimiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps * 2) // burst = 2 秒的配额
	if burst < 1 {
		burst = 1
	}
	return &verifyLimiter{
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
		now:      now,
	}
}

// Allow 是否允许本次校验；nil 限流器总是允许
func (l *verifyLimiter) Allow(challengeID string, ttl time.Duration) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, e := range l.limiters {
		if now.After(e.expiresAt) {
			delete(l.limiters, id)
		}
	}
	e, ok := l.limiters[challengeID]
	if !ok {
		e = &limiterEntry{
			limiter:   rate.NewLimiter(rate.Limit(l.rps), l.burst),
			expiresAt: now.Add(ttl),
		}
		l.limiters[challengeID] = e
	}
	return e.limiter.AllowN(now, 1)
}

func (l *verifyLimiter) forget(challengeID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.limiters, challengeID)
	l.mu.Unlock()
}
