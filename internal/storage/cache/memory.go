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

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

const defaultSweepInterval = 30 * time.Second

// MemoryStore 内存存储实现；过期项由后台清扫 goroutine 删除，读取时同样视为不存在
type MemoryStore struct {
	items map[string]*cacheItem
	mu    sync.Mutex
	now   func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// cacheItem 缓存项
type cacheItem struct {
	value     []byte
	expiresAt time.Time // 零值表示不过期
}

func (it *cacheItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

// NewMemoryStore 创建新的内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*cacheItem),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
}

// StartJanitor 启动后台清扫，Close 时停止；重复调用无效
func (s *MemoryStore) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Sweep 删除所有已过期项，返回删除数量
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, it := range s.items {
		if it.expired(now) {
			delete(s.items, k)
			n++
		}
	}
	return n
}

// live 返回未过期项；过期项顺带删除。调用方持有锁。
func (s *MemoryStore) live(key string) (*cacheItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if it.expired(s.now()) {
		delete(s.items, key)
		return nil, false
	}
	return it, true
}

func (s *MemoryStore) expiry(expiration time.Duration) time.Time {
	if expiration <= 0 {
		return time.Time{}
	}
	return s.now().Add(expiration)
}

// Set 设置值
func (s *MemoryStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = &cacheItem{value: data, expiresAt: s.expiry(expiration)}
	return nil
}

// SetNX 仅在键不存在时设置
func (s *MemoryStore) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cache value: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.items[key] = &cacheItem{value: data, expiresAt: s.expiry(expiration)}
	return true, nil
}

// Get 读取值
func (s *MemoryStore) Get(ctx context.Context, key string, dest interface{}) error {
	s.mu.Lock()
	it, ok := s.live(key)
	var data []byte
	if ok {
		data = it.value
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// Delete 删除键
func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); !ok {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// Exists 检查键是否存在
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	return ok, nil
}

// IncrExisting 自增已存在的计数器
func (s *MemoryStore) IncrExisting(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if !ok {
		return 0, ErrNotFound
	}
	return incrItem(key, it)
}

// Incr 自增计数器，新建时设置过期
func (s *MemoryStore) Incr(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if !ok {
		it = &cacheItem{value: []byte("0"), expiresAt: s.expiry(expiration)}
		s.items[key] = it
	}
	return incrItem(key, it)
}

func incrItem(key string, it *cacheItem) (int64, error) {
	n, err := strconv.ParseInt(string(it.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache value at %s is not an integer", key)
	}
	n++
	it.value = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

// TTL 剩余有效期
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if !ok {
		return 0, ErrNotFound
	}
	if it.expiresAt.IsZero() {
		return 0, nil
	}
	return it.expiresAt.Sub(s.now()), nil
}

// Clear 清除所有键
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*cacheItem)
	return nil
}

// Close 停止后台清扫
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

// Len 当前项数（含尚未清扫的过期项）
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
