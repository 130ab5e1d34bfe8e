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
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-ledger/pkg/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemoryStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clock.Now
	return s, clock
}

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore()
	defer s.Close()

	type entry struct {
		Email string `json:"email"`
		Hash  string `json:"hash"`
	}
	require.NoError(t, s.Set(ctx, "k", entry{Email: "a@example.com", Hash: "h"}, time.Minute))

	var got entry
	require.NoError(t, s.Get(ctx, "k", &got))
	assert.Equal(t, "a@example.com", got.Email)

	err := s.Get(ctx, "missing", &got)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "short", "v", time.Minute))
	require.NoError(t, s.Set(ctx, "forever", "v", 0))

	ttl, err := s.TTL(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	clock.Advance(time.Minute)

	var v string
	assert.ErrorIs(t, s.Get(ctx, "short", &v), ErrNotFound)
	ok, err := s.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err = s.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a", 1, time.Second))
	require.NoError(t, s.Set(ctx, "b", 1, time.Hour))
	assert.Equal(t, 2, s.Len())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_DeleteOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "challenge", "x", time.Minute))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Delete(ctx, "challenge")
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMemoryStore_IncrExisting(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStore()
	defer s.Close()

	_, err := s.IncrExisting(ctx, "attempts")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "attempts", 0, time.Minute))
	n, err := s.IncrExisting(ctx, "attempts")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.IncrExisting(ctx, "attempts")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// 自增不延长有效期
	clock.Advance(time.Minute)
	_, err = s.IncrExisting(ctx, "attempts")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "text", "abc", 0))
	_, err = s.IncrExisting(ctx, "text")
	assert.Error(t, err)
}

func TestMemoryStore_Incr(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStore()
	defer s.Close()

	n, err := s.Incr(ctx, "sends", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	clock.Advance(30 * time.Minute)
	n, err = s.Incr(ctx, "sends", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ttl, err := s.TTL(ctx, "sends")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, ttl)

	clock.Advance(30 * time.Minute)
	n, err = s.Incr(ctx, "sends", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_SetNX(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStore()
	defer s.Close()

	ok, err := s.SetNX(ctx, "cooldown", true, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "cooldown", true, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(30 * time.Second)
	ok, err = s.SetNX(ctx, "cooldown", true, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_ClearAndClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.StartJanitor(10 * time.Millisecond)
	s.StartJanitor(10 * time.Millisecond)

	require.NoError(t, s.Set(ctx, "a", 1, 0))
	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(RedisOptions{Addr: addr, Prefix: "dispatchledger-test:"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Clear(ctx))

	require.NoError(t, s.Set(ctx, "attempts", 0, time.Minute))
	n, err := s.IncrExisting(ctx, "attempts")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.IncrExisting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err = s.Incr(ctx, "sends", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	ttl, err := s.TTL(ctx, "sends")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	ok, err := s.Delete(ctx, "attempts")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "attempts")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.TTL(ctx, "attempts")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Clear(ctx))
}

func TestNewCache(t *testing.T) {
	s, err := NewCache(config.StorageConfig{Cache: config.CacheConfig{Type: "memory"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewCache(config.StorageConfig{Cache: config.CacheConfig{Type: "bogus"}})
	assert.Error(t, err)
}
