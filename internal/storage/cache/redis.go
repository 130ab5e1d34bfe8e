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
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrExistingScript 仅当键存在时 INCR，保留原 TTL
var incrExistingScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("INCR", KEYS[1])
end
return false
`)

// incrWithTTLScript INCR，新建时设置毫秒级过期
var incrWithTTLScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisOptions Redis 连接选项
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix 所有键的前缀，Clear 只删除该前缀下的键
	Prefix string
}

// RedisStore 基于 go-redis 的存储实现，过期由 Redis 原生 TTL 负责
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建 Redis 存储并探测连接
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "dispatchledger:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisStoreWithClient 使用已有 client（测试或共享连接）
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) k(key string) string { return s.prefix + key }

// Set 设置值
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if expiration < 0 {
		expiration = 0
	}
	return s.client.Set(ctx, s.k(key), data, expiration).Err()
}

// SetNX 仅在键不存在时设置
func (s *RedisStore) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if expiration < 0 {
		expiration = 0
	}
	return s.client.SetNX(ctx, s.k(key), data, expiration).Result()
}

// Get 读取值
func (s *RedisStore) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := s.client.Get(ctx, s.k(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// Delete 删除键；DEL 返回 1 的调用者唯一
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.k(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exists 检查键是否存在
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.k(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrExisting 自增已存在的计数器
func (s *RedisStore) IncrExisting(ctx context.Context, key string) (int64, error) {
	n, err := incrExistingScript.Run(ctx, s.client, []string{s.k(key)}).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	return n, err
}

// Incr 自增计数器，新建时设置过期
func (s *RedisStore) Incr(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	return incrWithTTLScript.Run(ctx, s.client, []string{s.k(key)}, expiration.Milliseconds()).Int64()
}

// TTL 剩余有效期
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, s.k(key)).Result()
	if err != nil {
		return 0, err
	}
	switch {
	case d == -2*time.Nanosecond || d == -2*time.Millisecond:
		return 0, ErrNotFound
	case d < 0:
		return 0, nil
	}
	return d, nil
}

// Clear 删除前缀下的所有键
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return s.client.Del(ctx, batch...).Err()
	}
	return nil
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
