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
	"time"
)

// ErrNotFound 键不存在或已过期
var ErrNotFound = errors.New("cache: key not found")

// Store 带原生 TTL 的键值存储。过期由存储自身负责，调用方不做读时过期判断。
type Store interface {
	// Set 设置值（JSON 序列化），expiration<=0 表示不过期
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// SetNX 仅在键不存在时设置，返回是否设置成功
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	// Get 读取并反序列化到 dest；不存在返回 ErrNotFound
	Get(ctx context.Context, key string, dest interface{}) error
	// Delete 删除键，返回键删除前是否存在；并发删除同一键时只有一个调用返回 true
	Delete(ctx context.Context, key string) (bool, error)
	// Exists 检查键是否存在
	Exists(ctx context.Context, key string) (bool, error)
	// IncrExisting 原子自增已存在的计数器，保留原 TTL；键不存在返回 ErrNotFound
	IncrExisting(ctx context.Context, key string) (int64, error)
	// Incr 原子自增计数器；键为新建时设置 expiration
	Incr(ctx context.Context, key string, expiration time.Duration) (int64, error)
	// TTL 剩余有效期；不存在返回 ErrNotFound，不过期返回 0
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Clear 清除所有键
	Clear(ctx context.Context) error
	// Close 关闭连接
	Close() error
}
