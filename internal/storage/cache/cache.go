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
	"fmt"

	"dispatch-ledger/pkg/config"
)

// NewCache 根据配置创建带 TTL 的短期存储（挑战码、限流计数）
func NewCache(cfg config.StorageConfig) (Store, error) {
	switch cfg.Cache.Type {
	case "", "memory":
		s := NewMemoryStore()
		s.StartJanitor(config.ParseDuration(cfg.Cache.SweepInterval, defaultSweepInterval))
		return s, nil
	case "redis":
		return NewRedisStore(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Cache.Type)
	}
}
