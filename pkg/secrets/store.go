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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound secret 不存在
var ErrNotFound = errors.New("secret not found")

// Store Secret 存储接口；账本签名私钥与证据包签名种子从这里读取
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error

	// Delete 删除 secret
	Delete(ctx context.Context, key string) error

	// List 列出所有 secret keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider string      `mapstructure:"provider"` // env | memory | vault | file
	Env      EnvConfig   `mapstructure:"env"`
	Vault    VaultConfig `mapstructure:"vault"`
	File     FileConfig  `mapstructure:"file"`
}

// NewStore 创建 Secret Store；Provider 为空时使用 env
func NewStore(config Config) (Store, error) {
	switch strings.ToLower(config.Provider) {
	case "", "env":
		return NewEnvStore(config.Env), nil
	case "memory":
		return NewMemoryStore(), nil
	case "vault":
		return NewVaultStore(config.Vault)
	case "file":
		return NewFileStore(config.File)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Provider)
	}
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}
