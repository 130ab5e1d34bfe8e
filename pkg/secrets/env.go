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
	"os"
	"strings"
)

// EnvConfig 环境变量 store 配置
type EnvConfig struct {
	// Prefix 附加在 key 前，key 中的 "/" "." "-" 转为 "_" 并大写
	Prefix string `mapstructure:"prefix"`
}

type envStore struct {
	prefix string
}

// NewEnvStore 创建环境变量 secret store
func NewEnvStore(config EnvConfig) Store {
	return &envStore{prefix: config.Prefix}
}

var envKeyReplacer = strings.NewReplacer("/", "_", ".", "_", "-", "_")

func (e *envStore) name(key string) string {
	return strings.ToUpper(envKeyReplacer.Replace(e.prefix + key))
}

func (e *envStore) Get(ctx context.Context, key string) (string, error) {
	value, ok := os.LookupEnv(e.name(key))
	if !ok || value == "" {
		return "", notFound(e.name(key))
	}
	return value, nil
}

func (e *envStore) Set(ctx context.Context, key string, value string) error {
	return os.Setenv(e.name(key), value)
}

func (e *envStore) Delete(ctx context.Context, key string) error {
	return os.Unsetenv(e.name(key))
}

func (e *envStore) List(ctx context.Context, prefix string) ([]string, error) {
	want := e.name(prefix)
	var keys []string
	for _, env := range os.Environ() {
		name, _, _ := strings.Cut(env, "=")
		if strings.HasPrefix(name, want) {
			keys = append(keys, name)
		}
	}
	return keys, nil
}
