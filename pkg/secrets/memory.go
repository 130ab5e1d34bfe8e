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
	"sort"
	"strings"
	"sync"
)

// memoryStore 进程内 secret store；fileStore 也用它保存运行期覆盖值
type memoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore 创建内存 secret store（测试与本地开发）
func NewMemoryStore() Store {
	return newMemoryStore()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string]string)}
}

func (m *memoryStore) lookup(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// keys 返回 prefix 下的 key，跳过 skip 中已有的
func (m *memoryStore) keys(prefix string, skip map[string]bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) && !skip[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	if v, ok := m.lookup(key); ok {
		return v, nil
	}
	return "", notFound(key)
}

func (m *memoryStore) Set(ctx context.Context, key string, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	return m.keys(prefix, nil), nil
}
