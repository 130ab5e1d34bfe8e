// Copyright 2026 fanjia1024
// Mounted-file secret store (docker/kubernetes secret volumes)

package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileConfig 文件 secret store 配置
type FileConfig struct {
	// Dir 挂载目录，每个 key 对应一个文件；默认 /run/secrets
	Dir string `mapstructure:"dir"`
}

// fileStore 挂载卷通常只读，Set/Delete 只作用于进程内覆盖值
type fileStore struct {
	dir       string
	overrides *memoryStore
}

// NewFileStore 创建文件 secret store
func NewFileStore(config FileConfig) (Store, error) {
	dir := config.Dir
	if dir == "" {
		dir = "/run/secrets"
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("secrets dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets dir %s is not a directory", dir)
	}
	return &fileStore{dir: dir, overrides: newMemoryStore()}, nil
}

func (f *fileStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	return filepath.Join(f.dir, clean), nil
}

func (f *fileStore) Get(ctx context.Context, key string) (string, error) {
	if val, ok := f.overrides.lookup(key); ok {
		return val, nil
	}

	p, err := f.path(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", notFound(key)
	}
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", key, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func (f *fileStore) Set(ctx context.Context, key string, value string) error {
	return f.overrides.Set(ctx, key, value)
}

func (f *fileStore) Delete(ctx context.Context, key string) error {
	return f.overrides.Delete(ctx, key)
}

func (f *fileStore) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]bool)
	var keys []string
	err := filepath.WalkDir(f.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(f.dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	return append(keys, f.overrides.keys(prefix, seen)...), nil
}
