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

// Package signature 为导出的证据包清单签名（Ed25519）
package signature

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"

	"dispatch-ledger/pkg/secrets"
)

// KeyStore 签名密钥存储接口
type KeyStore interface {
	// GetSigningKey 获取签名私钥
	GetSigningKey(ctx context.Context, keyID string) (ed25519.PrivateKey, error)

	// GetVerifyKey 获取验证公钥
	GetVerifyKey(ctx context.Context, keyID string) (ed25519.PublicKey, error)
}

// Signer 签名器
type Signer struct {
	keyStore KeyStore
	keyID    string
}

// NewSigner 创建签名器
func NewSigner(keyStore KeyStore, keyID string) *Signer {
	return &Signer{keyStore: keyStore, keyID: keyID}
}

// KeyID 签名密钥 ID
func (s *Signer) KeyID() string { return s.keyID }

// SignPackage 签名证据包
// 返回格式: "ed25519:<keyID>:<base64_signature>"
func (s *Signer) SignPackage(ctx context.Context, packageData []byte) (string, error) {
	privKey, err := s.keyStore.GetSigningKey(ctx, s.keyID)
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}
	sig := ed25519.Sign(privKey, packageData)
	return fmt.Sprintf("ed25519:%s:%s", s.keyID, base64.StdEncoding.EncodeToString(sig)), nil
}

// ParseSignature 解析 "ed25519:<keyID>:<base64>" 格式
func ParseSignature(signatureStr string) (keyID string, sig []byte, err error) {
	parts := strings.SplitN(signatureStr, ":", 3)
	if len(parts) != 3 || parts[0] != "ed25519" {
		return "", nil, fmt.Errorf("unsupported signature format")
	}
	sig, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	return parts[1], sig, nil
}

// VerifyPackage 验证证据包签名
func VerifyPackage(packageData []byte, signatureStr string, pubKey ed25519.PublicKey) bool {
	_, sig, err := ParseSignature(signatureStr)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pubKey, packageData, sig)
}

// MemoryKeyStore 内存密钥存储（用于开发和测试）
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

// NewMemoryKeyStore 创建内存密钥存储
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]ed25519.PrivateKey)}
}

// GenerateKey 生成新密钥对
func (m *MemoryKeyStore) GenerateKey(ctx context.Context, keyID string) error {
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.keys[keyID] = privKey
	m.mu.Unlock()
	return nil
}

// GetSigningKey 获取签名私钥
func (m *MemoryKeyStore) GetSigningKey(ctx context.Context, keyID string) (ed25519.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", keyID)
	}
	return k, nil
}

// GetVerifyKey 获取验证公钥
func (m *MemoryKeyStore) GetVerifyKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	k, err := m.GetSigningKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return k.Public().(ed25519.PublicKey), nil
}

// ListKeys 列出所有密钥
func (m *MemoryKeyStore) ListKeys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.keys))
	for keyID := range m.keys {
		keys = append(keys, keyID)
	}
	sort.Strings(keys)
	return keys, nil
}

// SecretsKeyStore 从 secrets.Store 读取 base64 编码的 32 字节 Ed25519 种子，
// key 为 <prefix><keyID>
type SecretsKeyStore struct {
	store  secrets.Store
	prefix string
}

// NewSecretsKeyStore 创建基于 secrets 的密钥存储
func NewSecretsKeyStore(store secrets.Store, prefix string) *SecretsKeyStore {
	return &SecretsKeyStore{store: store, prefix: prefix}
}

// GetSigningKey 获取签名私钥
func (s *SecretsKeyStore) GetSigningKey(ctx context.Context, keyID string) (ed25519.PrivateKey, error) {
	raw, err := s.store.Get(ctx, s.prefix+keyID)
	if err != nil {
		return nil, err
	}
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("signing seed %s: %w", keyID, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed %s: want %d bytes, got %d", keyID, ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// GetVerifyKey 获取验证公钥
func (s *SecretsKeyStore) GetVerifyKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	k, err := s.GetSigningKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return k.Public().(ed25519.PublicKey), nil
}
