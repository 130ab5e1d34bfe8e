// Copyright 2026 fanjia1024
// HashiCorp Vault secret store (KV v1 / v2)

package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig Vault 配置
type VaultConfig struct {
	Address    string `mapstructure:"address"`     // Vault server address (e.g., http://vault:8200)
	Token      string `mapstructure:"token"`       // Vault token
	Mount      string `mapstructure:"mount"`       // KV mount (e.g., "secret")
	KVVersion  int    `mapstructure:"kv_version"`  // 1 或 2，默认 2
	SkipHealth bool   `mapstructure:"skip_health"` // 创建时不探测 /sys/health
}

type vaultStore struct {
	client *vault.Client
	mount  string
	kvV2   bool
}

// NewVaultStore 创建 Vault secret store
func NewVaultStore(config VaultConfig) (Store, error) {
	cfg := vault.DefaultConfig()
	if config.Address != "" {
		cfg.Address = config.Address
	}

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if config.Token != "" {
		client.SetToken(config.Token)
	}

	if !config.SkipHealth {
		if _, err := client.Sys().Health(); err != nil {
			return nil, fmt.Errorf("failed to connect to vault: %w", err)
		}
	}

	mount := strings.Trim(config.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	return &vaultStore{
		client: client,
		mount:  mount,
		kvV2:   config.KVVersion != 1,
	}, nil
}

func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.dataPath(key))
	if err != nil {
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", notFound(key)
	}

	data := secret.Data
	if v.kvV2 {
		inner, ok := secret.Data["data"].(map[string]interface{})
		if !ok {
			return "", notFound(key)
		}
		data = inner
	}
	if val, ok := data["value"].(string); ok {
		return val, nil
	}
	for _, val := range data {
		if str, ok := val.(string); ok {
			return str, nil
		}
	}
	return "", fmt.Errorf("secret value not found: %s", key)
}

func (v *vaultStore) Set(ctx context.Context, key string, value string) error {
	data := map[string]interface{}{"value": value}
	if v.kvV2 {
		data = map[string]interface{}{"data": data}
	}
	if _, err := v.client.Logical().WriteWithContext(ctx, v.dataPath(key), data); err != nil {
		return fmt.Errorf("failed to write secret to vault: %w", err)
	}
	return nil
}

func (v *vaultStore) Delete(ctx context.Context, key string) error {
	path := v.dataPath(key)
	if v.kvV2 {
		path = v.metadataPath(key)
	}
	if _, err := v.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete secret from vault: %w", err)
	}
	return nil
}

func (v *vaultStore) List(ctx context.Context, prefix string) ([]string, error) {
	path := v.mount + "/" + strings.Trim(prefix, "/")
	if v.kvV2 {
		path = v.metadataPath(prefix)
	}
	secret, err := v.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets from vault: %w", err)
	}
	if secret == nil {
		return nil, nil
	}
	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	var result []string
	for _, k := range keys {
		if str, ok := k.(string); ok {
			full := str
			if prefix != "" && !strings.HasPrefix(str, prefix) {
				full = strings.TrimSuffix(prefix, "/") + "/" + str
			}
			result = append(result, full)
		}
	}
	return result, nil
}

func (v *vaultStore) dataPath(key string) string {
	if v.kvV2 {
		return fmt.Sprintf("%s/data/%s", v.mount, strings.TrimPrefix(key, "/"))
	}
	return fmt.Sprintf("%s/%s", v.mount, strings.TrimPrefix(key, "/"))
}

func (v *vaultStore) metadataPath(key string) string {
	return fmt.Sprintf("%s/metadata/%s", v.mount, strings.TrimPrefix(key, "/"))
}
