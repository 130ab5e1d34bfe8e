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

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dispatch-ledger/pkg/secrets"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Challenge  ChallengeConfig  `mapstructure:"challenge"`
	Evidence   EvidenceConfig   `mapstructure:"evidence"`
	Secrets    secrets.Config   `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port           int              `mapstructure:"port"`
	Host           string           `mapstructure:"host"`
	Timeout        string           `mapstructure:"timeout"`
	GRPCPort       int              `mapstructure:"grpc_port"`       // gRPC 健康检查端口，0 不启用
	HealthInterval string           `mapstructure:"health_interval"` // 账本健康状态刷新间隔
	Middleware     MiddlewareConfig `mapstructure:"middleware"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth           bool    `mapstructure:"auth"`
	JWTKey         string  `mapstructure:"jwt_key"`
	JWTTimeout     string  `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh  string  `mapstructure:"jwt_max_refresh"` // 如 "1h"
	Audit          bool    `mapstructure:"audit"`
	AuditSalt      string  `mapstructure:"audit_salt"`     // 审计中邮箱哈希的盐
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"` // 每用户每秒请求数，0 不限
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// WorkerConfig 锚定重试 Worker 配置
type WorkerConfig struct {
	ID          string `mapstructure:"id"`
	Concurrency int    `mapstructure:"concurrency"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type     string         `mapstructure:"type"` // memory | postgres
	Postgres PostgresConfig `mapstructure:"postgres"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig Postgres 连接配置
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// CacheConfig 挑战码等短期数据的 TTL 存储
type CacheConfig struct {
	Type          string `mapstructure:"type"`           // memory | redis
	SweepInterval string `mapstructure:"sweep_interval"` // memory 过期清扫间隔
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LedgerConfig 账本网络配置；同一时刻只连接一个网络
type LedgerConfig struct {
	Network         string                         `mapstructure:"network"` // ganache | sepolia
	ContractAddress string                         `mapstructure:"contract_address"`
	CallTimeout     string                         `mapstructure:"call_timeout"`
	ConfirmTimeout  string                         `mapstructure:"confirm_timeout"`
	Networks        map[string]LedgerNetworkConfig `mapstructure:"networks"`
}

// LedgerNetworkConfig 单个网络的节点与签名账户
type LedgerNetworkConfig struct {
	RPCURL     string `mapstructure:"rpc_url"`
	PrivateKey string `mapstructure:"private_key"`
	// PrivateKeySecret 非空时从 secrets store 读取私钥，优先于 PrivateKey
	PrivateKeySecret string `mapstructure:"private_key_secret"`
	ChainID          int64  `mapstructure:"chain_id"` // 0 表示向节点查询
}

// DispatchConfig 派遣核验流程配置
type DispatchConfig struct {
	VerifyTimeout string            `mapstructure:"verify_timeout"`
	AnchorRetry   AnchorRetryConfig `mapstructure:"anchor_retry"`
}

// AnchorRetryConfig 锚定失败后的重试策略
type AnchorRetryConfig struct {
	Policy       string `mapstructure:"policy"`        // manual | background
	MaxAttempts  int    `mapstructure:"max_attempts"`  // 含首次写入
	Backoff      string `mapstructure:"backoff"`       // 两次尝试的最小间隔
	PollInterval string `mapstructure:"poll_interval"` // 扫描间隔
	StalePending string `mapstructure:"stale_pending"` // pending 超过该时长视为中断
	BatchSize    int    `mapstructure:"batch_size"`
}

// ChallengeConfig 管理员二次验证配置
type ChallengeConfig struct {
	TTL                 string  `mapstructure:"ttl"`
	MaxAttempts         int     `mapstructure:"max_attempts"`
	CodeLength          int     `mapstructure:"code_length"`
	ResendCooldown      string  `mapstructure:"resend_cooldown"`
	MaxSendsPerHour     int     `mapstructure:"max_sends_per_hour"`
	VerifyRPS           float64 `mapstructure:"verify_rps"`            // 每个挑战的校验速率上限
	StepUpTTL           string  `mapstructure:"step_up_ttl"`           // 提权后 token 有效期
	DeliveryWebhook     string  `mapstructure:"delivery_webhook"`      // 验证码中继地址，为空时只记录日志
	DeliveryTokenSecret string  `mapstructure:"delivery_token_secret"` // 中继 Bearer token 的 secret key
}

// EvidenceConfig 证据包签名配置
type EvidenceConfig struct {
	SigningKeyID string `mapstructure:"signing_key_id"` // 为空则不签名
	SecretPrefix string `mapstructure:"secret_prefix"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// legacyEnv 部署脚本沿用的环境变量名
var legacyEnv = map[string]string{
	"ledger.network":                      "CHAIN_ENV",
	"ledger.contract_address":             "TASK_LEDGER_CONTRACT_ADDRESS",
	"ledger.networks.ganache.rpc_url":     "GANACHE_RPC_URL",
	"ledger.networks.ganache.private_key": "GANACHE_PRIVATE_KEY",
	"ledger.networks.sepolia.rpc_url":     "SEPOLIA_RPC_URL",
	"ledger.networks.sepolia.private_key": "SEPOLIA_PRIVATE_KEY",
	"storage.postgres.dsn":                "DATABASE_URL",
	"storage.redis.addr":                  "REDIS_ADDR",
	"api.middleware.jwt_key":              "JWT_SECRET",
	"monitoring.tracing.export_endpoint":  "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.health_interval", "30s")
	v.SetDefault("api.middleware.auth", true)
	v.SetDefault("api.middleware.jwt_timeout", "1h")
	v.SetDefault("api.middleware.jwt_max_refresh", "1h")
	v.SetDefault("api.middleware.audit", true)
	v.SetDefault("api.middleware.rate_limit_rps", 20)
	v.SetDefault("api.middleware.rate_limit_burst", 40)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.cache.type", "memory")
	v.SetDefault("storage.cache.sweep_interval", "30s")
	v.SetDefault("ledger.network", "ganache")
	v.SetDefault("ledger.call_timeout", "15s")
	v.SetDefault("ledger.confirm_timeout", "2m")
	v.SetDefault("dispatch.verify_timeout", "3m")
	v.SetDefault("dispatch.anchor_retry.policy", "manual")
	v.SetDefault("dispatch.anchor_retry.max_attempts", 5)
	v.SetDefault("dispatch.anchor_retry.backoff", "1m")
	v.SetDefault("dispatch.anchor_retry.poll_interval", "30s")
	v.SetDefault("dispatch.anchor_retry.stale_pending", "10m")
	v.SetDefault("dispatch.anchor_retry.batch_size", 20)
	v.SetDefault("challenge.ttl", "5m")
	v.SetDefault("challenge.max_attempts", 5)
	v.SetDefault("challenge.code_length", 6)
	v.SetDefault("challenge.resend_cooldown", "30s")
	v.SetDefault("challenge.max_sends_per_hour", 5)
	v.SetDefault("challenge.verify_rps", 1)
	v.SetDefault("challenge.step_up_ttl", "15m")
	v.SetDefault("evidence.secret_prefix", "evidence/")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.tracing.service_name", "dispatch-ledger")
}

// LoadConfig 加载配置文件；configPath 为空时只读取默认值与环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验跨字段约束
func (c *Config) Validate() error {
	switch c.Dispatch.AnchorRetry.Policy {
	case "manual", "background":
	default:
		return fmt.Errorf("dispatch.anchor_retry.policy must be manual or background, got %q", c.Dispatch.AnchorRetry.Policy)
	}
	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required when storage.type=postgres")
		}
	default:
		return fmt.Errorf("unsupported storage.type %q", c.Storage.Type)
	}
	if c.Challenge.MaxAttempts <= 0 {
		return fmt.Errorf("challenge.max_attempts must be positive")
	}
	return nil
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 配置（configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}

// ParseDuration 解析配置中的时长，空或非法时返回 def
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
