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

// Package challenge 管理员敏感操作前的一次性验证码（step-up）。
//
// 挑战保存在带原生 TTL 的 cache.Store 中：挑战体与尝试计数器是两个同 TTL 的键，
// 计数器先原子自增再比较验证码，超过上限即作废；成功时删除挑战，删除只会有一个调用方成功。
package challenge

import (
	"errors"
	"time"
)

var (
	// ErrChallengeExpired 挑战不存在、已过期或已被使用
	ErrChallengeExpired = errors.New("verification challenge expired, please request a new code")
	// ErrTooManyAttempts 超过尝试上限，挑战已作废
	ErrTooManyAttempts = errors.New("too many attempts, please request a new code")
	// ErrCodeMismatch 验证码错误
	ErrCodeMismatch = errors.New("invalid verification code")
	// ErrResendTooSoon 发送冷却中
	ErrResendTooSoon = errors.New("please wait before requesting another code")
	// ErrTooManySends 一小时内发送次数超限
	ErrTooManySends = errors.New("too many code requests, please try again later")
	// ErrRateLimited 校验请求过于频繁
	ErrRateLimited = errors.New("too many verification requests")
	// ErrNotOwner 挑战签发给了其他账号
	ErrNotOwner = errors.New("challenge was issued to another account")
)

const (
	DefaultTTL             = 5 * time.Minute
	DefaultMaxAttempts     = 5
	DefaultCodeLength      = 6
	DefaultResendCooldown  = 30 * time.Second
	DefaultMaxSendsPerHour = 5
)

// Challenge 存储中的挑战体；验证码只保存 bcrypt 哈希
type Challenge struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actorId"`
	CodeHash  string    `json:"codeHash"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	// Attempts 仅在读取时由计数器键回填
	Attempts int64 `json:"-"`
}

// Issued Create 的返回，不含验证码
type Issued struct {
	ChallengeID    string    `json:"challengeId"`
	DeliveryTarget string    `json:"deliveryTarget"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Config 挑战参数
type Config struct {
	TTL             time.Duration
	MaxAttempts     int
	CodeLength      int
	ResendCooldown  time.Duration
	MaxSendsPerHour int
	// VerifyRPS 单个挑战每秒允许的校验次数，0 表示不限
	VerifyRPS float64
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CodeLength <= 0 {
		c.CodeLength = DefaultCodeLength
	}
	if c.ResendCooldown < 0 {
		c.ResendCooldown = 0
	}
	if c.MaxSendsPerHour < 0 {
		c.MaxSendsPerHour = 0
	}
	return c
}

func challengeKey(id string) string { return "mfa:challenge:" + id }
func attemptsKey(id string) string { return "mfa:challenge:" + id + ":attempts" }
func cooldownKey(actor string) string { return "mfa:cooldown:" + actor }
func sendsKey(actor string) string { return "mfa:sends:" + actor }
