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

package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"dispatch-ledger/pkg/canonical"
)

var (
	// ErrMisconfigured 网络、合约地址或签名私钥缺失/非法，或地址上没有合约代码
	ErrMisconfigured = errors.New("ledger misconfigured")
	// ErrInsufficientFunds 签名账户余额为零或不足以支付 gas
	ErrInsufficientFunds = errors.New("ledger signer has insufficient funds")
	// ErrUnauthorizedSigner 签名账户缺少合约要求的角色
	ErrUnauthorizedSigner = errors.New("ledger signer unauthorized")
	// ErrWriteFailed 交易被拒绝或执行回滚
	ErrWriteFailed = errors.New("ledger write failed")
	// ErrConfirmationTimeout 已提交但在超时内未确认，结果未知
	ErrConfirmationTimeout = errors.New("ledger confirmation timed out")
	// ErrConfirmationIncomplete 回执缺少区块号
	ErrConfirmationIncomplete = errors.New("ledger confirmation incomplete")
	// ErrUnavailable 节点不可达或读取失败
	ErrUnavailable = errors.New("ledger node unavailable")
)

// UnauthorizedSignerError 合约 AccessControlUnauthorizedAccount 回滚的解码结果
type UnauthorizedSignerError struct {
	Account  common.Address
	Role     common.Hash
	RoleName string
	Contract common.Address
}

func (e *UnauthorizedSignerError) Error() string {
	return fmt.Sprintf("unauthorized signer %s (missing role %s). Have the contract admin call grantVerifier(%s) on %s.",
		e.Account.Hex(), e.RoleName, e.Account.Hex(), e.Contract.Hex())
}

// Is 使 errors.Is(err, ErrUnauthorizedSigner) 成立
func (e *UnauthorizedSignerError) Is(target error) bool {
	return target == ErrUnauthorizedSigner
}

// Retryable 是否值得稍后重试。配置类错误（合约缺失、权限、余额）需要人工介入，不重试。
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrMisconfigured),
		errors.Is(err, ErrUnauthorizedSigner),
		errors.Is(err, ErrInsufficientFunds):
		return false
	case errors.Is(err, ErrConfirmationTimeout),
		errors.Is(err, ErrConfirmationIncomplete),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrWriteFailed):
		return true
	}
	return false
}

// Kind 错误类别，用于指标标签与锚定注记
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMisconfigured):
		return "misconfigured"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrUnauthorizedSigner):
		return "unauthorized_signer"
	case errors.Is(err, ErrConfirmationTimeout):
		return "confirmation_timeout"
	case errors.Is(err, ErrConfirmationIncomplete):
		return "confirmation_incomplete"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrWriteFailed):
		return "write_failed"
	}
	if errors.Is(err, canonical.ErrInvalidNumber) || errors.Is(err, canonical.ErrUnsupportedValue) {
		return "canonicalization"
	}
	return "unknown"
}
