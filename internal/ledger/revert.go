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
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// 已知角色哈希
var (
	VerifierRoleHash     = crypto.Keccak256Hash([]byte("VERIFIER_ROLE"))
	DefaultAdminRoleHash = common.Hash{}
)

// RoleName 将角色哈希映射为可读名称，未知角色返回十六进制
func RoleName(role common.Hash) string {
	switch role {
	case VerifierRoleHash:
		return "VERIFIER_ROLE"
	case DefaultAdminRoleHash:
		return "DEFAULT_ADMIN_ROLE"
	}
	return role.Hex()
}

var hexBlob = regexp.MustCompile(`0x[0-9a-fA-F]{16,}`)

// sanitizeMessage 去除传输层消息中的原始十六进制数据
func sanitizeMessage(msg string) string {
	msg = hexBlob.ReplaceAllString(msg, "<data>")
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "unknown error"
	}
	return msg
}

// revertData 从 JSON-RPC 错误中取出回滚数据
func revertData(err error) ([]byte, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}
	switch data := de.ErrorData().(type) {
	case string:
		b, err := hexutil.Decode(data)
		if err != nil {
			return nil, false
		}
		return b, true
	case []byte:
		return data, true
	}
	return nil, false
}

// DecodeRevert 将提交/模拟阶段的错误翻译为账本错误类别：
// AccessControlUnauthorizedAccount 解码为 *UnauthorizedSignerError，
// 其它具名合约错误与 Error(string)/Panic(uint256) 给出原因，无法解码时返回去除十六进制后的传输消息。
func DecodeRevert(err error, contract common.Address) error {
	if err == nil {
		return nil
	}
	if data, ok := revertData(err); ok && len(data) >= 4 {
		if decoded := decodeRevertData(data, contract); decoded != nil {
			return decoded
		}
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "insufficient funds") {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, sanitizeMessage(msg))
	}
	return fmt.Errorf("%w: %s", ErrWriteFailed, sanitizeMessage(msg))
}

func decodeRevertData(data []byte, contract common.Address) error {
	selector := data[:4]
	for name, abiErr := range ParsedABI.Errors {
		if !bytes.Equal(abiErr.ID[:4], selector) {
			continue
		}
		if name == "AccessControlUnauthorizedAccount" {
			if ue := decodeUnauthorized(abiErr, data, contract); ue != nil {
				return ue
			}
		}
		return fmt.Errorf("%w: execution reverted (%s)", ErrWriteFailed, name)
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return fmt.Errorf("%w: execution reverted: %s", ErrWriteFailed, reason)
	}
	return nil
}

func decodeUnauthorized(abiErr abi.Error, data []byte, contract common.Address) *UnauthorizedSignerError {
	vals, err := abiErr.Inputs.Unpack(data[4:])
	if err != nil || len(vals) != 2 {
		return nil
	}
	account, ok := vals[0].(common.Address)
	if !ok {
		return nil
	}
	role, ok := vals[1].([32]byte)
	if !ok {
		return nil
	}
	return &UnauthorizedSignerError{
		Account:  account,
		Role:     common.Hash(role),
		RoleName: RoleName(common.Hash(role)),
		Contract: contract,
	}
}
