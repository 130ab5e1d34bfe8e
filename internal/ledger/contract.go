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
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dispatch-ledger/pkg/proof"
)

// contractABI 账本合约对外接口（仅本服务使用的部分）
const contractABI = `[
	{"type":"function","name":"recordTask","stateMutability":"nonpayable","inputs":[
		{"name":"recordHash","type":"bytes32"},
		{"name":"dispatchIdHash","type":"bytes32"},
		{"name":"emergencyIdHash","type":"bytes32"},
		{"name":"volunteerIdHash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"recorded","stateMutability":"view","inputs":[
		{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"VERIFIER_ROLE","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"hasRole","stateMutability":"view","inputs":[
		{"name":"role","type":"bytes32"},
		{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"grantVerifier","stateMutability":"nonpayable","inputs":[
		{"name":"account","type":"address"}],"outputs":[]},
	{"type":"error","name":"AccessControlUnauthorizedAccount","inputs":[
		{"name":"account","type":"address"},
		{"name":"neededRole","type":"bytes32"}]}
]`

// ParsedABI 解析后的合约 ABI
var ParsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		panic(fmt.Sprintf("ledger: invalid contract abi: %v", err))
	}
	return parsed
}

// Chain 账本节点的只读能力与回执查询；满足 bind.DeployBackend
type Chain interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Contract 账本合约调用
type Contract interface {
	Recorded(ctx context.Context, recordHash proof.Digest) (bool, error)
	RecordTask(ctx context.Context, hashes proof.RecordHashes) (*types.Transaction, error)
	VerifierRole(ctx context.Context) (common.Hash, error)
	HasRole(ctx context.Context, role common.Hash, account common.Address) (bool, error)
}

// boundContract 基于 go-ethereum bind.BoundContract 的合约实现
type boundContract struct {
	bc   *bind.BoundContract
	auth *bind.TransactOpts
}

// NewBoundContract 绑定合约；auth 为签名账户的交易选项
func NewBoundContract(address common.Address, backend bind.ContractBackend, auth *bind.TransactOpts) Contract {
	return &boundContract{
		bc:   bind.NewBoundContract(address, ParsedABI, backend, backend, backend),
		auth: auth,
	}
}

func (c *boundContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bc.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

func (c *boundContract) Recorded(ctx context.Context, recordHash proof.Digest) (bool, error) {
	out, err := c.call(ctx, "recorded", [32]byte(recordHash))
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("recorded returned %T", out[0])
	}
	return v, nil
}

func (c *boundContract) RecordTask(ctx context.Context, h proof.RecordHashes) (*types.Transaction, error) {
	opts := *c.auth
	opts.Context = ctx
	return c.bc.Transact(&opts, "recordTask",
		[32]byte(h.Record), [32]byte(h.Dispatch), [32]byte(h.Emergency), [32]byte(h.Volunteer))
}

func (c *boundContract) VerifierRole(ctx context.Context) (common.Hash, error) {
	out, err := c.call(ctx, "VERIFIER_ROLE")
	if err != nil {
		return common.Hash{}, err
	}
	v, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("VERIFIER_ROLE returned %T", out[0])
	}
	return common.Hash(v), nil
}

func (c *boundContract) HasRole(ctx context.Context, role common.Hash, account common.Address) (bool, error) {
	out, err := c.call(ctx, "hasRole", [32]byte(role), account)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("hasRole returned %T", out[0])
	}
	return v, nil
}
