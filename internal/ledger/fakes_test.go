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
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"dispatch-ledger/pkg/proof"
)

const testKeyHex = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func testNetwork() Network {
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		panic(err)
	}
	return Network{
		Name:            "ganache",
		RPCURL:          "http://127.0.0.1:8545",
		ContractAddress: testContract,
		PrivateKey:      key,
		Signer:          crypto.PubkeyToAddress(key.PublicKey),
		ChainID:         big.NewInt(1337),
		CallTimeout:     time.Second,
		ConfirmTimeout:  2 * time.Second,
	}
}

// fakeChain 内存节点：合约代码、余额与回执
type fakeChain struct {
	mu       sync.Mutex
	code     []byte
	balance  *big.Int
	codeErr  error
	receipts map[common.Hash]*types.Receipt
	// autoMine 为 true 时，提交的交易立即生成成功回执
	autoMine bool
	block    int64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		code:     []byte{0x60, 0x80},
		balance:  big.NewInt(1e18),
		receipts: make(map[common.Hash]*types.Receipt),
		autoMine: true,
		block:    100,
	}
}

func (f *fakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code, f.codeErr
}

func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) mined(tx *types.Transaction, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block++
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(f.block),
	}
}

// fakeContract 内存合约：recorded 集合与交易计数
type fakeContract struct {
	chain *fakeChain

	mu          sync.Mutex
	recorded    map[proof.Digest]bool
	recordedErr error
	submitErr   error
	// markOnFailure 提交失败时仍把记录标记为已存在（模拟并发写入者胜出）
	markOnFailure bool
	txCount       int32
	inFlight      int32
	maxInFlight   int32
	submitDelay   time.Duration

	role    common.Hash
	granted map[common.Address]bool
}

func newFakeContract(chain *fakeChain) *fakeContract {
	return &fakeContract{
		chain:    chain,
		recorded: make(map[proof.Digest]bool),
		role:     VerifierRoleHash,
		granted:  make(map[common.Address]bool),
	}
}

func (f *fakeContract) Recorded(ctx context.Context, h proof.Digest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordedErr != nil {
		return false, f.recordedErr
	}
	return f.recorded[h], nil
}

func (f *fakeContract) RecordTask(ctx context.Context, h proof.RecordHashes) (*types.Transaction, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&f.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxInFlight, cur, n) {
			break
		}
	}
	if f.submitDelay > 0 {
		time.Sleep(f.submitDelay)
	}

	f.mu.Lock()
	if f.submitErr != nil {
		if f.markOnFailure {
			f.recorded[h.Record] = true
		}
		f.mu.Unlock()
		return nil, f.submitErr
	}
	nonce := atomic.AddInt32(&f.txCount, 1)
	f.recorded[h.Record] = true
	f.mu.Unlock()

	tx := types.NewTx(&types.LegacyTx{Nonce: uint64(nonce), To: &testContract, Data: h.Record[:]})
	if f.chain.autoMine {
		f.chain.mined(tx, types.ReceiptStatusSuccessful)
	}
	return tx, nil
}

func (f *fakeContract) VerifierRole(ctx context.Context) (common.Hash, error) {
	return f.role, nil
}

func (f *fakeContract) HasRole(ctx context.Context, role common.Hash, account common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return role == f.role && f.granted[account], nil
}

// rpcDataError 模拟携带回滚数据的 JSON-RPC 错误
type rpcDataError struct {
	msg  string
	data interface{}
}

func (e *rpcDataError) Error() string          { return e.msg }
func (e *rpcDataError) ErrorCode() int         { return 3 }
func (e *rpcDataError) ErrorData() interface{} { return e.data }

var errBoom = errors.New("boom")
