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
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-ledger/pkg/canonical"
	"dispatch-ledger/pkg/proof"
)

func payload(id string) proof.RecordPayload {
	done := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return proof.RecordPayload{
		DispatchID:  id,
		EmergencyID: "e1",
		VolunteerID: "v1",
		CompletedAt: &done,
		ProofURLs:   []string{"b", "a"},
	}
}

func newTestClient(t *testing.T) (*Client, *fakeChain, *fakeContract) {
	t.Helper()
	chain := newFakeChain()
	contract := newFakeContract(chain)
	fixed := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	c := NewClient(testNetwork(), chain, contract, WithClock(func() time.Time { return fixed }))
	return c, chain, contract
}

func TestRecordVerifiedEvent_Written(t *testing.T) {
	c, _, contract := newTestClient(t)

	res, err := c.RecordVerifiedEvent(context.Background(), payload("d1"))
	require.NoError(t, err)

	want, _ := proof.RecordHash(payload("d1"))
	assert.Equal(t, OutcomeWritten, res.Outcome)
	assert.Equal(t, want.Hex(), res.Record.RecordHash)
	assert.Equal(t, "ganache", res.Record.Network)
	assert.Equal(t, testContract.Hex(), res.Record.ContractAddress)
	require.NotNil(t, res.Record.BlockNumber)
	assert.Equal(t, uint64(101), *res.Record.BlockNumber)
	assert.True(t, strings.HasPrefix(res.Record.TxHash, "0x"))
	assert.Equal(t, int32(1), contract.txCount)
}

func TestRecordVerifiedEvent_Idempotent(t *testing.T) {
	c, _, contract := newTestClient(t)
	ctx := context.Background()

	first, err := c.RecordVerifiedEvent(ctx, payload("d1"))
	require.NoError(t, err)
	second, err := c.RecordVerifiedEvent(ctx, payload("d1"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeWritten, first.Outcome)
	assert.Equal(t, OutcomeAlreadyRecorded, second.Outcome)
	assert.Equal(t, AlreadyRecordedTxHash, second.Record.TxHash)
	assert.Nil(t, second.Record.BlockNumber)
	assert.Equal(t, first.Record.RecordHash, second.Record.RecordHash)
	assert.Equal(t, int32(1), contract.txCount, "exactly one transaction across two calls")
}

func TestRecordVerifiedEvent_NoContractCode(t *testing.T) {
	c, chain, contract := newTestClient(t)
	chain.code = nil

	_, err := c.RecordVerifiedEvent(context.Background(), payload("d1"))
	require.ErrorIs(t, err, ErrMisconfigured)
	assert.False(t, Retryable(err))
	assert.Equal(t, int32(0), contract.txCount)
}

func TestRecordVerifiedEvent_ZeroBalance(t *testing.T) {
	c, chain, contract := newTestClient(t)
	chain.balance = big.NewInt(0)

	_, err := c.RecordVerifiedEvent(context.Background(), payload("d1"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int32(0), contract.txCount)
}

func TestRecordVerifiedEvent_NodeUnavailable(t *testing.T) {
	c, chain, _ := newTestClient(t)
	chain.codeErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")

	_, err := c.RecordVerifiedEvent(context.Background(), payload("d1"))
	require.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, Retryable(err))
}

func TestRecordVerifiedEvent_RecordedReadFailureProceeds(t *testing.T) {
	c, _, contract := newTestClient(t)
	contract.recordedErr = errBoom

	res, err := c.RecordVerifiedEvent(context.Background(), payload("d1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeWritten, res.Outcome)
	assert.Equal(t, int32(1), contract.txCount)
}

func unauthorizedRevert(t *testing.T, account common.Address, role common.Hash) []byte {
	t.Helper()
	abiErr := ParsedABI.Errors["AccessControlUnauthorizedAccount"]
	packed, err := abiErr.Inputs.Pack(account, [32]byte(role))
	require.NoError(t, err)
	return append(append([]byte{}, abiErr.ID[:4]...), packed...)
}

func TestRecordVerifiedEvent_UnauthorizedSignerDecoded(t *testing.T) {
	c, _, contract := newTestClient(t)
	signer := c.Network().Signer
	data := unauthorizedRevert(t, signer, VerifierRoleHash)
	contract.submitErr = &rpcDataError{msg: "execution reverted", data: hexutil.Encode(data)}

	_, err := c.RecordVerifiedEvent(context.Background(), payload("d1"))
	require.ErrorIs(t, err, ErrUnauthorizedSigner)

	var ue *UnauthorizedSignerError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, signer, ue.Account)
	assert.Equal(t, "VERIFIER_ROLE", ue.RoleName)

	msg := err.Error()
	assert.Contains(t, msg, signer.Hex())
	assert.Contains(t, msg, "VERIFIER_ROLE")
	assert.Contains(t, msg, fmt.Sprintf("grantVerifier(%s)", signer.Hex()))
	assert.Contains(t, msg, testContract.Hex())
	assert.NotContains(t, msg, hexutil.Encode(data))
	assert.False(t, Retryable(err))
}

func TestDecodeRevert(t *testing.T) {
	stringTy, _ := abi.NewType("string", "", nil)
	reason, err := abi.Arguments{{Type: stringTy}}.Pack("record already exists")
	require.NoError(t, err)
	errorString := append(crypto.Keccak256([]byte("Error(string)"))[:4], reason...)

	tests := []struct {
		name      string
		err       error
		wantIs    error
		contains  string
		forbidden string
	}{
		{
			name:     "error string",
			err:      &rpcDataError{msg: "execution reverted", data: hexutil.Encode(errorString)},
			wantIs:   ErrWriteFailed,
			contains: "record already exists",
		},
		{
			name:     "admin role",
			err:      &rpcDataError{msg: "execution reverted", data: hexutil.Encode(unauthorizedRevert(t, common.HexToAddress("0x01"), DefaultAdminRoleHash))},
			wantIs:   ErrUnauthorizedSigner,
			contains: "DEFAULT_ADMIN_ROLE",
		},
		{
			name:      "undecodable data",
			err:       &rpcDataError{msg: "execution reverted: 0xdeadbeefdeadbeefdeadbeefdeadbeef", data: "0xdeadbeefdeadbeef"},
			wantIs:    ErrWriteFailed,
			forbidden: "deadbeef",
		},
		{
			name:      "plain transport",
			err:       errors.New("rpc error 0x0123456789abcdef0123 while sending"),
			wantIs:    ErrWriteFailed,
			contains:  "<data>",
			forbidden: "0123456789abcdef",
		},
		{
			name:     "insufficient funds",
			err:      errors.New("insufficient funds for gas * price + value"),
			wantIs:   ErrInsufficientFunds,
			contains: "insufficient funds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeRevert(tt.err, testContract)
			require.ErrorIs(t, got, tt.wantIs)
			if tt.contains != "" {
				assert.Contains(t, got.Error(), tt.contains)
			}
			if tt.forbidden != "" {
				assert.NotContains(t, got.Error(), tt.forbidden)
			}
		})
	}
	assert.NoError(t, DecodeRevert(nil, testContract))
}

func TestRecordVerifiedEvent_RevertButConcurrentWriterWon(t *testing.T) {
	c, _, contract := newTestClient(t)
	contract.submitErr = &rpcDataError{msg: "execution reverted", data: "0x"}
	contract.markOnFailure = true

	res, err := c.RecordVerifiedEvent(context.Background(), payload("d1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyRecorded, res.Outcome)
}

func TestRecordVerifiedEvent_CancelledBeforeSubmit(t *testing.T) {
	c, _, contract := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RecordVerifiedEvent(ctx, payload("d1"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), contract.txCount, "no transaction after cancellation")
}

func TestRecordVerifiedEvent_ConfirmationTimeout(t *testing.T) {
	c, chain, _ := newTestClient(t)
	chain.autoMine = false
	c.network.ConfirmTimeout = 50 * time.Millisecond

	_, err := c.RecordVerifiedEvent(context.Background(), payload("d1"))
	require.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.True(t, Retryable(err))
}

func TestRecordVerifiedEvent_ReceiptOutcomes(t *testing.T) {
	t.Run("reverted after inclusion", func(t *testing.T) {
		c, chain, _ := newTestClient(t)
		chain.autoMine = false
		contract := newFakeContract(chain)
		c.contract = &minedAs{fakeContract: contract, status: types.ReceiptStatusFailed, block: big.NewInt(9)}

		_, err := c.RecordVerifiedEvent(context.Background(), payload("d1"))
		require.ErrorIs(t, err, ErrWriteFailed)
	})
	t.Run("missing block number", func(t *testing.T) {
		c, chain, _ := newTestClient(t)
		chain.autoMine = false
		contract := newFakeContract(chain)
		c.contract = &minedAs{fakeContract: contract, status: types.ReceiptStatusSuccessful}

		_, err := c.RecordVerifiedEvent(context.Background(), payload("d1"))
		require.ErrorIs(t, err, ErrConfirmationIncomplete)
	})
}

// minedAs 提交后写入指定状态/区块号的回执，且不将记录标记为已存在
type minedAs struct {
	*fakeContract
	status uint64
	block  *big.Int
}

func (m *minedAs) RecordTask(ctx context.Context, h proof.RecordHashes) (*types.Transaction, error) {
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &testContract, Data: h.Record[:]})
	m.chain.mu.Lock()
	m.chain.receipts[tx.Hash()] = &types.Receipt{Status: m.status, TxHash: tx.Hash(), BlockNumber: m.block}
	m.chain.mu.Unlock()
	return tx, nil
}

func TestRecordVerifiedEvent_SignerLaneSerializesSubmissions(t *testing.T) {
	c, _, contract := newTestClient(t)
	contract.submitDelay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.RecordVerifiedEvent(context.Background(), payload(fmt.Sprintf("d%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(6), contract.txCount)
	assert.Equal(t, int32(1), contract.maxInFlight)
}

func TestCheckSigner(t *testing.T) {
	c, _, contract := newTestClient(t)

	st, err := c.CheckSigner(context.Background())
	require.ErrorIs(t, err, ErrUnauthorizedSigner)
	assert.False(t, st.Authorized)
	assert.Contains(t, err.Error(), "grantVerifier(")

	contract.granted[c.Network().Signer] = true
	st, err = c.CheckSigner(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Authorized)
	assert.Equal(t, c.Network().Signer.Hex(), st.Signer)
}

func TestUnconfigured(t *testing.T) {
	u := Unconfigured{Err: errors.New("ledger.network is not set")}
	_, err := u.RecordVerifiedEvent(context.Background(), payload("d1"))
	require.ErrorIs(t, err, ErrMisconfigured)
	_, err = u.CheckSigner(context.Background())
	require.ErrorIs(t, err, ErrMisconfigured)
}

func TestRetryableAndKind(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
		kind      string
	}{
		{fmt.Errorf("x: %w", ErrMisconfigured), false, "misconfigured"},
		{fmt.Errorf("x: %w", ErrInsufficientFunds), false, "insufficient_funds"},
		{&UnauthorizedSignerError{}, false, "unauthorized_signer"},
		{fmt.Errorf("x: %w", ErrConfirmationTimeout), true, "confirmation_timeout"},
		{fmt.Errorf("x: %w", ErrConfirmationIncomplete), true, "confirmation_incomplete"},
		{fmt.Errorf("x: %w", ErrWriteFailed), true, "write_failed"},
		{fmt.Errorf("x: %w", ErrUnavailable), true, "unavailable"},
		{errBoom, false, "unknown"},
		{fmt.Errorf("hash: %w", canonical.ErrInvalidNumber), false, "canonicalization"},
		{fmt.Errorf("hash: %w", canonical.ErrUnsupportedValue), false, "canonicalization"},
		{errors.New("canonical: looks similar but is not wrapped"), false, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.retryable, Retryable(tt.err), "Retryable(%v)", tt.err)
		assert.Equal(t, tt.kind, Kind(tt.err), "Kind(%v)", tt.err)
	}
	assert.False(t, Retryable(nil))
	assert.Equal(t, "", Kind(nil))

	_, err := canonical.Bytes(map[string]any{"n": int64(1<<53 + 1)})
	require.Error(t, err)
	assert.Equal(t, "canonicalization", Kind(fmt.Errorf("canonicalize record payload: %w", err)))
}
