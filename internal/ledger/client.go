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
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"

	"dispatch-ledger/pkg/metrics"
	"dispatch-ledger/pkg/proof"
	"dispatch-ledger/pkg/tracing"
)

// AlreadyRecordedTxHash 重复记录时 Record.TxHash 的占位值
const AlreadyRecordedTxHash = "already-recorded"

// Outcome 写入结果
type Outcome string

const (
	OutcomeWritten         Outcome = "written"
	OutcomeAlreadyRecorded Outcome = "already_recorded"
)

// Record 账本记录，写入成功或确认重复后生成，不可变
type Record struct {
	Network         string    `json:"network"`
	ContractAddress string    `json:"contractAddress"`
	TxHash          string    `json:"txHash"`
	BlockNumber     *uint64   `json:"blockNumber"`
	RecordHash      string    `json:"recordHash"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// Result RecordVerifiedEvent 的返回
type Result struct {
	Outcome Outcome
	Record  Record
}

// Client 账本客户端。对同一签名账户的提交串行执行（nonce 安全），确认等待并行。
type Client struct {
	network  Network
	chain    Chain
	contract Contract
	lane     chan struct{}
	now      func() time.Time
	logger   *slog.Logger
	closer   func()
}

// Option Client 选项
type Option func(*Client)

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient 创建账本客户端
func NewClient(network Network, chain Chain, contract Contract, opts ...Option) *Client {
	c := &Client{
		network:  network,
		chain:    chain,
		contract: contract,
		lane:     make(chan struct{}, 1),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.network.CallTimeout <= 0 {
		c.network.CallTimeout = 15 * time.Second
	}
	if c.network.ConfirmTimeout <= 0 {
		c.network.ConfirmTimeout = 2 * time.Minute
	}
	return c
}

// Network 当前网络
func (c *Client) Network() Network { return c.network }

// Close 关闭底层节点连接
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// RecordVerifiedEvent 将已核验派遣的记录摘要写入账本；已存在时返回 OutcomeAlreadyRecorded，不提交交易。
func (c *Client) RecordVerifiedEvent(ctx context.Context, payload proof.RecordPayload) (res Result, err error) {
	ctx, span := tracing.StartLedgerWriteSpan(ctx, c.network.Name, payload.DispatchID)
	start := time.Now()
	defer func() {
		metrics.LedgerWriteDuration.WithLabelValues(c.network.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.LedgerWriteTotal.WithLabelValues("failed").Inc()
			tracing.EndSpan(span, err, Kind(err))
			return
		}
		metrics.LedgerWriteTotal.WithLabelValues(string(res.Outcome)).Inc()
		tracing.EndSpan(span, nil, "")
	}()

	// 摘要先于任何网络调用计算，规范化失败不触网
	hashes, err := proof.HashRecord(payload)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("ledger.record_hash", hashes.Record.Hex()))

	if err := c.preflight(ctx); err != nil {
		return Result{}, err
	}

	if recorded, rerr := c.recorded(ctx, hashes.Record); rerr != nil {
		c.logger.Warn("recorded() read failed, proceeding with write",
			"dispatch_id", payload.DispatchID, "record_hash", hashes.Record.Hex(), "error", rerr)
	} else if recorded {
		return c.alreadyRecorded(hashes.Record), nil
	}

	tx, err := c.submit(ctx, hashes)
	if err != nil {
		// 并发写入同一记录时合约会回滚，回滚后再查一次
		if errors.Is(err, ErrWriteFailed) && c.isRecorded(ctx, hashes.Record) {
			return c.alreadyRecorded(hashes.Record), nil
		}
		return Result{}, err
	}
	c.logger.Info("ledger transaction submitted",
		"dispatch_id", payload.DispatchID, "tx_hash", tx.Hash().Hex(), "network", c.network.Name)

	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		if c.isRecorded(ctx, hashes.Record) {
			return c.alreadyRecorded(hashes.Record), nil
		}
		return Result{}, fmt.Errorf("%w: transaction %s reverted in block %v", ErrWriteFailed, tx.Hash().Hex(), receipt.BlockNumber)
	}
	if receipt.BlockNumber == nil {
		return Result{}, fmt.Errorf("%w: receipt for %s has no block number", ErrConfirmationIncomplete, tx.Hash().Hex())
	}

	block := receipt.BlockNumber.Uint64()
	return Result{
		Outcome: OutcomeWritten,
		Record: Record{
			Network:         c.network.Name,
			ContractAddress: c.network.ContractAddress.Hex(),
			TxHash:          tx.Hash().Hex(),
			BlockNumber:     &block,
			RecordHash:      hashes.Record.Hex(),
			RecordedAt:      c.now().UTC(),
		},
	}, nil
}

// preflight 合约代码存在且签名账户有余额
func (c *Client) preflight(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.network.CallTimeout)
	defer cancel()

	code, err := c.chain.CodeAt(callCtx, c.network.ContractAddress, nil)
	if err != nil {
		return fmt.Errorf("%w: read contract code: %s", ErrUnavailable, sanitizeMessage(err.Error()))
	}
	if len(code) == 0 {
		return fmt.Errorf("%w: no contract code at %s on network %s",
			ErrMisconfigured, c.network.ContractAddress.Hex(), c.network.Name)
	}

	balance, err := c.chain.BalanceAt(callCtx, c.network.Signer, nil)
	if err != nil {
		return fmt.Errorf("%w: read signer balance: %s", ErrUnavailable, sanitizeMessage(err.Error()))
	}
	if balance == nil || balance.Sign() <= 0 {
		return fmt.Errorf("%w: signer %s has zero balance on network %s",
			ErrInsufficientFunds, c.network.Signer.Hex(), c.network.Name)
	}
	return nil
}

func (c *Client) recorded(ctx context.Context, h proof.Digest) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.network.CallTimeout)
	defer cancel()
	return c.contract.Recorded(callCtx, h)
}

func (c *Client) isRecorded(ctx context.Context, h proof.Digest) bool {
	ok, err := c.recorded(context.WithoutCancel(ctx), h)
	return err == nil && ok
}

func (c *Client) alreadyRecorded(h proof.Digest) Result {
	return Result{
		Outcome: OutcomeAlreadyRecorded,
		Record: Record{
			Network:         c.network.Name,
			ContractAddress: c.network.ContractAddress.Hex(),
			TxHash:          AlreadyRecordedTxHash,
			RecordHash:      h.Hex(),
			RecordedAt:      c.now().UTC(),
		},
	}
}

// submit 在签名通道内提交交易；调用方已取消时不提交
func (c *Client) submit(ctx context.Context, hashes proof.RecordHashes) (*types.Transaction, error) {
	select {
	case c.lane <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.lane }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := c.contract.RecordTask(ctx, hashes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, DecodeRevert(err, c.network.ContractAddress)
	}
	return tx, nil
}

// waitMined 在确认超时内等待回执
func (c *Client) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.network.ConfirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.chain, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: transaction %s not confirmed within %s",
				ErrConfirmationTimeout, tx.Hash().Hex(), c.network.ConfirmTimeout)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: transaction %s submitted, wait aborted: %v",
				ErrConfirmationTimeout, tx.Hash().Hex(), ctx.Err())
		}
		return nil, fmt.Errorf("%w: wait for %s: %s", ErrUnavailable, tx.Hash().Hex(), sanitizeMessage(err.Error()))
	}
	if receipt == nil {
		return nil, fmt.Errorf("%w: no receipt for %s", ErrConfirmationIncomplete, tx.Hash().Hex())
	}
	return receipt, nil
}

// SignerStatus 签名账户在合约上的授权情况
type SignerStatus struct {
	Network         string `json:"network"`
	ContractAddress string `json:"contractAddress"`
	Signer          string `json:"signer"`
	Role            string `json:"role"`
	Authorized      bool   `json:"authorized"`
}

// CheckSigner 查询签名账户是否持有 VERIFIER_ROLE；未授权时同时返回 *UnauthorizedSignerError
func (c *Client) CheckSigner(ctx context.Context) (SignerStatus, error) {
	st := SignerStatus{
		Network:         c.network.Name,
		ContractAddress: c.network.ContractAddress.Hex(),
		Signer:          c.network.Signer.Hex(),
		Role:            "VERIFIER_ROLE",
	}
	callCtx, cancel := context.WithTimeout(ctx, c.network.CallTimeout)
	defer cancel()

	role, err := c.contract.VerifierRole(callCtx)
	if err != nil {
		return st, fmt.Errorf("%w: read VERIFIER_ROLE: %s", ErrUnavailable, sanitizeMessage(err.Error()))
	}
	ok, err := c.contract.HasRole(callCtx, role, c.network.Signer)
	if err != nil {
		return st, fmt.Errorf("%w: read hasRole: %s", ErrUnavailable, sanitizeMessage(err.Error()))
	}
	st.Authorized = ok
	if !ok {
		return st, &UnauthorizedSignerError{
			Account:  c.network.Signer,
			Role:     role,
			RoleName: RoleName(role),
			Contract: c.network.ContractAddress,
		}
	}
	return st, nil
}

// Unconfigured 网络配置无法解析时的占位客户端：每次调用都返回解析错误
type Unconfigured struct {
	Err error
}

func (u Unconfigured) err() error {
	if errors.Is(u.Err, ErrMisconfigured) {
		return u.Err
	}
	return fmt.Errorf("%w: %v", ErrMisconfigured, u.Err)
}

// RecordVerifiedEvent 规范化后返回 ErrMisconfigured
func (u Unconfigured) RecordVerifiedEvent(ctx context.Context, payload proof.RecordPayload) (Result, error) {
	if _, err := proof.HashRecord(payload); err != nil {
		return Result{}, err
	}
	metrics.LedgerWriteTotal.WithLabelValues("failed").Inc()
	return Result{}, u.err()
}

// CheckSigner 返回 ErrMisconfigured
func (u Unconfigured) CheckSigner(ctx context.Context) (SignerStatus, error) {
	return SignerStatus{}, u.err()
}
