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

package dispatch

import (
	"context"
	"errors"

	"dispatch-ledger/internal/ledger"
	"dispatch-ledger/pkg/metrics"
)

// anchor 对已占用（pending）的派遣执行账本写入并保存结果注记。
// 写入使用调用方 ctx（取消则不提交交易），保存注记不受取消影响。
func (w *Workflow) anchor(ctx context.Context, d *Dispatch, actorID string) *Dispatch {
	callCtx := ctx
	if w.cfg.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.cfg.VerifyTimeout)
		defer cancel()
	}
	res, err := w.recorder.RecordVerifiedEvent(callCtx, d.RecordPayload())

	persistCtx := context.WithoutCancel(ctx)
	now := w.timestamp()
	a := d.Anchor
	a.UpdatedAt = &now
	var eventType string
	var payload map[string]any
	if err == nil {
		rec := res.Record
		a.Status = AnchorAnchored
		a.Record = &rec
		a.LastError = ""
		a.ErrorKind = ""
		a.Retryable = false
		eventType = EventAnchored
		payload = map[string]any{
			"outcome":    string(res.Outcome),
			"txHash":     rec.TxHash,
			"recordHash": rec.RecordHash,
			"network":    rec.Network,
		}
		if rec.BlockNumber != nil {
			payload["blockNumber"] = *rec.BlockNumber
		}
		w.logger.InfoContext(ctx, "dispatch anchored",
			"dispatch_id", d.ID, "outcome", res.Outcome, "tx_hash", rec.TxHash, "attempt", a.Attempts)
	} else {
		kind := anchorErrorKind(err)
		a.Status = AnchorFailed
		a.LastError = err.Error()
		a.ErrorKind = kind
		a.Retryable = anchorRetryable(err)
		eventType = EventAnchorFailed
		payload = map[string]any{"kind": kind, "error": a.LastError, "retryable": a.Retryable}
		metrics.AnchorFailTotal.WithLabelValues(kind).Inc()
		w.logger.WarnContext(ctx, "dispatch anchoring failed",
			"dispatch_id", d.ID, "kind", kind, "retryable", a.Retryable, "attempt", a.Attempts, "error", err)
	}

	updated, uerr := w.store.UpdateAnchor(persistCtx, d.ID, AnchorPending, a)
	if uerr != nil {
		w.logger.ErrorContext(ctx, "save anchor annotation failed", "dispatch_id", d.ID, "error", uerr)
		out := d.Clone()
		out.Anchor = a
		return out
	}
	w.appendEvent(persistCtx, d.ID, eventType, actorID, payload)
	return updated
}

// anchorErrorKind 注记中的错误类别
func anchorErrorKind(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if !errors.Is(err, ledger.ErrConfirmationTimeout) {
			return "cancelled"
		}
	}
	return ledger.Kind(err)
}

// anchorRetryable 取消或超时的写入可安全重试（账本侧幂等）
func anchorRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ledger.Retryable(err)
}
