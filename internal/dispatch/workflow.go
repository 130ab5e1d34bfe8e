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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"dispatch-ledger/internal/ledger"
	"dispatch-ledger/pkg/canonical"
	pkgerrors "dispatch-ledger/pkg/errors"
	"dispatch-ledger/pkg/metrics"
	"dispatch-ledger/pkg/proof"
	"dispatch-ledger/pkg/tracing"
)

// Recorder 账本写入（ledger.Client 与 ledger.Unconfigured 实现）
type Recorder interface {
	RecordVerifiedEvent(ctx context.Context, payload proof.RecordPayload) (ledger.Result, error)
}

// Emergencies 派遣所属紧急事件的查询与回写
type Emergencies interface {
	// EnsureDispatchable 事件存在且可派遣，否则返回错误
	EnsureDispatchable(ctx context.Context, emergencyID string) error
	// MarkAssigned 有志愿者接受派遣
	MarkAssigned(ctx context.Context, emergencyID string) error
	// MarkResolved 标记事件已解决
	MarkResolved(ctx context.Context, emergencyID string) error
}

// Config 流程配置
type Config struct {
	// VerifyTimeout 单次锚定（含确认等待）的上限，0 表示只受账本客户端自身超时约束
	VerifyTimeout time.Duration
	// StalePending pending 注记超过该时长视为中断，可手动或后台重试
	StalePending time.Duration
}

// CreateOffersInput 创建派遣邀约
type CreateOffersInput struct {
	EmergencyID  string
	VolunteerIDs []string
	DispatchedBy string
}

// Workflow 派遣核验状态机
type Workflow struct {
	store       Store
	recorder    Recorder
	emergencies Emergencies
	cfg         Config
	now         func() time.Time
	logger      *slog.Logger
}

// Option Workflow 选项
type Option func(*Workflow)

// WithEmergencies 设置紧急事件目录
func WithEmergencies(e Emergencies) Option {
	return func(w *Workflow) { w.emergencies = e }
}

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow 创建流程
func NewWorkflow(store Store, recorder Recorder, cfg Config, opts ...Option) *Workflow {
	if cfg.StalePending <= 0 {
		cfg.StalePending = 10 * time.Minute
	}
	w := &Workflow{
		store:    store,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Store 底层存储
func (w *Workflow) Store() Store { return w.store }

func (w *Workflow) timestamp() time.Time {
	return w.now().UTC().Truncate(time.Millisecond)
}

// Get 读取派遣
func (w *Workflow) Get(ctx context.Context, id string) (*Dispatch, error) {
	return w.store.Get(ctx, id)
}

// List 列出派遣
func (w *Workflow) List(ctx context.Context, f Filter) ([]*Dispatch, error) {
	return w.store.List(ctx, f)
}

// Events 派遣历史
func (w *Workflow) Events(ctx context.Context, id string) ([]proof.Event, error) {
	if _, err := w.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return w.store.ListEvents(ctx, id)
}

// CreateOffers 为紧急事件向一组志愿者发出 PENDING 邀约，志愿者 id 去重
func (w *Workflow) CreateOffers(ctx context.Context, in CreateOffersInput) ([]*Dispatch, error) {
	emergencyID := strings.TrimSpace(in.EmergencyID)
	if emergencyID == "" {
		return nil, &ValidationError{Field: "emergencyId", Message: "is required"}
	}
	seen := make(map[string]bool)
	var volunteers []string
	for _, v := range in.VolunteerIDs {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		volunteers = append(volunteers, v)
	}
	if len(volunteers) == 0 {
		return nil, &ValidationError{Field: "volunteerIds", Message: "at least one volunteer is required"}
	}
	if w.emergencies != nil {
		if err := w.emergencies.EnsureDispatchable(ctx, emergencyID); err != nil {
			return nil, err
		}
	}

	now := w.timestamp()
	offers := make([]*Dispatch, 0, len(volunteers))
	for _, v := range volunteers {
		offers = append(offers, &Dispatch{
			ID:           uuid.New().String(),
			EmergencyID:  emergencyID,
			VolunteerID:  v,
			DispatchedBy: in.DispatchedBy,
			Status:       StatusPending,
			Proofs:       []ProofRef{},
			Anchor:       Anchor{Status: AnchorNone},
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	if err := w.store.CreateOffers(ctx, offers); err != nil {
		return nil, err
	}
	for _, o := range offers {
		w.appendEvent(ctx, o.ID, EventOffered, in.DispatchedBy, map[string]any{
			"emergencyId": o.EmergencyID,
			"volunteerId": o.VolunteerID,
		})
	}
	return offers, nil
}

// Respond 志愿者接受或拒绝邀约。接受时取消该志愿者其余 PENDING 邀约。
func (w *Workflow) Respond(ctx context.Context, id, volunteerID string, decision Decision) (*Dispatch, error) {
	switch decision {
	case DecisionAccept:
		return w.accept(ctx, id, volunteerID)
	case DecisionDecline:
		return w.decline(ctx, id, volunteerID)
	default:
		return nil, &ValidationError{Field: "decision", Message: "must be ACCEPT or DECLINE"}
	}
}

func (w *Workflow) accept(ctx context.Context, id, volunteerID string) (*Dispatch, error) {
	now := w.timestamp()
	res, err := w.store.Accept(ctx, id, volunteerID, now, supersedeReason(id))
	if err != nil {
		return nil, err
	}
	w.transitioned(ctx, res.Accepted, StatusPending, EventAccepted, volunteerID, nil)
	for _, d := range res.Superseded {
		w.transitioned(ctx, d, StatusPending, EventSuperseded, volunteerID, map[string]any{"reason": d.CancelReason})
	}
	if w.emergencies != nil {
		if err := w.emergencies.MarkAssigned(context.WithoutCancel(ctx), res.Accepted.EmergencyID); err != nil {
			w.logger.WarnContext(ctx, "mark emergency assigned failed", "emergency_id", res.Accepted.EmergencyID, "error", err)
		}
	}
	return res.Accepted, nil
}

func supersedeReason(acceptedID string) string {
	return "superseded: volunteer accepted dispatch " + acceptedID
}

func (w *Workflow) decline(ctx context.Context, id, volunteerID string) (*Dispatch, error) {
	cur, err := w.assigned(ctx, id, volunteerID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cur.Status, StatusDeclined); err != nil {
		return nil, err
	}
	now := w.timestamp()
	next := cur.Clone()
	next.Status = StatusDeclined
	next.RespondedAt = &now
	next.UpdatedAt = now
	if err := w.store.Update(ctx, next, cur.Status); err != nil {
		return nil, err
	}
	w.transitioned(ctx, next, cur.Status, EventDeclined, volunteerID, nil)
	return next, nil
}

// AddProof 为 ACCEPTED 或 DONE 的派遣附加完成证明
func (w *Workflow) AddProof(ctx context.Context, id, volunteerID string, ref ProofRef) (*Dispatch, error) {
	ref.URL = strings.TrimSpace(ref.URL)
	if ref.URL == "" {
		return nil, &ValidationError{Field: "url", Message: "is required"}
	}
	cur, err := w.assigned(ctx, id, volunteerID)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusAccepted && cur.Status != StatusDone {
		return nil, fmt.Errorf("%w: proofs can only be added to ACCEPTED or DONE dispatches (current %s)", ErrInvalidTransition, cur.Status)
	}
	now := w.timestamp()
	if ref.UploadedAt.IsZero() {
		ref.UploadedAt = now
	}
	next := cur.Clone()
	next.Proofs = append(next.Proofs, ref)
	next.UpdatedAt = now
	if err := w.store.Update(ctx, next, cur.Status); err != nil {
		return nil, err
	}
	w.appendEvent(ctx, id, EventProofAdded, volunteerID, map[string]any{"url": ref.URL})
	return next, nil
}

// Complete ACCEPTED -> DONE，至少需要一份证明
func (w *Workflow) Complete(ctx context.Context, id, volunteerID string) (*Dispatch, error) {
	cur, err := w.assigned(ctx, id, volunteerID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cur.Status, StatusDone); err != nil {
		return nil, err
	}
	if len(cur.Proofs) == 0 {
		return nil, ErrProofRequired
	}
	now := w.timestamp()
	next := cur.Clone()
	next.Status = StatusDone
	next.CompletedAt = &now
	next.UpdatedAt = now
	if err := w.store.Update(ctx, next, cur.Status); err != nil {
		return nil, err
	}
	w.transitioned(ctx, next, cur.Status, EventCompleted, volunteerID, map[string]any{"proofCount": len(next.Proofs)})
	return next, nil
}

// Verify DONE -> VERIFIED 并写入账本。
// 记录摘要在迁移前计算，失败则不迁移；迁移以状态为条件只会成功一次；
// 账本写入失败不回滚 VERIFIED，失败信息写入锚定注记。
func (w *Workflow) Verify(ctx context.Context, id, reviewerID string) (d *Dispatch, err error) {
	ctx, span := tracing.StartVerifySpan(ctx, id)
	defer func() {
		if err == nil {
			span.SetAttributes(attribute.String("anchor.status", string(d.Anchor.Status)))
		}
		tracing.EndSpan(span, err, "")
	}()

	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return nil, &ValidationError{Field: "reviewerId", Message: "is required"}
	}
	cur, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cur.Status, StatusVerified); err != nil {
		return nil, err
	}
	if reviewerID == cur.VolunteerID {
		return nil, ErrSelfVerification
	}

	digest, err := proof.RecordHash(cur.RecordPayload())
	if err != nil {
		return nil, fmt.Errorf("hash dispatch record: %w", err)
	}

	now := w.timestamp()
	next := cur.Clone()
	next.Status = StatusVerified
	next.VerifiedAt = &now
	next.VerifiedBy = reviewerID
	next.UpdatedAt = now
	next.Anchor = Anchor{
		Status:     AnchorPending,
		RecordHash: digest.Hex(),
		Attempts:   1,
		UpdatedAt:  &now,
	}
	if err := w.store.Update(ctx, next, StatusDone); err != nil {
		if errors.Is(err, pkgerrors.ErrConflict) {
			return nil, fmt.Errorf("%w: dispatch %s was modified concurrently", ErrInvalidTransition, id)
		}
		return nil, err
	}
	w.transitioned(ctx, next, StatusDone, EventVerified, reviewerID, map[string]any{"recordHash": digest.Hex()})

	if w.emergencies != nil {
		if err := w.emergencies.MarkResolved(context.WithoutCancel(ctx), next.EmergencyID); err != nil {
			w.logger.WarnContext(ctx, "mark emergency resolved failed", "emergency_id", next.EmergencyID, "error", err)
		}
	}

	return w.anchor(ctx, next, reviewerID), nil
}

// Reject 审核人驳回：任意未终结状态 -> CANCELLED。原因在触达存储前校验。
func (w *Workflow) Reject(ctx context.Context, id, reviewerID, reason string) (*Dispatch, error) {
	reason, err := ValidateReason(reason)
	if err != nil {
		return nil, err
	}
	cur, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cur.Status, StatusCancelled); err != nil {
		return nil, err
	}
	now := w.timestamp()
	next := cur.Clone()
	next.Status = StatusCancelled
	next.CancelReason = reason
	next.CancelledBy = reviewerID
	next.UpdatedAt = now
	if err := w.store.Update(ctx, next, cur.Status); err != nil {
		return nil, err
	}
	w.transitioned(ctx, next, cur.Status, EventRejected, reviewerID, map[string]any{"reason": reason})
	return next, nil
}

// RetryAnchor 重新锚定 VERIFIED 派遣：注记为 failed，或 pending 已超过 StalePending
func (w *Workflow) RetryAnchor(ctx context.Context, id, actorID string) (*Dispatch, error) {
	cur, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusVerified {
		return nil, fmt.Errorf("%w: dispatch %s is %s", ErrAnchorNotRetryable, id, cur.Status)
	}
	expect := cur.Anchor.Status
	switch expect {
	case AnchorFailed:
	case AnchorPending:
		if cur.Anchor.UpdatedAt != nil && w.now().Sub(*cur.Anchor.UpdatedAt) < w.cfg.StalePending {
			return nil, fmt.Errorf("%w: anchoring of %s is in progress", ErrAnchorNotRetryable, id)
		}
	default:
		return nil, fmt.Errorf("%w: anchor of %s is %s", ErrAnchorNotRetryable, id, expect)
	}

	recordHash := cur.Anchor.RecordHash
	if recordHash == "" {
		digest, err := proof.RecordHash(cur.RecordPayload())
		if err != nil {
			return nil, fmt.Errorf("hash dispatch record: %w", err)
		}
		recordHash = digest.Hex()
	}
	now := w.timestamp()
	claim := cur.Anchor
	claim.Status = AnchorPending
	claim.RecordHash = recordHash
	claim.Attempts++
	claim.UpdatedAt = &now
	claimed, err := w.store.UpdateAnchor(ctx, id, expect, claim)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrConflict) {
			return nil, fmt.Errorf("%w: anchor of %s was claimed concurrently", ErrAnchorNotRetryable, id)
		}
		return nil, err
	}
	w.appendEvent(ctx, id, EventAnchorRetried, actorID, map[string]any{"attempt": claim.Attempts})
	ctx, span := tracing.StartAnchorRetrySpan(ctx, id, claim.Attempts)
	out := w.anchor(ctx, claimed, actorID)
	span.SetAttributes(attribute.String("anchor.status", string(out.Anchor.Status)))
	tracing.EndSpan(span, nil, "")
	return out, nil
}

// LedgerRecord 已锚定派遣的账本记录
func (w *Workflow) LedgerRecord(ctx context.Context, id string) (*ledger.Record, error) {
	d, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Anchor.Status != AnchorAnchored || d.Anchor.Record == nil {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "ledger record for dispatch %s", id)
	}
	rec := *d.Anchor.Record
	return &rec, nil
}

// ExportEvidence 导出已核验派遣的证据包
func (w *Workflow) ExportEvidence(ctx context.Context, id string, opts proof.ExportOptions) ([]byte, error) {
	d, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusVerified {
		return nil, fmt.Errorf("%w: only VERIFIED dispatches can be exported (current %s)", ErrInvalidTransition, d.Status)
	}
	return proof.ExportEvidenceZip(ctx, proof.BundleInput{
		Payload: d.RecordPayload(),
		Anchor:  d.AnchorRecord(),
	}, w.store, opts)
}

// assigned 读取派遣并校验归属
func (w *Workflow) assigned(ctx context.Context, id, volunteerID string) (*Dispatch, error) {
	cur, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.VolunteerID != volunteerID {
		return nil, ErrNotAssigned
	}
	return cur, nil
}

// transitioned 记录迁移指标与历史事件
func (w *Workflow) transitioned(ctx context.Context, d *Dispatch, from Status, eventType, actorID string, payload map[string]any) {
	metrics.DispatchTransitionTotal.WithLabelValues(string(from), string(d.Status)).Inc()
	w.logger.InfoContext(ctx, "dispatch transitioned", "dispatch_id", d.ID, "from", from, "to", d.Status, "actor_id", actorID)
	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = string(from)
	payload["to"] = string(d.Status)
	w.appendEvent(ctx, d.ID, eventType, actorID, payload)
}

// appendEvent 追加历史事件；迁移已提交，失败只记录日志
func (w *Workflow) appendEvent(ctx context.Context, dispatchID, eventType, actorID string, payload map[string]any) {
	data, err := canonical.Bytes(payload)
	if err != nil {
		w.logger.ErrorContext(ctx, "encode dispatch event failed", "dispatch_id", dispatchID, "type", eventType, "error", err)
		return
	}
	_, err = w.store.AppendEvent(context.WithoutCancel(ctx), proof.Event{
		DispatchID: dispatchID,
		Type:       eventType,
		ActorID:    actorID,
		Payload:    string(data),
		CreatedAt:  w.now().UTC(),
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "append dispatch event failed", "dispatch_id", dispatchID, "type", eventType, "error", err)
	}
}
