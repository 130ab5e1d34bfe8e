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
	"time"

	"dispatch-ledger/internal/ledger"
	"dispatch-ledger/pkg/proof"
)

// Status 派遣状态
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusDeclined  Status = "DECLINED"
	StatusDone      Status = "DONE"
	StatusVerified  Status = "VERIFIED"
	StatusCancelled Status = "CANCELLED"
)

// Decision 志愿者对派遣邀约的答复
type Decision string

const (
	DecisionAccept  Decision = "ACCEPT"
	DecisionDecline Decision = "DECLINE"
)

// AnchorStatus 账本锚定注记状态，与派遣状态相互独立
type AnchorStatus string

const (
	AnchorNone     AnchorStatus = "none"
	AnchorPending  AnchorStatus = "pending"
	AnchorAnchored AnchorStatus = "anchored"
	AnchorFailed   AnchorStatus = "failed"
)

// Anchor 锚定注记；VERIFIED 不依赖锚定结果
type Anchor struct {
	Status     AnchorStatus   `json:"status"`
	RecordHash string         `json:"recordHash,omitempty"`
	Record     *ledger.Record `json:"record,omitempty"`
	LastError  string         `json:"lastError,omitempty"`
	ErrorKind  string         `json:"errorKind,omitempty"`
	Retryable  bool           `json:"retryable"`
	Attempts   int            `json:"attempts"`
	UpdatedAt  *time.Time     `json:"updatedAt,omitempty"`
}

// ProofRef 完成证明的引用（文件本身存于外部存储）
type ProofRef struct {
	URL        string    `json:"url"`
	MimeType   string    `json:"mimeType,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Dispatch 派遣记录
type Dispatch struct {
	ID           string     `json:"id"`
	EmergencyID  string     `json:"emergencyId"`
	VolunteerID  string     `json:"volunteerId"`
	DispatchedBy string     `json:"dispatchedBy"`
	Status       Status     `json:"status"`
	Proofs       []ProofRef `json:"proofs"`
	RespondedAt  *time.Time `json:"respondedAt"`
	CompletedAt  *time.Time `json:"completedAt"`
	VerifiedAt   *time.Time `json:"verifiedAt"`
	VerifiedBy   string     `json:"verifiedBy,omitempty"`
	CancelReason string     `json:"cancelReason,omitempty"`
	CancelledBy  string     `json:"cancelledBy,omitempty"`
	Anchor       Anchor     `json:"anchor"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	// Version 每次更新递增，用于条件更新
	Version int64 `json:"version"`
}

// Clone 深拷贝
func (d *Dispatch) Clone() *Dispatch {
	if d == nil {
		return nil
	}
	c := *d
	c.Proofs = append([]ProofRef(nil), d.Proofs...)
	c.RespondedAt = cloneTime(d.RespondedAt)
	c.CompletedAt = cloneTime(d.CompletedAt)
	c.VerifiedAt = cloneTime(d.VerifiedAt)
	c.Anchor.UpdatedAt = cloneTime(d.Anchor.UpdatedAt)
	if d.Anchor.Record != nil {
		r := *d.Anchor.Record
		if r.BlockNumber != nil {
			bn := *r.BlockNumber
			r.BlockNumber = &bn
		}
		c.Anchor.Record = &r
	}
	return &c
}

// RecordPayload 账本记录载荷
func (d *Dispatch) RecordPayload() proof.RecordPayload {
	urls := make([]string, 0, len(d.Proofs))
	for _, p := range d.Proofs {
		urls = append(urls, p.URL)
	}
	return proof.RecordPayload{
		DispatchID:  d.ID,
		EmergencyID: d.EmergencyID,
		VolunteerID: d.VolunteerID,
		CompletedAt: cloneTime(d.CompletedAt),
		ProofURLs:   urls,
	}
}

// AnchorRecord 导出用锚定记录；未锚定返回 nil
func (d *Dispatch) AnchorRecord() *proof.AnchorRecord {
	if d.Anchor.Status != AnchorAnchored || d.Anchor.Record == nil {
		return nil
	}
	r := d.Anchor.Record
	return &proof.AnchorRecord{
		Network:         r.Network,
		ContractAddress: r.ContractAddress,
		TxHash:          r.TxHash,
		BlockNumber:     r.BlockNumber,
		RecordHash:      r.RecordHash,
		RecordedAt:      r.RecordedAt,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// 历史事件类型
const (
	EventOffered       = "offered"
	EventAccepted      = "accepted"
	EventDeclined      = "declined"
	EventSuperseded    = "superseded"
	EventProofAdded    = "proof_added"
	EventCompleted     = "completed"
	EventVerified      = "verified"
	EventRejected      = "rejected"
	EventAnchored      = "anchored"
	EventAnchorFailed  = "anchor_failed"
	EventAnchorRetried = "anchor_retry"
)
