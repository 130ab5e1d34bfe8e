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
	"time"

	"dispatch-ledger/pkg/proof"
)

// Filter 列表过滤条件，零值字段不过滤
type Filter struct {
	Statuses    []Status
	VolunteerID string
	EmergencyID string
	Limit       int
}

// AcceptResult Accept 的结果
type AcceptResult struct {
	Accepted   *Dispatch
	Superseded []*Dispatch
}

// Store 派遣存储。所有状态修改都是以当前状态为条件的更新。
type Store interface {
	// CreateOffers 批量创建 PENDING 邀约；同一 emergency+volunteer 已有 PENDING 邀约时返回 ErrConflict
	CreateOffers(ctx context.Context, offers []*Dispatch) error
	Get(ctx context.Context, id string) (*Dispatch, error)
	List(ctx context.Context, f Filter) ([]*Dispatch, error)
	// Update 仅当存储中状态为 expect 且版本与 d.Version 一致时写入 d，成功后 d.Version 递增；否则 ErrConflict
	Update(ctx context.Context, d *Dispatch, expect Status) error
	// Accept 原子地接受邀约并取消该志愿者其他 PENDING 邀约；志愿者已有 ACCEPTED 派遣时返回 ErrActiveDispatch
	Accept(ctx context.Context, id, volunteerID string, at time.Time, supersedeReason string) (AcceptResult, error)
	// UpdateAnchor 仅当锚定状态为 expect 时写入 a；否则 ErrConflict
	UpdateAnchor(ctx context.Context, id string, expect AnchorStatus, a Anchor) (*Dispatch, error)
	// ListAnchorable 列出待重试锚定的已核验派遣：failed 且可重试，或 pending 早于 staleBefore
	ListAnchorable(ctx context.Context, staleBefore time.Time, limit int) ([]*Dispatch, error)
	// AppendEvent 追加历史事件，存储负责串联哈希链
	AppendEvent(ctx context.Context, e proof.Event) (proof.Event, error)
	ListEvents(ctx context.Context, dispatchID string) ([]proof.Event, error)
	Close() error
}
