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

package report

import (
	"context"
	"time"
)

// Filter 列表过滤条件
type Filter struct {
	Approval ApprovalStatus
	// ExcludeSOS 仅非 SOS 报告
	ExcludeSOS bool
	// MapVisible SOS 或已审核通过
	MapVisible bool
	Limit      int
}

// Review 审核结果
type Review struct {
	Decision   ApprovalStatus
	ReviewerID string
	Reason     string
	At         time.Time
}

// Store 报告存储；Review 仅对 approval = pending 且非 SOS 的报告生效
type Store interface {
	// Create 写入新报告；参考号冲突返回 ErrConflict
	Create(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	GetByReference(ctx context.Context, ref string) (*Report, error)
	// List 按 CreatedAt 倒序
	List(ctx context.Context, f Filter) ([]*Report, error)
	// Review 条件更新；不存在返回 ErrNotFound，不再待审返回 ErrNotPending
	Review(ctx context.Context, id string, rv Review) (*Report, error)
	// SetStatus 未关闭的报告迁移到 status；已关闭时返回当前值不修改
	SetStatus(ctx context.Context, id string, status Status, at time.Time) (*Report, error)
	Close() error
}
