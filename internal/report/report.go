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

// Package report 紧急事件上报与 LGU 审核：SOS 上报免审可见，其余上报待审核后才可见、可派遣。
package report

import (
	"errors"
	"time"
)

// Type 紧急事件类型
type Type string

const (
	TypeSOS        Type = "sos"
	TypeFire       Type = "fire"
	TypeFlood      Type = "flood"
	TypeTyphoon    Type = "typhoon"
	TypeEarthquake Type = "earthquake"
	TypeCollapse   Type = "collapse"
	TypeMedical    Type = "medical"
	TypeOther      Type = "other"
)

// Status 事件处理状态
type Status string

const (
	StatusOpen       Status = "open"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusCancelled  Status = "cancelled"
)

// ApprovalStatus 审核状态：pending -> approved | rejected；SOS 为 not_required
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "not_required"
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
)

var (
	// ErrNotPending 报告不是待审核的非 SOS 报告
	ErrNotPending = errors.New("report is not a pending non-SOS report")
	// ErrNotDispatchable 报告已被驳回或已关闭，不能派遣
	ErrNotDispatchable = errors.New("report is not dispatchable")
)

const (
	minReasonLength      = 3
	maxReasonLength      = 300
	maxLabelLength       = 160
	maxDescriptionLength = 1000
	maxPhotos            = 5
)

// Location 上报位置
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

// Approval 审核信息
type Approval struct {
	Status     ApprovalStatus `json:"status"`
	ReviewedBy string         `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time     `json:"reviewedAt,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// Report 紧急事件上报
type Report struct {
	ID              string    `json:"id"`
	ReferenceNumber string    `json:"referenceNumber"`
	IsSOS           bool      `json:"isSos"`
	Type            Type      `json:"type"`
	Status          Status    `json:"status"`
	Approval        Approval  `json:"approval"`
	VisibleOnMap    bool      `json:"isVisibleOnMap"`
	Location        Location  `json:"location"`
	Description     string    `json:"description,omitempty"`
	Photos          []string  `json:"photos,omitempty"`
	ReporterID      string    `json:"reporterId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Clone 深拷贝
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	if r.Approval.ReviewedAt != nil {
		t := *r.Approval.ReviewedAt
		c.Approval.ReviewedAt = &t
	}
	if r.Photos != nil {
		c.Photos = append([]string(nil), r.Photos...)
	}
	return &c
}

// Closed 已解决或已取消
func (r *Report) Closed() bool {
	return r.Status == StatusResolved || r.Status == StatusCancelled
}

// ValidType 是否为可上报的非 SOS 类型
func ValidType(t Type) bool {
	switch t {
	case TypeFire, TypeFlood, TypeTyphoon, TypeEarthquake, TypeCollapse, TypeMedical, TypeOther:
		return true
	}
	return false
}

// ValidApproval 是否为已知审核状态
func ValidApproval(s ApprovalStatus) bool {
	switch s {
	case ApprovalNotRequired, ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}
