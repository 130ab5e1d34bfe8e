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
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	pkgerrors "dispatch-ledger/pkg/errors"
)

// CreateInput 上报参数
type CreateInput struct {
	IsSOS       bool
	Type        Type
	Location    Location
	Description string
	Photos      []string
	ReporterID  string
}

// Service 上报与审核
type Service struct {
	store     Store
	now       func() time.Time
	logger    *slog.Logger
	reference func(time.Time) (string, error)
}

// Option Service 选项
type Option func(*Service)

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReferenceGenerator 替换参考号生成器
func WithReferenceGenerator(gen func(time.Time) (string, error)) Option {
	return func(s *Service) { s.reference = gen }
}

// NewService 创建服务
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		now:       time.Now,
		logger:    slog.Default(),
		reference: NewReferenceNumber,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store 底层存储
func (s *Service) Store() Store { return s.store }

// Create 新建上报：SOS 免审并立即可见，其余进入待审核
func (s *Service) Create(ctx context.Context, in CreateInput) (*Report, error) {
	r, err := s.build(in)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 0; attempt < MaxReferenceAttempts; attempt++ {
		ref, err := s.reference(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("generate reference number: %w", err)
		}
		r.ID = ""
		r.ReferenceNumber = ref
		err = s.store.Create(ctx, r)
		if err == nil {
			s.logger.Info("emergency report created",
				"report_id", r.ID,
				"reference", r.ReferenceNumber,
				"sos", r.IsSOS,
				"type", r.Type,
				"approval", r.Approval.Status,
			)
			return r, nil
		}
		if !errors.Is(err, pkgerrors.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to generate unique reference number: %w", lastErr)
}

func (s *Service) build(in CreateInput) (*Report, error) {
	typ := in.Type
	if in.IsSOS {
		typ = TypeSOS
	} else if !ValidType(typ) {
		return nil, pkgerrors.Invalid("type", "unknown emergency type %q", in.Type)
	}
	loc := in.Location
	if math.IsNaN(loc.Latitude) || loc.Latitude < -90 || loc.Latitude > 90 {
		return nil, pkgerrors.Invalid("location.latitude", "must be between -90 and 90")
	}
	if math.IsNaN(loc.Longitude) || loc.Longitude < -180 || loc.Longitude > 180 {
		return nil, pkgerrors.Invalid("location.longitude", "must be between -180 and 180")
	}
	loc.Label = strings.TrimSpace(loc.Label)
	if utf8.RuneCountInString(loc.Label) > maxLabelLength {
		return nil, pkgerrors.Invalid("location.label", "must be at most %d characters", maxLabelLength)
	}
	desc := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(desc) > maxDescriptionLength {
		return nil, pkgerrors.Invalid("description", "must be at most %d characters", maxDescriptionLength)
	}
	if len(in.Photos) > maxPhotos {
		return nil, pkgerrors.Invalid("photos", "at most %d photos", maxPhotos)
	}
	for _, p := range in.Photos {
		u, err := url.ParseRequestURI(p)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, pkgerrors.Invalid("photos", "invalid url %q", p)
		}
	}

	approval := ApprovalPending
	if in.IsSOS {
		approval = ApprovalNotRequired
	}
	now := s.now().UTC()
	var photos []string
	if len(in.Photos) > 0 {
		photos = append(photos, in.Photos...)
	}
	return &Report{
		IsSOS:        in.IsSOS,
		Type:         typ,
		Status:       StatusOpen,
		Approval:     Approval{Status: approval},
		VisibleOnMap: in.IsSOS,
		Location:     loc,
		Description:  desc,
		Photos:       photos,
		ReporterID:   strings.TrimSpace(in.ReporterID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Get 按 id 获取
func (s *Service) Get(ctx context.Context, id string) (*Report, error) {
	return s.store.Get(ctx, id)
}

// GetByReference 按参考号获取
func (s *Service) GetByReference(ctx context.Context, ref string) (*Report, error) {
	if !ValidReferenceNumber(ref) {
		return nil, pkgerrors.Invalid("referenceNumber", "must match EM-YYYY-XXXXXX")
	}
	return s.store.GetByReference(ctx, strings.ToUpper(strings.TrimSpace(ref)))
}

// ListByApproval 非 SOS 报告按审核状态列出，默认 pending
func (s *Service) ListByApproval(ctx context.Context, status ApprovalStatus) ([]*Report, error) {
	if status == "" {
		status = ApprovalPending
	}
	if !ValidApproval(status) || status == ApprovalNotRequired {
		return nil, pkgerrors.Invalid("status", "unknown approval status %q", status)
	}
	return s.store.List(ctx, Filter{Approval: status, ExcludeSOS: true})
}

// ListMap 地图可见报告：SOS 或已审核通过
func (s *Service) ListMap(ctx context.Context, limit int) ([]*Report, error) {
	if limit <= 0 {
		limit = 300
	}
	return s.store.List(ctx, Filter{MapVisible: true, Limit: limit})
}

// Approve 审核通过待审报告并使其可见
func (s *Service) Approve(ctx context.Context, id, reviewerID string) (*Report, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, pkgerrors.Invalid("reviewerId", "is required")
	}
	r, err := s.store.Review(ctx, id, Review{Decision: ApprovalApproved, ReviewerID: reviewerID, At: s.now().UTC()})
	if err != nil {
		return nil, err
	}
	s.logger.Info("emergency report approved", "report_id", id, "reviewer", reviewerID)
	return r, nil
}

// Reject 驳回待审报告；理由去除首尾空白后须为 3..300 字符
func (s *Service) Reject(ctx context.Context, id, reviewerID, reason string) (*Report, error) {
	reason, err := validateReason(reason)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reviewerID) == "" {
		return nil, pkgerrors.Invalid("reviewerId", "is required")
	}
	r, err := s.store.Review(ctx, id, Review{Decision: ApprovalRejected, ReviewerID: reviewerID, Reason: reason, At: s.now().UTC()})
	if err != nil {
		return nil, err
	}
	s.logger.Info("emergency report rejected", "report_id", id, "reviewer", reviewerID)
	return r, nil
}

// EnsureDispatchable 报告存在、未被驳回且未关闭
func (s *Service) EnsureDispatchable(ctx context.Context, id string) error {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Approval.Status == ApprovalRejected || r.Closed() {
		return fmt.Errorf("%w: %s is %s/%s", ErrNotDispatchable, id, r.Status, r.Approval.Status)
	}
	return nil
}

// MarkAssigned 有志愿者接受派遣后标记为 assigned
func (s *Service) MarkAssigned(ctx context.Context, id string) error {
	_, err := s.store.SetStatus(ctx, id, StatusAssigned, s.now().UTC())
	return err
}

// MarkResolved 标记为已解决；已关闭的报告保持不变
func (s *Service) MarkResolved(ctx context.Context, id string) error {
	r, err := s.store.SetStatus(ctx, id, StatusResolved, s.now().UTC())
	if err != nil {
		return err
	}
	s.logger.Info("emergency report resolved", "report_id", id, "status", r.Status)
	return nil
}

func validateReason(reason string) (string, error) {
	r := strings.TrimSpace(reason)
	n := utf8.RuneCountInString(r)
	if n < minReasonLength {
		return "", pkgerrors.Invalid("reason", "must be at least %d characters", minReasonLength)
	}
	if n > maxReasonLength {
		return "", pkgerrors.Invalid("reason", "must be at most %d characters", maxReasonLength)
	}
	return r, nil
}
