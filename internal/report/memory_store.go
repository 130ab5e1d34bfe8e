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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "dispatch-ledger/pkg/errors"
)

type memoryStore struct {
	mu      sync.Mutex
	reports map[string]*Report
	byRef   map[string]string
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() Store {
	return &memoryStore{
		reports: make(map[string]*Report),
		byRef:   make(map[string]string),
	}
}

func (s *memoryStore) Create(ctx context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byRef[r.ReferenceNumber]; ok {
		return pkgerrors.Wrapf(pkgerrors.ErrConflict, "reference number %s", r.ReferenceNumber)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	s.reports[r.ID] = r.Clone()
	s.byRef[r.ReferenceNumber] = r.ID
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "report %s", id)
	}
	return r.Clone(), nil
}

func (s *memoryStore) GetByReference(ctx context.Context, ref string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[strings.ToUpper(ref)]
	if !ok {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "report %s", ref)
	}
	return s.reports[id].Clone(), nil
}

func (s *memoryStore) List(ctx context.Context, f Filter) ([]*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*Report
	for _, r := range s.reports {
		if f.Approval != "" && r.Approval.Status != f.Approval {
			continue
		}
		if f.ExcludeSOS && r.IsSOS {
			continue
		}
		if f.MapVisible && !r.IsSOS && r.Approval.Status != ApprovalApproved {
			continue
		}
		list = append(list, r.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}

func (s *memoryStore) Review(ctx context.Context, id string, rv Review) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "report %s", id)
	}
	if r.IsSOS || r.Approval.Status != ApprovalPending {
		return nil, ErrNotPending
	}
	at := rv.At
	r.Approval = Approval{Status: rv.Decision, ReviewedBy: rv.ReviewerID, ReviewedAt: &at, Reason: rv.Reason}
	r.VisibleOnMap = rv.Decision == ApprovalApproved
	r.UpdatedAt = rv.At
	return r.Clone(), nil
}

func (s *memoryStore) SetStatus(ctx context.Context, id string, status Status, at time.Time) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "report %s", id)
	}
	if !r.Closed() {
		r.Status = status
		r.UpdatedAt = at
	}
	return r.Clone(), nil
}

func (s *memoryStore) Close() error { return nil }
