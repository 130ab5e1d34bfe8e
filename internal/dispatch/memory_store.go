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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "dispatch-ledger/pkg/errors"
	"dispatch-ledger/pkg/proof"
)

// memoryStore 内存实现，供测试与单机开发
type memoryStore struct {
	mu         sync.Mutex
	dispatches map[string]*Dispatch
	events     map[string][]proof.Event
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() Store {
	return &memoryStore{
		dispatches: make(map[string]*Dispatch),
		events:     make(map[string][]proof.Event),
	}
}

func (s *memoryStore) CreateOffers(ctx context.Context, offers []*Dispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range offers {
		for _, existing := range s.dispatches {
			if existing.Status == StatusPending && existing.EmergencyID == o.EmergencyID && existing.VolunteerID == o.VolunteerID {
				return pkgerrors.Wrapf(pkgerrors.ErrConflict, "pending offer exists for volunteer %s", o.VolunteerID)
			}
		}
		for _, prev := range offers[:i] {
			if prev.EmergencyID == o.EmergencyID && prev.VolunteerID == o.VolunteerID {
				return pkgerrors.Wrapf(pkgerrors.ErrConflict, "duplicate offer for volunteer %s", o.VolunteerID)
			}
		}
	}
	for _, o := range offers {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		o.Version = 1
		s.dispatches[o.ID] = o.Clone()
	}
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispatches[id]
	if !ok {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "dispatch %s", id)
	}
	return d.Clone(), nil
}

func (s *memoryStore) List(ctx context.Context, f Filter) ([]*Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Dispatch
	for _, d := range s.dispatches {
		if matches(d, f) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(d *Dispatch, f Filter) bool {
	if f.VolunteerID != "" && d.VolunteerID != f.VolunteerID {
		return false
	}
	if f.EmergencyID != "" && d.EmergencyID != f.EmergencyID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if d.Status == st {
			return true
		}
	}
	return false
}

func (s *memoryStore) Update(ctx context.Context, d *Dispatch, expect Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.dispatches[d.ID]
	if !ok {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "dispatch %s", d.ID)
	}
	if cur.Status != expect || cur.Version != d.Version {
		return pkgerrors.Wrapf(pkgerrors.ErrConflict, "dispatch %s is %s", d.ID, cur.Status)
	}
	if d.Status == StatusAccepted && cur.Status != StatusAccepted {
		if active := s.activeFor(d.VolunteerID, d.ID); active != nil {
			return ErrActiveDispatch
		}
	}
	d.Version++
	s.dispatches[d.ID] = d.Clone()
	return nil
}

// activeFor 志愿者除 exclude 以外的 ACCEPTED 派遣；调用方持有锁
func (s *memoryStore) activeFor(volunteerID, exclude string) *Dispatch {
	for id, d := range s.dispatches {
		if id != exclude && d.VolunteerID == volunteerID && d.Status == StatusAccepted {
			return d
		}
	}
	return nil
}

func (s *memoryStore) Accept(ctx context.Context, id, volunteerID string, at time.Time, supersedeReason string) (AcceptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.dispatches[id]
	if !ok {
		return AcceptResult{}, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "dispatch %s", id)
	}
	if cur.VolunteerID != volunteerID {
		return AcceptResult{}, ErrNotAssigned
	}
	if err := checkTransition(cur.Status, StatusAccepted); err != nil {
		return AcceptResult{}, err
	}
	if s.activeFor(volunteerID, id) != nil {
		return AcceptResult{}, ErrActiveDispatch
	}

	cur.Status = StatusAccepted
	cur.RespondedAt = &at
	cur.UpdatedAt = at
	cur.Version++
	res := AcceptResult{Accepted: cur.Clone()}

	for oid, d := range s.dispatches {
		if oid == id || d.VolunteerID != volunteerID || d.Status != StatusPending {
			continue
		}
		d.Status = StatusCancelled
		d.CancelReason = supersedeReason
		d.RespondedAt = &at
		d.UpdatedAt = at
		d.Version++
		res.Superseded = append(res.Superseded, d.Clone())
	}
	sort.Slice(res.Superseded, func(i, j int) bool { return res.Superseded[i].ID < res.Superseded[j].ID })
	return res, nil
}

func (s *memoryStore) UpdateAnchor(ctx context.Context, id string, expect AnchorStatus, a Anchor) (*Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.dispatches[id]
	if !ok {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "dispatch %s", id)
	}
	if cur.Anchor.Status != expect {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrConflict, "dispatch %s anchor is %s", id, cur.Anchor.Status)
	}
	next := cur.Clone()
	next.Anchor = a
	if a.UpdatedAt != nil {
		next.UpdatedAt = *a.UpdatedAt
	}
	next.Version++
	s.dispatches[id] = next
	return next.Clone(), nil
}

func (s *memoryStore) ListAnchorable(ctx context.Context, staleBefore time.Time, limit int) ([]*Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Dispatch
	for _, d := range s.dispatches {
		if anchorable(d, staleBefore) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return anchorTime(out[i]).Before(anchorTime(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func anchorable(d *Dispatch, staleBefore time.Time) bool {
	if d.Status != StatusVerified {
		return false
	}
	switch d.Anchor.Status {
	case AnchorFailed:
		return d.Anchor.Retryable
	case AnchorPending:
		return anchorTime(d).Before(staleBefore)
	}
	return false
}

func anchorTime(d *Dispatch) time.Time {
	if d.Anchor.UpdatedAt != nil {
		return *d.Anchor.UpdatedAt
	}
	return d.UpdatedAt
}

func (s *memoryStore) AppendEvent(ctx context.Context, e proof.Event) (proof.Event, error) {
	if e.DispatchID == "" {
		return proof.Event{}, fmt.Errorf("event dispatch id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	chain := s.events[e.DispatchID]
	prev := ""
	if len(chain) > 0 {
		prev = chain[len(chain)-1].Hash
	}
	e = proof.ChainEvent(e, prev)
	s.events[e.DispatchID] = append(chain, e)
	return e, nil
}

func (s *memoryStore) ListEvents(ctx context.Context, dispatchID string) ([]proof.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proof.Event(nil), s.events[dispatchID]...), nil
}

func (s *memoryStore) Close() error { return nil }
