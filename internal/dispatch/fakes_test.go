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
	"sync"
	"time"

	"dispatch-ledger/internal/ledger"
	"dispatch-ledger/pkg/proof"
)

// fakeRecorder 账本写入替身：按 errs 顺序返回错误，耗尽后成功
type fakeRecorder struct {
	mu       sync.Mutex
	calls    []proof.RecordPayload
	errs     []error
	recorded map[string]bool
	delay    time.Duration
}

func (r *fakeRecorder) RecordVerifiedEvent(ctx context.Context, payload proof.RecordPayload) (ledger.Result, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ledger.Result{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return ledger.Result{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, payload)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return ledger.Result{}, err
	}
	digest, err := proof.RecordHash(payload)
	if err != nil {
		return ledger.Result{}, err
	}
	if r.recorded == nil {
		r.recorded = make(map[string]bool)
	}
	block := uint64(42)
	rec := ledger.Record{
		Network:         "ganache",
		ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		TxHash:          "0xabc",
		BlockNumber:     &block,
		RecordHash:      digest.Hex(),
		RecordedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if r.recorded[digest.Hex()] {
		rec.TxHash = ledger.AlreadyRecordedTxHash
		rec.BlockNumber = nil
		return ledger.Result{Outcome: ledger.OutcomeAlreadyRecorded, Record: rec}, nil
	}
	r.recorded[digest.Hex()] = true
	return ledger.Result{Outcome: ledger.OutcomeWritten, Record: rec}, nil
}

func (r *fakeRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// fakeEmergencies 记录被标记的事件
type fakeEmergencies struct {
	mu       sync.Mutex
	assigned []string
	resolved []string
	missing  map[string]bool
}

var errEmergencyMissing = errors.New("emergency not found")

func (e *fakeEmergencies) EnsureDispatchable(ctx context.Context, id string) error {
	if e.missing[id] {
		return errEmergencyMissing
	}
	return nil
}

func (e *fakeEmergencies) MarkAssigned(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assigned = append(e.assigned, id)
	return nil
}

func (e *fakeEmergencies) MarkResolved(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolved = append(e.resolved, id)
	return nil
}

// testClock 可推进的时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
