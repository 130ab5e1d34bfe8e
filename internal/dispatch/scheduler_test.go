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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-ledger/internal/ledger"
)

func verifiedWithFailure(t *testing.T, h *harness, volunteerID string, failure error) *Dispatch {
	t.Helper()
	h.recorder.mu.Lock()
	h.recorder.errs = append(h.recorder.errs, failure)
	h.recorder.mu.Unlock()
	d := h.done(t, "e-"+volunteerID, volunteerID)
	v, err := h.wf.Verify(context.Background(), d.ID, "lgu-2")
	require.NoError(t, err)
	require.Equal(t, AnchorFailed, v.Anchor.Status)
	return v
}

func TestAnchorScheduler_RetriesRetryableFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	retryable := verifiedWithFailure(t, h, "v1", fmt.Errorf("%w: dial tcp", ledger.ErrUnavailable))
	fatal := verifiedWithFailure(t, h, "v2", fmt.Errorf("%w: no contract code", ledger.ErrMisconfigured))

	s := NewAnchorScheduler(h.wf, AnchorSchedulerConfig{Backoff: time.Minute, MaxAttempts: 3}, nil)

	// 未到退避时间
	assert.Equal(t, 0, s.Tick(ctx))

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, s.Tick(ctx))
	s.Stop()

	got, err := h.store.Get(ctx, retryable.ID)
	require.NoError(t, err)
	assert.Equal(t, AnchorAnchored, got.Anchor.Status)
	assert.Equal(t, 2, got.Anchor.Attempts)

	untouched, err := h.store.Get(ctx, fatal.ID)
	require.NoError(t, err)
	assert.Equal(t, AnchorFailed, untouched.Anchor.Status)
	assert.Equal(t, 1, untouched.Anchor.Attempts)
}

func TestAnchorScheduler_RespectsMaxAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	timeout := fmt.Errorf("%w: tx 0x1", ledger.ErrConfirmationTimeout)
	d := verifiedWithFailure(t, h, "v1", timeout)

	h.recorder.mu.Lock()
	h.recorder.errs = []error{timeout, timeout, timeout}
	h.recorder.mu.Unlock()

	s := NewAnchorScheduler(h.wf, AnchorSchedulerConfig{MaxAttempts: 2}, nil)
	assert.Equal(t, 1, s.Tick(ctx))
	s.Stop()
	assert.Equal(t, 0, s.Tick(ctx))

	got, err := h.store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, AnchorFailed, got.Anchor.Status)
	assert.Equal(t, 2, got.Anchor.Attempts)
}

func TestAnchorScheduler_StartStop(t *testing.T) {
	h := newHarness(t)
	verifiedWithFailure(t, h, "v1", fmt.Errorf("%w: dial tcp", ledger.ErrUnavailable))

	s := NewAnchorScheduler(h.wf, AnchorSchedulerConfig{PollInterval: 10 * time.Millisecond, MaxConcurrency: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool {
		list, err := h.store.List(context.Background(), Filter{Statuses: []Status{StatusVerified}})
		return err == nil && len(list) == 1 && list[0].Anchor.Status == AnchorAnchored
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()
}
