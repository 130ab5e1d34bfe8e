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

package challenge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"dispatch-ledger/internal/storage/cache"
)

// inbox 记录投递的验证码
type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *inbox) Deliver(_ context.Context, _, code, challengeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codes == nil {
		b.codes = make(map[string]string)
	}
	b.codes[challengeID] = code
	return nil
}

func (b *inbox) code(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[id]
}

func newTestService(t *testing.T, cfg Config) (*Service, *inbox) {
	t.Helper()
	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	box := &inbox{}
	return NewService(store, box, cfg, WithBcryptCost(bcrypt.MinCost)), box
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestCreateAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, box := newTestService(t, Config{})

	issued, err := svc.Create(ctx, "admin-1", "admin@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ChallengeID)
	assert.Equal(t, "ad***@example.com", issued.DeliveryTarget)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), issued.ExpiresAt, 5*time.Second)

	code := box.code(issued.ChallengeID)
	require.Len(t, code, 6)

	require.NoError(t, svc.Verify(ctx, issued.ChallengeID, "admin-1", code))

	err = svc.Verify(ctx, issued.ChallengeID, "admin-1", code)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestVerifyAttemptCeiling(t *testing.T) {
	ctx := context.Background()
	svc, box := newTestService(t, Config{})

	issued, err := svc.Create(ctx, "admin-1", "admin@example.com")
	require.NoError(t, err)
	code := box.code(issued.ChallengeID)

	for i := 0; i < DefaultMaxAttempts; i++ {
		err := svc.Verify(ctx, issued.ChallengeID, "admin-1", wrongCode(code))
		require.ErrorIs(t, err, ErrCodeMismatch, "attempt %d", i+1)
	}

	err = svc.Verify(ctx, issued.ChallengeID, "admin-1", code)
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	err = svc.Verify(ctx, issued.ChallengeID, "admin-1", code)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestVerifySucceedsOnLastAllowedAttempt(t *testing.T) {
	ctx := context.Background()
	svc, box := newTestService(t, Config{})

	issued, err := svc.Create(ctx, "admin-1", "admin@example.com")
	require.NoError(t, err)
	code := box.code(issued.ChallengeID)

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		err := svc.Verify(ctx, issued.ChallengeID, "admin-1", wrongCode(code))
		require.ErrorIs(t, err, ErrCodeMismatch)
	}
	n, err := svc.Attempts(ctx, issued.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultMaxAttempts-1), n)

	require.NoError(t, svc.Verify(ctx, issued.ChallengeID, "admin-1", code))
}

func TestVerifyExpired(t *testing.T) {
	ctx := context.Background()
	svc, box := newTestService(t, Config{TTL: 50 * time.Millisecond})

	issued, err := svc.Create(ctx, "admin-1", "admin@example.com")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	err = svc.Verify(ctx, issued.ChallengeID, "admin-1", box.code(issued.ChallengeID))
	assert.ErrorIs(t, err, ErrChallengeExpired)

	err = svc.Verify(ctx, "unknown", "admin-1", "123456")
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestVerifyConcurrentConsumesOnce(t *testing.T) {
	ctx := context.Background()
	svc, box := newTestService(t, Config{})

	issued, err := svc.Create(ctx, "admin-1", "admin@example.com")
	require.NoError(t, err)
	code := box.code(issued.ChallengeID)

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Verify(ctx, issued.ChallengeID, "admin-1", code); err == nil {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok)
}

func TestCreateThrottle(t *testing.T) {
	ctx := context.Background()

	t.Run("cooldown", func(t *testing.T) {
		svc, _ := newTestService(t, Config{ResendCooldown: time.Minute})
		_, err := svc.Create(ctx, "admin-1", "admin@example.com")
		require.NoError(t, err)
		_, err = svc.Create(ctx, "admin-1", "admin@example.com")
		assert.ErrorIs(t, err, ErrResendTooSoon)

		_, err = svc.Create(ctx, "admin-2", "other@example.com")
		assert.NoError(t, err)
	})

	t.Run("hourly cap", func(t *testing.T) {
		svc, _ := newTestService(t, Config{MaxSendsPerHour: 2})
		for i := 0; i < 2; i++ {
			_, err := svc.Create(ctx, "admin-1", "admin@example.com")
			require.NoError(t, err)
		}
		_, err := svc.Create(ctx, "admin-1", "admin@example.com")
		assert.ErrorIs(t, err, ErrTooManySends)
	})
}

func TestCreateDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	defer store.Close()

	boom := errors.New("smtp down")
	var id string
	svc := NewService(store, DelivererFunc(func(_ context.Context, _, _, challengeID string) error {
		id = challengeID
		return boom
	}), Config{}, WithBcryptCost(bcrypt.MinCost))

	_, err := svc.Create(ctx, "admin-1", "admin@example.com")
	require.ErrorIs(t, err, boom)
	require.NotEmpty(t, id)

	err = svc.Verify(ctx, id, "admin-1", "000000")
	assert.ErrorIs(t, err, ErrChallengeExpired)
	assert.Equal(t, 0, store.Len())
}

func TestCreateRequiresActorAndTarget(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	_, err := svc.Create(context.Background(), "", "admin@example.com")
	assert.Error(t, err)
	_, err = svc.Create(context.Background(), "admin-1", " ")
	assert.Error(t, err)
}

func TestVerifyRateLimited(t *testing.T) {
	ctx := context.Background()
	svc, box := newTestService(t, Config{VerifyRPS: 0.1})

	issued, err := svc.Create(ctx, "admin-1", "admin@example.com")
	require.NoError(t, err)
	code := box.code(issued.ChallengeID)

	err = svc.Verify(ctx, issued.ChallengeID, "admin-1", wrongCode(code))
	require.ErrorIs(t, err, ErrCodeMismatch)
	err = svc.Verify(ctx, issued.ChallengeID, "admin-1", code)
	assert.ErrorIs(t, err, ErrRateLimited)

	// 限流的请求不计入尝试次数
	n, err := svc.Attempts(ctx, issued.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestVerifyOtherActorDoesNotSpendAttempts(t *testing.T) {
	ctx := context.Background()
	svc, box := newTestService(t, Config{VerifyRPS: 0.1})

	issued, err := svc.Create(ctx, "admin-1", "admin@example.com")
	require.NoError(t, err)
	code := box.code(issued.ChallengeID)

	for i := 0; i < DefaultMaxAttempts+1; i++ {
		err := svc.Verify(ctx, issued.ChallengeID, "admin-2", code)
		require.ErrorIs(t, err, ErrNotOwner, "attempt %d", i+1)
	}
	err = svc.Verify(ctx, issued.ChallengeID, "", code)
	require.ErrorIs(t, err, ErrNotOwner)

	n, err := svc.Attempts(ctx, issued.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// 挑战仍有效，且未占用本人的限流额度
	require.NoError(t, svc.Verify(ctx, issued.ChallengeID, "admin-1", code))
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', code)
		}
	}
}

func TestMaskTarget(t *testing.T) {
	cases := map[string]string{
		"admin@example.com": "ad***@example.com",
		"a@example.com":     "a***@example.com",
		"@example.com":      "****",
		"+639171234567":     "*********4567",
		"123":               "****",
	}
	for in, want := range cases {
		assert.Equal(t, want, MaskTarget(in), in)
	}
}
