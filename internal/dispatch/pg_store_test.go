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
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgerrors "dispatch-ledger/pkg/errors"
	"dispatch-ledger/pkg/proof"
)

func testPgDSN(t *testing.T) string {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping Postgres dispatch store tests")
	}
	return dsn
}

func newTestPgStore(t *testing.T, ctx context.Context) *PgStore {
	store, err := NewPgStore(ctx, testPgDSN(t), 4)
	if err != nil {
		t.Fatalf("NewPgStore: %v", err)
	}
	_, _ = store.pool.Exec(ctx, `DELETE FROM dispatch_events`)
	_, _ = store.pool.Exec(ctx, `DELETE FROM dispatches`)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newOffer(emergencyID, volunteerID string) *Dispatch {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Dispatch{
		ID:          uuid.New().String(),
		EmergencyID: emergencyID,
		VolunteerID: volunteerID,
		Status:      StatusPending,
		Anchor:      Anchor{Status: AnchorNone},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPgStore_AcceptAndConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestPgStore(t, ctx)

	a, b := newOffer("e1", "v1"), newOffer("e2", "v1")
	if err := store.CreateOffers(ctx, []*Dispatch{a, b}); err != nil {
		t.Fatalf("CreateOffers: %v", err)
	}
	if err := store.CreateOffers(ctx, []*Dispatch{newOffer("e1", "v1")}); !errors.Is(err, pkgerrors.ErrConflict) {
		t.Fatalf("duplicate pending offer: got %v", err)
	}

	res, err := store.Accept(ctx, a.ID, "v1", time.Now().UTC(), "superseded")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Accepted.Status != StatusAccepted || len(res.Superseded) != 1 || res.Superseded[0].ID != b.ID {
		t.Fatalf("unexpected accept result: %+v", res)
	}

	c := newOffer("e3", "v1")
	if err := store.CreateOffers(ctx, []*Dispatch{c}); err != nil {
		t.Fatalf("CreateOffers: %v", err)
	}
	if _, err := store.Accept(ctx, c.ID, "v1", time.Now().UTC(), "superseded"); !errors.Is(err, ErrActiveDispatch) {
		t.Fatalf("second accept: got %v", err)
	}
}

func TestPgStore_UpdateIsConditional(t *testing.T) {
	ctx := context.Background()
	store := newTestPgStore(t, ctx)
	d := newOffer("e1", "v1")
	if err := store.CreateOffers(ctx, []*Dispatch{d}); err != nil {
		t.Fatal(err)
	}
	cur, err := store.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	stale := cur.Clone()

	cur.Status = StatusDeclined
	if err := store.Update(ctx, cur, StatusPending); err != nil {
		t.Fatalf("Update: %v", err)
	}
	stale.Status = StatusCancelled
	if err := store.Update(ctx, stale, StatusPending); !errors.Is(err, pkgerrors.ErrConflict) {
		t.Fatalf("stale update: got %v", err)
	}
}

func TestPgStore_EventChain(t *testing.T) {
	ctx := context.Background()
	store := newTestPgStore(t, ctx)
	for _, typ := range []string{EventOffered, EventAccepted, EventCompleted} {
		if _, err := store.AppendEvent(ctx, proof.Event{DispatchID: "d1", Type: typ, Payload: "{}", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	events, err := store.ListEvents(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if err := proof.ValidateChain(events); err != nil {
		t.Fatalf("chain: %v", err)
	}
}
