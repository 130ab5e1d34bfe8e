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
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerrors "dispatch-ledger/pkg/errors"
	"dispatch-ledger/pkg/proof"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const dispatchColumns = `id, emergency_id, volunteer_id, dispatched_by, status, proofs, responded_at, completed_at,
	verified_at, verified_by, cancel_reason, cancelled_by, anchor, created_at, updated_at, version`

// PgStore Postgres 实现：dispatches 与 dispatch_events 表，API 与 Worker 共享
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore 连接数据库并确保表结构存在
func NewPgStore(ctx context.Context, dsn string, maxConns int32) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &PgStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPgStoreWithPool 使用已有连接池（与 report 存储共享）
func NewPgStoreWithPool(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema 建表（幂等）
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("dispatch schema: %w", err)
	}
	return nil
}

// Close 关闭连接池
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error, index string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return index == "" || pgErr.ConstraintName == index
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func scanDispatch(row pgx.Row) (*Dispatch, error) {
	var d Dispatch
	var status string
	var proofs, anchor []byte
	err := row.Scan(&d.ID, &d.EmergencyID, &d.VolunteerID, &d.DispatchedBy, &status, &proofs,
		&d.RespondedAt, &d.CompletedAt, &d.VerifiedAt, &d.VerifiedBy, &d.CancelReason, &d.CancelledBy,
		&anchor, &d.CreatedAt, &d.UpdatedAt, &d.Version)
	if err != nil {
		return nil, err
	}
	d.Status = Status(status)
	if len(proofs) > 0 {
		if err := json.Unmarshal(proofs, &d.Proofs); err != nil {
			return nil, fmt.Errorf("decode proofs of %s: %w", d.ID, err)
		}
	}
	if len(anchor) > 0 {
		if err := json.Unmarshal(anchor, &d.Anchor); err != nil {
			return nil, fmt.Errorf("decode anchor of %s: %w", d.ID, err)
		}
	}
	if d.Anchor.Status == "" {
		d.Anchor.Status = AnchorNone
	}
	return &d, nil
}

func collectDispatches(rows pgx.Rows) ([]*Dispatch, error) {
	defer rows.Close()
	var list []*Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func (s *PgStore) CreateOffers(ctx context.Context, offers []*Dispatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, o := range offers {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		proofs, anchor, err := encodeJSONColumns(o)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO dispatches (id, emergency_id, volunteer_id, dispatched_by, status, proofs, anchor_status, anchor, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)`,
			o.ID, o.EmergencyID, o.VolunteerID, o.DispatchedBy, string(o.Status), proofs, string(o.Anchor.Status), anchor, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "") {
				return pkgerrors.Wrapf(pkgerrors.ErrConflict, "pending offer exists for volunteer %s", o.VolunteerID)
			}
			return err
		}
		o.Version = 1
	}
	return tx.Commit(ctx)
}

func encodeJSONColumns(d *Dispatch) (proofs, anchor []byte, err error) {
	list := d.Proofs
	if list == nil {
		list = []ProofRef{}
	}
	if proofs, err = json.Marshal(list); err != nil {
		return nil, nil, err
	}
	a := d.Anchor
	if a.Status == "" {
		a.Status = AnchorNone
	}
	if anchor, err = json.Marshal(a); err != nil {
		return nil, nil, err
	}
	return proofs, anchor, nil
}

func (s *PgStore) Get(ctx context.Context, id string) (*Dispatch, error) {
	d, err := scanDispatch(s.pool.QueryRow(ctx, `SELECT `+dispatchColumns+` FROM dispatches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "dispatch %s", id)
	}
	return d, err
}

func (s *PgStore) List(ctx context.Context, f Filter) ([]*Dispatch, error) {
	var where []string
	var args []interface{}
	if f.VolunteerID != "" {
		args = append(args, f.VolunteerID)
		where = append(where, fmt.Sprintf("volunteer_id = $%d", len(args)))
	}
	if f.EmergencyID != "" {
		args = append(args, f.EmergencyID)
		where = append(where, fmt.Sprintf("emergency_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	query := `SELECT ` + dispatchColumns + ` FROM dispatches`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectDispatches(rows)
}

func (s *PgStore) Update(ctx context.Context, d *Dispatch, expect Status) error {
	proofs, anchor, err := encodeJSONColumns(d)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE dispatches SET status = $3, proofs = $4, responded_at = $5, completed_at = $6, verified_at = $7,
			verified_by = $8, cancel_reason = $9, cancelled_by = $10, anchor_status = $11, anchor = $12,
			anchor_updated_at = $13, updated_at = $14, version = version + 1
		 WHERE id = $1 AND status = $2 AND version = $15`,
		d.ID, string(expect), string(d.Status), proofs, nullTime(d.RespondedAt), nullTime(d.CompletedAt), nullTime(d.VerifiedAt),
		d.VerifiedBy, d.CancelReason, d.CancelledBy, string(d.Anchor.Status), anchor,
		nullTime(d.Anchor.UpdatedAt), d.UpdatedAt, d.Version)
	if err != nil {
		if isUniqueViolation(err, "dispatches_volunteer_active_uniq") {
			return ErrActiveDispatch
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, d.ID); err != nil {
			return err
		}
		return pkgerrors.Wrapf(pkgerrors.ErrConflict, "dispatch %s changed concurrently", d.ID)
	}
	d.Version++
	return nil
}

func (s *PgStore) Accept(ctx context.Context, id, volunteerID string, at time.Time, supersedeReason string) (AcceptResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AcceptResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	accepted, err := scanDispatch(tx.QueryRow(ctx,
		`UPDATE dispatches SET status = 'ACCEPTED', responded_at = $3, updated_at = $3, version = version + 1
		 WHERE id = $1 AND volunteer_id = $2 AND status = 'PENDING'
		 RETURNING `+dispatchColumns,
		id, volunteerID, at))
	if err != nil {
		if isUniqueViolation(err, "dispatches_volunteer_active_uniq") {
			return AcceptResult{}, ErrActiveDispatch
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return AcceptResult{}, err
		}
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return AcceptResult{}, gerr
		}
		if cur.VolunteerID != volunteerID {
			return AcceptResult{}, ErrNotAssigned
		}
		return AcceptResult{}, &TransitionError{From: cur.Status, To: StatusAccepted}
	}

	rows, err := tx.Query(ctx,
		`UPDATE dispatches SET status = 'CANCELLED', cancel_reason = $3, responded_at = $4, updated_at = $4, version = version + 1
		 WHERE volunteer_id = $1 AND id <> $2 AND status = 'PENDING'
		 RETURNING `+dispatchColumns,
		volunteerID, id, supersedeReason, at)
	if err != nil {
		return AcceptResult{}, err
	}
	superseded, err := collectDispatches(rows)
	if err != nil {
		return AcceptResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return AcceptResult{}, err
	}
	return AcceptResult{Accepted: accepted, Superseded: superseded}, nil
}

func (s *PgStore) UpdateAnchor(ctx context.Context, id string, expect AnchorStatus, a Anchor) (*Dispatch, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	d, err := scanDispatch(s.pool.QueryRow(ctx,
		`UPDATE dispatches SET anchor_status = $3, anchor = $4, anchor_updated_at = $5,
			updated_at = COALESCE($5, updated_at), version = version + 1
		 WHERE id = $1 AND anchor_status = $2
		 RETURNING `+dispatchColumns,
		id, string(expect), string(a.Status), data, nullTime(a.UpdatedAt)))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, pkgerrors.Wrapf(pkgerrors.ErrConflict, "dispatch %s anchor changed concurrently", id)
	}
	return d, err
}

func (s *PgStore) ListAnchorable(ctx context.Context, staleBefore time.Time, limit int) ([]*Dispatch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+dispatchColumns+` FROM dispatches
		 WHERE status = 'VERIFIED' AND (
			(anchor_status = 'failed' AND (anchor->>'retryable')::boolean)
			OR (anchor_status = 'pending' AND anchor_updated_at < $1))
		 ORDER BY anchor_updated_at NULLS FIRST
		 LIMIT $2`,
		staleBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectDispatches(rows)
}

func (s *PgStore) AppendEvent(ctx context.Context, e proof.Event) (proof.Event, error) {
	if e.DispatchID == "" {
		return proof.Event{}, fmt.Errorf("event dispatch id is required")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return proof.Event{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 同一派遣的追加串行化，保证哈希链线性
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.DispatchID); err != nil {
		return proof.Event{}, err
	}
	var prev string
	err = tx.QueryRow(ctx,
		`SELECT hash FROM dispatch_events WHERE dispatch_id = $1 ORDER BY seq DESC LIMIT 1`, e.DispatchID).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return proof.Event{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	e = proof.ChainEvent(e, prev)
	if _, err := tx.Exec(ctx,
		`INSERT INTO dispatch_events (id, dispatch_id, type, actor_id, payload, created_at, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.DispatchID, e.Type, e.ActorID, e.Payload, e.CreatedAt, e.PrevHash, e.Hash); err != nil {
		return proof.Event{}, err
	}
	return e, tx.Commit(ctx)
}

func (s *PgStore) ListEvents(ctx context.Context, dispatchID string) ([]proof.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dispatch_id, type, actor_id, payload, created_at, prev_hash, hash
		 FROM dispatch_events WHERE dispatch_id = $1 ORDER BY seq`, dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []proof.Event
	for rows.Next() {
		var e proof.Event
		if err := rows.Scan(&e.ID, &e.DispatchID, &e.Type, &e.ActorID, &e.Payload, &e.CreatedAt, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
