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
)

//go:embed schema.sql
var schemaSQL string

const reportColumns = `id, reference_number, is_sos, type, status, approval_status, reviewed_by, reviewed_at,
	review_reason, visible_on_map, latitude, longitude, location_label, description, photos, reporter_id,
	created_at, updated_at`

// PgStore Postgres 实现（emergency_reports 表）
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
	s := &PgStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPgStoreWithPool 使用已有连接池（与 dispatch 存储共享）
func NewPgStoreWithPool(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema 建表（幂等）
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("report schema: %w", err)
	}
	return nil
}

// Close 关闭连接池
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

func scanReport(row pgx.Row) (*Report, error) {
	var r Report
	var typ, status, approval string
	var photos []byte
	err := row.Scan(&r.ID, &r.ReferenceNumber, &r.IsSOS, &typ, &status, &approval, &r.Approval.ReviewedBy,
		&r.Approval.ReviewedAt, &r.Approval.Reason, &r.VisibleOnMap, &r.Location.Latitude, &r.Location.Longitude,
		&r.Location.Label, &r.Description, &photos, &r.ReporterID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Type = Type(typ)
	r.Status = Status(status)
	r.Approval.Status = ApprovalStatus(approval)
	if len(photos) > 0 {
		if err := json.Unmarshal(photos, &r.Photos); err != nil {
			return nil, fmt.Errorf("decode photos of %s: %w", r.ID, err)
		}
	}
	if len(r.Photos) == 0 {
		r.Photos = nil
	}
	return &r, nil
}

func (s *PgStore) Create(ctx context.Context, r *Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	photos := r.Photos
	if photos == nil {
		photos = []string{}
	}
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO emergency_reports (id, reference_number, is_sos, type, status, approval_status, visible_on_map,
			latitude, longitude, location_label, description, photos, reporter_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.ReferenceNumber, r.IsSOS, string(r.Type), string(r.Status), string(r.Approval.Status), r.VisibleOnMap,
		r.Location.Latitude, r.Location.Longitude, r.Location.Label, r.Description, photosJSON, r.ReporterID,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return pkgerrors.Wrapf(pkgerrors.ErrConflict, "reference number %s", r.ReferenceNumber)
		}
		return err
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id string) (*Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM emergency_reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "report %s", id)
	}
	return r, err
}

func (s *PgStore) GetByReference(ctx context.Context, ref string) (*Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM emergency_reports WHERE reference_number = $1`, strings.ToUpper(ref)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "report %s", ref)
	}
	return r, err
}

func (s *PgStore) List(ctx context.Context, f Filter) ([]*Report, error) {
	var where []string
	var args []interface{}
	if f.Approval != "" {
		args = append(args, string(f.Approval))
		where = append(where, fmt.Sprintf("approval_status = $%d", len(args)))
	}
	if f.ExcludeSOS {
		where = append(where, "NOT is_sos")
	}
	if f.MapVisible {
		where = append(where, "(is_sos OR approval_status = 'approved')")
	}
	query := `SELECT ` + reportColumns + ` FROM emergency_reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (s *PgStore) Review(ctx context.Context, id string, rv Review) (*Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`UPDATE emergency_reports
		    SET approval_status = $2, reviewed_by = $3, reviewed_at = $4, review_reason = $5,
		        visible_on_map = $6, updated_at = $4
		  WHERE id = $1 AND approval_status = 'pending' AND NOT is_sos
		  RETURNING `+reportColumns,
		id, string(rv.Decision), rv.ReviewerID, rv.At, rv.Reason, rv.Decision == ApprovalApproved))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotPending
	}
	return r, err
}

func (s *PgStore) SetStatus(ctx context.Context, id string, status Status, at time.Time) (*Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`UPDATE emergency_reports SET status = $2, updated_at = $3
		  WHERE id = $1 AND status NOT IN ('resolved', 'cancelled')
		  RETURNING `+reportColumns,
		id, string(status), at))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.Get(ctx, id)
	}
	return r, err
}
