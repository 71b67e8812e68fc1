package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tan-res-space/rag-interface-sub006/internal/verification"
)

// VerificationStore persists verification records in the
// verification_records table.
//
// Obtain one via [Store.Verifications] rather than constructing directly.
// All methods are safe for concurrent use.
type VerificationStore struct {
	pool *pgxpool.Pool
}

// Create implements [verification.Store]. The record's version is forced to 1.
func (s *VerificationStore) Create(ctx context.Context, rec *verification.Record) error {
	const q = `
		INSERT INTO verification_records
		    (id, correction_id, status, metrics, categories, quality_score,
		     feedback, verified_by, created_at, verified_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)`

	_, err := s.pool.Exec(ctx, q,
		rec.ID,
		rec.CorrectionID,
		rec.Status,
		rec.Metrics,
		rec.Categories,
		rec.QualityScore,
		rec.Feedback,
		rec.VerifiedBy,
		rec.CreatedAt,
		rec.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("verification store: create record: %w", err)
	}
	rec.Version = 1
	return nil
}

// Get implements [verification.Store].
func (s *VerificationStore) Get(ctx context.Context, id string) (*verification.Record, error) {
	const q = selectRecords + ` WHERE id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("verification store: get record: %w", err)
	}
	rec, err := pgx.CollectOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, verification.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("verification store: scan record: %w", err)
	}
	return &rec, nil
}

// Update implements [verification.Store]. The write succeeds only when the
// stored version matches rec.Version; a lost race returns
// [verification.ErrVersionConflict].
func (s *VerificationStore) Update(ctx context.Context, rec *verification.Record) error {
	const q = `
		UPDATE verification_records
		SET    status = $1, metrics = $2, quality_score = $3, feedback = $4,
		       verified_by = $5, verified_at = $6, version = version + 1
		WHERE  id = $7 AND version = $8`

	tag, err := s.pool.Exec(ctx, q,
		rec.Status,
		rec.Metrics,
		rec.QualityScore,
		rec.Feedback,
		rec.VerifiedBy,
		rec.VerifiedAt,
		rec.ID,
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("verification store: update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing record from a lost race.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM verification_records WHERE id = $1)`,
			rec.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("verification store: update record: %w", err)
		}
		if !exists {
			return verification.ErrNotFound
		}
		return verification.ErrVersionConflict
	}
	rec.Version++
	return nil
}

// List implements [verification.Store]. Results are ordered newest first.
func (s *VerificationStore) List(ctx context.Context, f verification.Filter) ([]verification.Record, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if f.Status != "" {
		conditions = append(conditions, "status = "+next(f.Status))
	}
	if f.Category != "" {
		conditions = append(conditions, next(f.Category)+" = ANY(categories)")
	}

	q := selectRecords
	if len(conditions) > 0 {
		q += "\nWHERE " + strings.Join(conditions, "\n  AND ")
	}
	q += "\nORDER BY created_at DESC"
	if f.Limit > 0 {
		q += "\nLIMIT " + next(f.Limit)
	}
	if f.Offset > 0 {
		q += "\nOFFSET " + next(f.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("verification store: list records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("verification store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []verification.Record{}
	}
	return recs, nil
}

const selectRecords = `
	SELECT id, correction_id, status, metrics, categories, quality_score,
	       feedback, verified_by, created_at, verified_at, version
	FROM   verification_records`

// scanRecord scans one row in selectRecords column order.
func scanRecord(row pgx.CollectableRow) (verification.Record, error) {
	var rec verification.Record
	err := row.Scan(
		&rec.ID,
		&rec.CorrectionID,
		&rec.Status,
		&rec.Metrics,
		&rec.Categories,
		&rec.QualityScore,
		&rec.Feedback,
		&rec.VerifiedBy,
		&rec.CreatedAt,
		&rec.VerifiedAt,
		&rec.Version,
	)
	return rec, err
}
