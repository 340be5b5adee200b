// Package repository stores pipeline results, batch reports and ingest
// sources in PostgreSQL.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akave-ai/anomalog/internal/aggregate"
	"github.com/akave-ai/anomalog/internal/model"
)

const uniqueViolation = "23505"

// ResultRepository is the PostgreSQL aggregate.Store.
type ResultRepository struct {
	pool *pgxpool.Pool
}

var _ aggregate.Store = (*ResultRepository)(nil)

func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Append inserts rec. A second record with the same index in batchID fails
// with aggregate.ErrDuplicateRecord.
func (r *ResultRepository) Append(ctx context.Context, batchID uuid.UUID, rec model.ResultRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO results (batch_id, idx, request_id, score, label, record)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		batchID, rec.Index, rec.Request.ID, rec.Verdict.Score, string(rec.Verdict.Label), body)
	return insertError(err)
}

func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return aggregate.ErrDuplicateRecord
	}
	return err
}

// Results returns the records of batchID in original request order.
func (r *ResultRepository) Results(ctx context.Context, batchID uuid.UUID) ([]model.ResultRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT record FROM results WHERE batch_id = $1 ORDER BY idx`, batchID)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ResultRecord, error) {
		var body []byte
		var rec model.ResultRecord
		if err := row.Scan(&body); err != nil {
			return rec, err
		}
		return rec, json.Unmarshal(body, &rec)
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if _, err := r.Report(ctx, batchID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SaveReport inserts or replaces the report of report.BatchID.
func (r *ResultRepository) SaveReport(ctx context.Context, report model.BatchReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	var finished *time.Time
	if !report.FinishedAt.IsZero() {
		finished = &report.FinishedAt
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO batches (id, source, status, started_at, finished_at, report)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, finished_at = EXCLUDED.finished_at, report = EXCLUDED.report`,
		report.BatchID, report.Source, string(report.Status), report.StartedAt, finished, body)
	return err
}

func (r *ResultRepository) Report(ctx context.Context, batchID uuid.UUID) (model.BatchReport, error) {
	var body []byte
	err := r.pool.QueryRow(ctx, `SELECT report FROM batches WHERE id = $1`, batchID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BatchReport{}, aggregate.ErrBatchNotFound
		}
		return model.BatchReport{}, err
	}
	var report model.BatchReport
	if err := json.Unmarshal(body, &report); err != nil {
		return model.BatchReport{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

// Reports returns every batch report, newest first.
func (r *ResultRepository) Reports(ctx context.Context) ([]model.BatchReport, error) {
	rows, err := r.pool.Query(ctx, `SELECT report FROM batches ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.BatchReport, error) {
		var body []byte
		var report model.BatchReport
		if err := row.Scan(&body); err != nil {
			return report, err
		}
		return report, json.Unmarshal(body, &report)
	})
}
