package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akave-ai/anomalog/internal/model"
)

// SourceRepository persists ingest source definitions.
type SourceRepository struct {
	pool *pgxpool.Pool
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{pool: pool}
}

const sourceColumns = `id, type, title, configuration, batch_id, created_at, desired_state`

// Create inserts a new source and returns it with ID and CreatedAt set.
func (r *SourceRepository) Create(ctx context.Context, src *model.Source) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.BatchID == uuid.Nil {
		src.BatchID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO sources (id, type, title, configuration, batch_id, desired_state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		src.ID,
		src.Type,
		src.Title,
		src.Configuration,
		src.BatchID,
		src.DesiredState,
	).Scan(&src.ID, &src.CreatedAt)
}

// List returns all sources, newest first.
func (r *SourceRepository) List(ctx context.Context) ([]model.Source, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[model.Source])
}

// GetByID returns nil, nil when id is unknown.
func (r *SourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Source, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	src, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[model.Source])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return src, err
}

func (r *SourceRepository) SetDesiredState(ctx context.Context, id uuid.UUID, state model.SourceState) error {
	_, err := r.pool.Exec(ctx, `UPDATE sources SET desired_state = $2 WHERE id = $1`, id, string(state))
	return err
}

// Delete reports whether a row was removed.
func (r *SourceRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
