package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/akave-ai/anomalog/internal/aggregate"
)

func TestInsertError(t *testing.T) {
	assert.NoError(t, insertError(nil))

	dup := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", ConstraintName: "results_pkey"})
	assert.ErrorIs(t, insertError(dup), aggregate.ErrDuplicateRecord)

	fk := &pgconn.PgError{Code: "23503"}
	assert.Same(t, error(fk), insertError(fk))

	other := errors.New("conn reset")
	assert.Equal(t, other, insertError(other))
}
