package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/anomalog/internal/model"
)

func TestMemorySourceRepository(t *testing.T) {
	ctx := context.Background()
	r := NewMemorySourceRepository()

	src := &model.Source{Type: "http", Title: "edge", DesiredState: model.SourceStateRunning}
	require.NoError(t, r.Create(ctx, src))
	assert.NotEqual(t, uuid.Nil, src.ID)
	assert.NotEqual(t, uuid.Nil, src.BatchID)
	assert.False(t, src.CreatedAt.IsZero())

	got, err := r.GetByID(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "edge", got.Title)

	require.NoError(t, r.SetDesiredState(ctx, src.ID, model.SourceStateDelivered))
	got, err = r.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceStateDelivered, got.DesiredState)
	require.NoError(t, r.SetDesiredState(ctx, uuid.New(), model.SourceStateStopped))

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	ok, err := r.Delete(ctx, src.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Delete(ctx, src.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = r.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
