package aggregate

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/anomalog/internal/model"
)

func record(i int, label model.Label, outcome *model.ExplanationOutcome) *model.ResultRecord {
	rec := Build(i, model.NormalizedRequest{ID: uuid.NewString()}, model.Verdict{Label: label}, nil, outcome)
	return &rec
}

func TestAggregator_ReordersOutOfOrderCompletion(t *testing.T) {
	store := NewMemoryStore()
	batch := uuid.New()
	const n = 200

	order := rand.New(rand.NewSource(7)).Perm(n)
	in := make(chan Unit)
	go func() {
		defer close(in)
		for _, i := range order {
			if i%17 == 0 {
				in <- Unit{Index: i, Skip: &model.SkippedRequest{Index: i, Reason: "malformed"}}
				continue
			}
			in <- Unit{Index: i, Record: record(i, model.LabelNormal, nil)}
		}
	}()

	sum, err := NewAggregator(store, batch, 0).Run(context.Background(), in)
	require.NoError(t, err)

	recs, err := store.Results(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, n-len(sum.Skipped), len(recs))
	assert.Equal(t, len(recs), sum.Appended)
	for i := 1; i < len(recs); i++ {
		assert.Less(t, recs[i-1].Index, recs[i].Index)
	}
	for i := 1; i < len(sum.Skipped); i++ {
		assert.Less(t, sum.Skipped[i-1].Index, sum.Skipped[i].Index, "skips are reported in order")
	}
}

func TestAggregator_RejectsDuplicates(t *testing.T) {
	store := NewMemoryStore()
	batch := uuid.New()
	in := make(chan Unit, 3)
	in <- Unit{Index: 0, Record: record(0, model.LabelNormal, nil)}
	in <- Unit{Index: 0, Record: record(0, model.LabelNormal, nil)}
	in <- Unit{Index: 1, Record: record(1, model.LabelNormal, nil)}
	close(in)

	sum, err := NewAggregator(store, batch, 0).Run(context.Background(), in)
	require.ErrorIs(t, err, ErrDuplicateRecord)
	assert.Equal(t, 2, sum.Appended)
}

func TestAggregator_TracksUnexplainedAnomalies(t *testing.T) {
	store := NewMemoryStore()
	batch := uuid.New()
	in := make(chan Unit, 3)
	in <- Unit{Index: 5, Record: record(5, model.LabelAnomalous, &model.ExplanationOutcome{State: model.ExplanationExplained})}
	in <- Unit{Index: 6, Record: record(6, model.LabelAnomalous, &model.ExplanationOutcome{State: model.ExplanationFailed, Reason: "auth"})}
	in <- Unit{Index: 7, Record: record(7, model.LabelAnomalous, &model.ExplanationOutcome{State: model.ExplanationFellBack, Reason: "timeout"})}
	close(in)

	sum, err := NewAggregator(store, batch, 5).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Anomalies)
	require.Len(t, sum.Unexplained, 2)
	assert.Equal(t, model.ExplanationFailed, sum.Unexplained[0].State)
	assert.Equal(t, "timeout", sum.Unexplained[1].Reason)
}

func TestAggregator_FlushesAfterGap(t *testing.T) {
	store := NewMemoryStore()
	batch := uuid.New()
	in := make(chan Unit, 2)
	in <- Unit{Index: 3, Record: record(3, model.LabelNormal, nil)}
	in <- Unit{Index: 1, Record: record(1, model.LabelNormal, nil)}
	close(in)

	sum, err := NewAggregator(store, batch, 0).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Appended)
	recs, err := store.Results(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 1, recs[0].Index)
	assert.Equal(t, 3, recs[1].Index)
}

func TestMemoryStore_UnknownBatch(t *testing.T) {
	_, err := NewMemoryStore().Results(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrBatchNotFound)
}
