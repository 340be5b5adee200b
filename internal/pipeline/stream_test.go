package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/anomalog/internal/infrastructure/inputs"
	"github.com/akave-ai/anomalog/internal/model"
)

func TestStream_AppendsPayloadsInOrder(t *testing.T) {
	s, store := newSession(t, unavailable(), nil)
	id := uuid.New()

	st, err := s.OpenStream(context.Background(), id, "edge")
	require.NoError(t, err)
	st.Insert(inputs.Payload{Format: inputs.FormatJSON, Data: []byte(`[{"id":"a","method":"GET","url":"/home"},{"id":"b","method":"GET","url":"/login?user=admin' OR '1'='1"}]`)})
	st.Insert(inputs.Payload{Format: inputs.FormatJSON, Data: []byte(`{"not":"closed`)})
	st.Insert(inputs.Payload{Format: inputs.FormatCSV, Data: []byte("id,method,url\nc,GET,/about\nd,,/no-method\n")})
	st.Close()
	st.Close()
	st.Insert(inputs.Payload{Format: inputs.FormatJSON, Data: []byte(`{"id":"late","method":"GET","url":"/"}`)})

	recs, err := store.Results(context.Background(), id)
	require.NoError(t, err)
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.Request.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, []int{0, 1, 2}, []int{recs[0].Index, recs[1].Index, recs[2].Index})

	report, err := store.Report(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "edge", report.Source)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, report.Anomalies)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 3, report.Skipped[0].Index)
}

func TestStream_ResumesAfterStoredRequests(t *testing.T) {
	s, store := newSession(t, unavailable(), nil)
	id := uuid.New()
	_, err := s.Run(context.Background(), Batch{ID: id, Source: "edge"}, []model.RawRequest{home("a"), home("b")})
	require.NoError(t, err)

	st, err := s.OpenStream(context.Background(), id, "edge")
	require.NoError(t, err)
	st.Insert(inputs.Payload{Format: inputs.FormatJSON, Data: []byte(`{"id":"c","method":"GET","url":"/x"}`)})
	st.Close()

	recs, err := store.Results(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 2, recs[2].Index)
	assert.Equal(t, "c", recs[2].Request.ID)
}
