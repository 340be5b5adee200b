package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/anomalog/internal/aggregate"
	"github.com/akave-ai/anomalog/internal/config"
	"github.com/akave-ai/anomalog/internal/explain"
	"github.com/akave-ai/anomalog/internal/features"
	"github.com/akave-ai/anomalog/internal/pipeline"
	"github.com/akave-ai/anomalog/internal/repository"
	"github.com/akave-ai/anomalog/internal/scorer"
)

type downDB struct{}

func (downDB) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, db Pinger) (*Server, *aggregate.MemoryStore) {
	t.Helper()
	cfg := config.Default()
	sc, err := scorer.New(scorer.Default(), cfg.Pipeline.Threshold)
	require.NoError(t, err)
	store := aggregate.NewMemoryStore()
	session, err := pipeline.NewSession(cfg.Pipeline, pipeline.Deps{
		Extractor: features.New(),
		Scorer:    sc,
		Generator: explain.NewGenerator(nil, pipeline.GeneratorConfig(cfg.Pipeline), zerolog.Nop()),
		Store:     store,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	srv := New(Deps{
		Config:   cfg,
		Logger:   zerolog.Nop(),
		Session:  session,
		Sources:  repository.NewMemorySourceRepository(),
		Database: db,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

func serve(s *Server, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := serve(srv, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"model_version":"baseline-2024.1"`)

	srv, _ = newTestServer(t, downDB{})
	rec = serve(srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestThroughDispatcher(t *testing.T) {
	srv, store := newTestServer(t, nil)

	rec := serve(srv, http.MethodPost, "/sources", "application/json", `{"type":"http","name":"edge"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data struct {
			BatchID string `json:"batch_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = serve(srv, http.MethodPost, "/ingest/edge", "application/x-ndjson",
		"{\"id\":\"a\",\"method\":\"GET\",\"url\":\"/home\"}\n{\"id\":\"b\",\"method\":\"GET\",\"url\":\"/cgi-bin/../../etc/passwd\"}\n")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(srv, http.MethodPost, "/ingest/unknown", "application/json", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, srv.Shutdown(context.Background()))
	recs, err := store.Results(context.Background(), uuid.MustParse(created.Data.BatchID))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Request.ID)
	assert.Equal(t, "b", recs[1].Request.ID)
	assert.Empty(t, srv.ingest.Paths())
}

func TestBatchRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := serve(srv, http.MethodPost, "/batches", "application/json", `{"method":"GET","url":"/home"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(srv, http.MethodGet, "/batches", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"COMPLETED"`)

	rec = serve(srv, http.MethodGet, "/uploads", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestDispatcher(t *testing.T) {
	d := NewIngestDispatcher()
	d.Mount("/ingest/a/", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/a", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	d.Unmount("/ingest/a")
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/a/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
