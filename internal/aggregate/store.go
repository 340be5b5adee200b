package aggregate

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/akave-ai/anomalog/internal/model"
)

var (
	ErrDuplicateRecord = errors.New("duplicate result record")
	ErrBatchNotFound   = errors.New("batch not found")
)

// ResultStore is the append-only result set. Results returns records in
// original request order.
type ResultStore interface {
	Append(ctx context.Context, batchID uuid.UUID, rec model.ResultRecord) error
	Results(ctx context.Context, batchID uuid.UUID) ([]model.ResultRecord, error)
}

// ReportStore keeps batch reports.
type ReportStore interface {
	SaveReport(ctx context.Context, report model.BatchReport) error
	Report(ctx context.Context, batchID uuid.UUID) (model.BatchReport, error)
	Reports(ctx context.Context) ([]model.BatchReport, error)
}

type Store interface {
	ResultStore
	ReportStore
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[uuid.UUID][]model.ResultRecord
	seen    map[uuid.UUID]map[int]struct{}
	reports map[uuid.UUID]model.BatchReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[uuid.UUID][]model.ResultRecord),
		seen:    make(map[uuid.UUID]map[int]struct{}),
		reports: make(map[uuid.UUID]model.BatchReport),
	}
}

func (s *MemoryStore) Append(_ context.Context, batchID uuid.UUID, rec model.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.seen[batchID]
	if !ok {
		idx = make(map[int]struct{})
		s.seen[batchID] = idx
	}
	if _, dup := idx[rec.Index]; dup {
		return ErrDuplicateRecord
	}
	idx[rec.Index] = struct{}{}
	s.results[batchID] = append(s.results[batchID], rec)
	return nil
}

func (s *MemoryStore) Results(_ context.Context, batchID uuid.UUID) ([]model.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs, ok := s.results[batchID]
	if !ok {
		if _, known := s.reports[batchID]; !known {
			return nil, ErrBatchNotFound
		}
		return []model.ResultRecord{}, nil
	}
	out := make([]model.ResultRecord, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) SaveReport(_ context.Context, report model.BatchReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.BatchID] = report
	return nil
}

func (s *MemoryStore) Report(_ context.Context, batchID uuid.UUID) (model.BatchReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[batchID]
	if !ok {
		return model.BatchReport{}, ErrBatchNotFound
	}
	return r, nil
}

// Reports returns all reports, newest first.
func (s *MemoryStore) Reports(_ context.Context) ([]model.BatchReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BatchReport, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}
