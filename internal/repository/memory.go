package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akave-ai/anomalog/internal/model"
)

// MemorySourceRepository keeps sources in process memory when no database
// is configured. Sources do not survive a restart.
type MemorySourceRepository struct {
	mu      sync.RWMutex
	sources map[uuid.UUID]model.Source
}

func NewMemorySourceRepository() *MemorySourceRepository {
	return &MemorySourceRepository{sources: make(map[uuid.UUID]model.Source)}
}

func (r *MemorySourceRepository) Create(_ context.Context, src *model.Source) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.BatchID == uuid.Nil {
		src.BatchID = uuid.New()
	}
	src.CreatedAt = time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.ID] = *src
	return nil
}

func (r *MemorySourceRepository) List(_ context.Context) ([]model.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySourceRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// SetDesiredState updates a source; unknown ids are ignored.
func (r *MemorySourceRepository) SetDesiredState(_ context.Context, id uuid.UUID, state model.SourceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[id]; ok {
		s.DesiredState = state
		r.sources[id] = s
	}
	return nil
}

func (r *MemorySourceRepository) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sources[id]
	delete(r.sources, id)
	return ok, nil
}
