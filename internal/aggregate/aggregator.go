// Package aggregate re-sequences per-request pipeline output into the ordered,
// append-only result set.
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/akave-ai/anomalog/internal/model"
)

// Build assembles the immutable record for one request.
func Build(index int, req model.NormalizedRequest, v model.Verdict, exp *model.Explanation, outcome *model.ExplanationOutcome) model.ResultRecord {
	return model.ResultRecord{
		Index:       index,
		Request:     req,
		Verdict:     v,
		Explanation: exp,
		Outcome:     outcome,
	}
}

// Unit is the output of one request tagged with its original index. Exactly
// one of Record and Skip is set.
type Unit struct {
	Index  int
	Record *model.ResultRecord
	Skip   *model.SkippedRequest
}

// Summary is what the aggregator observed while writing a batch.
type Summary struct {
	Appended    int
	Anomalies   int
	Skipped     []model.SkippedRequest
	Unexplained []model.UnexplainedAnomaly
}

// Aggregator is the single writer of a batch's result set.
type Aggregator struct {
	store   ResultStore
	batchID uuid.UUID
	next    int
	pending map[int]Unit
	summary Summary
}

// NewAggregator writes to batchID starting at index base.
func NewAggregator(store ResultStore, batchID uuid.UUID, base int) *Aggregator {
	return &Aggregator{
		store:   store,
		batchID: batchID,
		next:    base,
		pending: make(map[int]Unit),
	}
}

// Run consumes units until in is closed and appends their records in index
// order. Units left behind a gap when in closes are flushed in order. The
// first store error is returned after in is drained.
func (a *Aggregator) Run(ctx context.Context, in <-chan Unit) (Summary, error) {
	var firstErr error
	for u := range in {
		if _, dup := a.pending[u.Index]; dup || u.Index < a.next {
			if firstErr == nil {
				firstErr = fmt.Errorf("index %d: %w", u.Index, ErrDuplicateRecord)
			}
			continue
		}
		a.pending[u.Index] = u
		for {
			next, ok := a.pending[a.next]
			if !ok {
				break
			}
			delete(a.pending, a.next)
			a.next++
			if err := a.emit(ctx, next); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	rest := make([]int, 0, len(a.pending))
	for idx := range a.pending {
		rest = append(rest, idx)
	}
	sort.Ints(rest)
	for _, idx := range rest {
		if err := a.emit(ctx, a.pending[idx]); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.pending, idx)
	}
	return a.summary, firstErr
}

func (a *Aggregator) emit(ctx context.Context, u Unit) error {
	if u.Skip != nil {
		a.summary.Skipped = append(a.summary.Skipped, *u.Skip)
		return nil
	}
	if u.Record == nil {
		return nil
	}
	rec := *u.Record
	if err := a.store.Append(ctx, a.batchID, rec); err != nil {
		return fmt.Errorf("append result %d: %w", rec.Index, err)
	}
	a.summary.Appended++
	if rec.Verdict.Anomalous() {
		a.summary.Anomalies++
		if rec.Outcome != nil && rec.Outcome.State != model.ExplanationExplained {
			a.summary.Unexplained = append(a.summary.Unexplained, model.UnexplainedAnomaly{
				Index:     rec.Index,
				RequestID: rec.Request.ID,
				State:     rec.Outcome.State,
				Reason:    rec.Outcome.Reason,
			})
		}
	}
	return nil
}
