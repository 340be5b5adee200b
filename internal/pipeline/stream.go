package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akave-ai/anomalog/internal/aggregate"
	"github.com/akave-ai/anomalog/internal/dataset"
	"github.com/akave-ai/anomalog/internal/infrastructure/inputs"
	"github.com/akave-ai/anomalog/internal/model"
)

const streamQueue = 64

// Stream scores the payloads of one ingest source into its batch, one
// payload at a time. It implements inputs.Buffer.
type Stream struct {
	session *Session
	ctx     context.Context
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan inputs.Payload
	done   chan struct{}

	batch Batch
}

var _ inputs.Buffer = (*Stream)(nil)

// OpenStream resumes batchID after its last stored request, or starts it.
// ctx bounds explanation calls of every payload.
func (s *Session) OpenStream(ctx context.Context, batchID uuid.UUID, source string) (*Stream, error) {
	offset := 0
	report, err := s.store.Report(ctx, batchID)
	switch {
	case err == nil:
		offset = report.Total
	case !errors.Is(err, aggregate.ErrBatchNotFound):
		return nil, fmt.Errorf("open stream %s: %w", batchID, err)
	}
	st := &Stream{
		session: s,
		ctx:     ctx,
		log:     s.log.With().Str("batch_id", batchID.String()).Str("source", source).Logger(),
		queue:   make(chan inputs.Payload, streamQueue),
		done:    make(chan struct{}),
		batch:   Batch{ID: batchID, Source: source, Offset: offset},
	}
	go st.loop()
	return st, nil
}

func (st *Stream) BatchID() uuid.UUID { return st.batch.ID }

// Insert queues p, blocking while the queue is full. Payloads inserted after
// Close are dropped.
func (st *Stream) Insert(p inputs.Payload) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		st.log.Warn().Int("bytes", len(p.Data)).Msg("stream closed, payload dropped")
		return
	}
	st.queue <- p
}

// Close processes what is queued and stops the stream.
func (st *Stream) Close() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		<-st.done
		return
	}
	st.closed = true
	close(st.queue)
	st.mu.Unlock()
	<-st.done
}

func (st *Stream) loop() {
	defer close(st.done)
	for p := range st.queue {
		st.process(p)
	}
}

func (st *Stream) process(p inputs.Payload) {
	raws, err := decodePayload(p)
	if err != nil {
		st.log.Warn().Err(err).Str("format", p.Format).Msg("undecodable payload dropped")
		return
	}
	if len(raws) == 0 {
		return
	}
	report, err := st.session.Run(st.ctx, st.batch, raws)
	st.batch.Offset += len(raws)
	if err != nil {
		st.log.Error().Err(err).Int("requests", len(raws)).Msg("stream payload failed")
		return
	}
	st.log.Info().
		Int("requests", report.Total).
		Int("anomalies", report.Anomalies).
		Int("skipped", len(report.Skipped)).
		Msg("stream payload scored")
}

func decodePayload(p inputs.Payload) ([]model.RawRequest, error) {
	if p.Format == inputs.FormatCSV {
		return dataset.ReadCSV(bytes.NewReader(p.Data))
	}
	return dataset.DecodeJSON(bytes.NewReader(p.Data))
}
