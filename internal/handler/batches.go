// Package handler implements the HTTP API on top of the pipeline, the result
// store and the source registry.
package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/akave-ai/anomalog/internal/aggregate"
	"github.com/akave-ai/anomalog/internal/dataset"
	"github.com/akave-ai/anomalog/internal/infrastructure/inputs"
	"github.com/akave-ai/anomalog/internal/insights"
	"github.com/akave-ai/anomalog/internal/model"
	"github.com/akave-ai/anomalog/internal/pipeline"
	"github.com/akave-ai/anomalog/internal/response"
	"github.com/akave-ai/anomalog/internal/storage"
)

// ObjectStore receives batch exports. Nil when object storage is not configured.
type ObjectStore interface {
	ExportKey(batchID uuid.UUID, at time.Time) string
	UploadGzip(ctx context.Context, key string, data []byte, contentType string) error
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// BatchHandler handles /batches and /uploads.
type BatchHandler struct {
	Session      *pipeline.Session
	Store        aggregate.Store
	Objects      ObjectStore
	MaxBatchSize int
	Logger       zerolog.Logger
}

type batchResponse struct {
	model.BatchReport
	ExportKey string `json:"export_key,omitempty"`
}

// CreateBatch scores the requests in the body (POST /batches). The body is a
// JSON object, array or NDJSON, or CSV when the content type says so.
func (h *BatchHandler) CreateBatch(c echo.Context) error {
	r := c.Request()
	var raws []model.RawRequest
	var err error
	if inputs.FormatFor(r.Header.Get(echo.HeaderContentType)) == inputs.FormatCSV {
		raws, err = dataset.ReadCSV(r.Body)
	} else {
		raws, err = dataset.DecodeJSON(r.Body)
	}
	if err != nil {
		return response.BadRequest(c, "invalid request log", err)
	}
	if len(raws) == 0 {
		return response.BadRequest(c, "empty batch", errors.New("no requests in body"))
	}
	if h.MaxBatchSize > 0 && len(raws) > h.MaxBatchSize {
		return response.Error(c, http.StatusRequestEntityTooLarge, "batch too large",
			fmt.Errorf("%d requests, limit is %d", len(raws), h.MaxBatchSize))
	}

	source := c.QueryParam("source")
	if source == "" {
		source = "api"
	}
	report, err := h.Session.Run(r.Context(), pipeline.Batch{ID: uuid.New(), Source: source}, raws)
	if err != nil {
		// Partial report: succeeded, skipped and unexplained requests.
		return response.ErrorWithData(c, http.StatusInternalServerError,
			"batch "+report.BatchID.String()+" halted", err, batchResponse{BatchReport: report})
	}

	out := batchResponse{BatchReport: report}
	if h.Objects != nil && report.Status == model.BatchCompleted {
		key, err := h.export(context.WithoutCancel(r.Context()), report)
		if err != nil {
			h.Logger.Error().Err(err).Str("batch_id", report.BatchID.String()).Msg("export to object storage failed")
		} else {
			out.ExportKey = key
		}
	}
	return response.Created(c, out, string(report.Status))
}

// ListBatches returns all batch reports, newest first (GET /batches).
func (h *BatchHandler) ListBatches(c echo.Context) error {
	reports, err := h.Store.Reports(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "list batches failed", err)
	}
	return response.OK(c, map[string]any{"batches": reports}, "")
}

// GetBatch returns one batch report (GET /batches/:id).
func (h *BatchHandler) GetBatch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid batch id", err)
	}
	report, err := h.Store.Report(c.Request().Context(), id)
	if err != nil {
		return h.storeError(c, err)
	}
	return response.OK(c, report, "")
}

// GetResults returns the records of a batch in request order
// (GET /batches/:id/results?label=anomalous).
func (h *BatchHandler) GetResults(c echo.Context) error {
	records, ok, err := h.results(c)
	if !ok {
		return err
	}
	if want := c.QueryParam("label"); want != "" {
		label, err := model.ParseLabel(want)
		if err != nil {
			return response.BadRequest(c, "invalid label filter", err)
		}
		filtered := records[:0]
		for _, rec := range records {
			if rec.Verdict.Label == label {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	return response.OK(c, map[string]any{"results": records, "count": len(records)}, "")
}

// Export streams the batch as CSV (GET /batches/:id/export). With
// ?target=o3 the export is uploaded to object storage instead.
func (h *BatchHandler) Export(c echo.Context) error {
	records, ok, err := h.results(c)
	if !ok {
		return err
	}
	id, _ := uuid.Parse(c.Param("id"))

	if c.QueryParam("target") == "o3" {
		if h.Objects == nil {
			return response.ServiceUnavailable(c, "object storage not configured", nil)
		}
		report, err := h.Store.Report(c.Request().Context(), id)
		if err != nil {
			return h.storeError(c, err)
		}
		key, err := h.upload(c.Request().Context(), report, records)
		if err != nil {
			return response.InternalError(c, "export failed", err)
		}
		return response.OK(c, map[string]string{"key": key}, "exported")
	}

	var buf bytes.Buffer
	if err := dataset.WriteResultsCSV(&buf, records); err != nil {
		return response.InternalError(c, "export failed", err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=batch-%s.csv", id))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// GetInsights summarizes a batch (GET /batches/:id/insights).
func (h *BatchHandler) GetInsights(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid batch id", err)
	}
	ctx := c.Request().Context()
	report, err := h.Store.Report(ctx, id)
	if err != nil {
		return h.storeError(c, err)
	}
	records, err := h.Store.Results(ctx, id)
	if err != nil {
		return h.storeError(c, err)
	}
	return response.OK(c, insights.Summarize(records, report), "")
}

// ListUploads lists exported objects (GET /uploads?prefix=).
func (h *BatchHandler) ListUploads(c echo.Context) error {
	if h.Objects == nil {
		return response.OK(c, map[string]any{"objects": []storage.ObjectInfo{}}, "object storage not configured")
	}
	list, err := h.Objects.ListObjects(c.Request().Context(), c.QueryParam("prefix"))
	if err != nil {
		return response.InternalError(c, "list uploads failed", err)
	}
	return response.OK(c, map[string]any{"objects": list}, "")
}

// results loads the records named by :id. When ok is false the error
// response has been written and err is its result.
func (h *BatchHandler) results(c echo.Context) ([]model.ResultRecord, bool, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, false, response.BadRequest(c, "invalid batch id", err)
	}
	records, err := h.Store.Results(c.Request().Context(), id)
	if err != nil {
		return nil, false, h.storeError(c, err)
	}
	return records, true, nil
}

func (h *BatchHandler) storeError(c echo.Context, err error) error {
	if errors.Is(err, aggregate.ErrBatchNotFound) {
		return response.NotFound(c, "batch not found", err)
	}
	return response.InternalError(c, "read batch failed", err)
}

func (h *BatchHandler) export(ctx context.Context, report model.BatchReport) (string, error) {
	records, err := h.Store.Results(ctx, report.BatchID)
	if err != nil {
		return "", err
	}
	return h.upload(ctx, report, records)
}

func (h *BatchHandler) upload(ctx context.Context, report model.BatchReport, records []model.ResultRecord) (string, error) {
	var buf bytes.Buffer
	if err := dataset.WriteResultsCSV(&buf, records); err != nil {
		return "", err
	}
	at := report.FinishedAt
	if at.IsZero() {
		at = report.StartedAt
	}
	key := h.Objects.ExportKey(report.BatchID, at)
	if err := h.Objects.UploadGzip(ctx, key, buf.Bytes(), "text/csv"); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	h.Logger.Info().Str("batch_id", report.BatchID.String()).Str("key", key).Int("records", len(records)).Msg("batch exported")
	return key, nil
}
