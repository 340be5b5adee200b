package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/akave-ai/anomalog/internal/infrastructure/inputs"
	"github.com/akave-ai/anomalog/internal/model"
	"github.com/akave-ai/anomalog/internal/response"
)

// SourceStore persists source definitions.
type SourceStore interface {
	Create(ctx context.Context, src *model.Source) error
	List(ctx context.Context) ([]model.Source, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Source, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	SetDesiredState(ctx context.Context, id uuid.UUID, state model.SourceState) error
}

// Stream is the buffer a running source writes to.
type Stream interface {
	inputs.Buffer
	Close()
}

// StreamOpener binds a source's stream batch to a buffer.
type StreamOpener func(ctx context.Context, batchID uuid.UUID, source string) (Stream, error)

// SourceHandler handles /sources and /sources/types. Each running source
// feeds its own stream batch.
type SourceHandler struct {
	Registry      *inputs.Registry
	Sources       SourceStore
	OpenStream    StreamOpener
	MountIngest   func(path string, h http.Handler)
	UnmountIngest func(path string)
	Logger        zerolog.Logger

	// StreamContext bounds explanation calls of every stream; cancelled on shutdown.
	StreamContext context.Context

	mu        sync.Mutex
	instances map[uuid.UUID]*instance
}

type instance struct {
	source model.Source
	run    inputs.MessageInput
	stream Stream
	path   string
}

type sourceResponse struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Title         string          `json:"title"`
	Configuration json.RawMessage `json:"configuration"`
	BatchID       string          `json:"batch_id"`
	IngestPath    string          `json:"ingest_path,omitempty"`
	CreatedAt     string          `json:"created_at"`
	State         string          `json:"state"`
}

type createSourceRequest struct {
	Type   string          `json:"type"`
	Title  string          `json:"title"`
	Name   string          `json:"name"`
	Listen string          `json:"listen"`
	Config json.RawMessage `json:"config"`
}

func (h *SourceHandler) toResponse(src model.Source) sourceResponse {
	out := sourceResponse{
		ID:            src.ID.String(),
		Type:          src.Type,
		Title:         src.Title,
		Configuration: src.Configuration,
		BatchID:       src.BatchID.String(),
		CreatedAt:     src.CreatedAt.Format(time.RFC3339),
		State:         string(model.SourceStateStopped),
	}
	if in, ok := h.instances[src.ID]; ok && in.run != nil {
		out.State = string(model.SourceStateRunning)
		out.IngestPath = in.path
	}
	if src.DesiredState == model.SourceStateDelivered {
		out.State = string(model.SourceStateDelivered)
	}
	return out
}

// ListTypes returns registered source types (GET /sources/types).
func (h *SourceHandler) ListTypes(c echo.Context) error {
	return response.OK(c, map[string]any{
		"types": h.Registry.ListRegistered(),
		"info":  h.Registry.AllTypesInfo(),
	}, "")
}

// GetTypeInfo returns the config spec for one type (GET /sources/types/:type).
func (h *SourceHandler) GetTypeInfo(c echo.Context) error {
	typeName := c.Param("type")
	info, ok := h.Registry.GetTypeInfo(typeName)
	if !ok {
		return response.NotFound(c, "unknown source type", fmt.Errorf("unknown source type: %s", typeName))
	}
	return response.OK(c, info, "")
}

// ListSources returns all persisted sources (GET /sources).
func (h *SourceHandler) ListSources(c echo.Context) error {
	list, err := h.Sources.List(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "list sources failed", err)
	}
	out := make([]sourceResponse, 0, len(list))
	h.mu.Lock()
	for _, src := range list {
		out = append(out, h.toResponse(src))
	}
	h.mu.Unlock()
	return response.OK(c, map[string]any{"sources": out}, "")
}

// CreateSource persists a source and starts it (POST /sources).
func (h *SourceHandler) CreateSource(c echo.Context) error {
	var req createSourceRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid JSON body", err)
	}
	info, ok := h.Registry.GetTypeInfo(req.Type)
	if !ok {
		return response.BadRequest(c, "unknown source type", fmt.Errorf("unknown source type: %q", req.Type))
	}

	cfg := make(inputs.Config)
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return response.BadRequest(c, "invalid config", err)
		}
	}
	name := strings.Trim(strings.TrimSpace(req.Name), "/")
	if name == "" {
		name = cfg.String("name")
	}
	if name == "" {
		name = req.Type + "-" + uuid.NewString()[:8]
	}
	cfg["name"] = name
	if req.Title == "" {
		req.Title = name
	}
	if req.Listen != "" {
		cfg["listen"] = req.Listen
	}
	if err := cfg.Validate(info); err != nil {
		return response.BadRequest(c, "invalid config", err)
	}
	if h.nameTaken(req.Type, name) {
		return response.Error(c, http.StatusConflict, "source name in use", fmt.Errorf("a running %s source is already named %q", req.Type, name))
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return response.BadRequest(c, "invalid config", err)
	}
	src := model.Source{
		Type:          req.Type,
		Title:         req.Title,
		Configuration: cfgJSON,
		DesiredState:  model.SourceStateRunning,
	}
	ctx := c.Request().Context()
	if err := h.Sources.Create(ctx, &src); err != nil {
		return response.InternalError(c, "create source failed", err)
	}
	if err := h.start(&src); err != nil {
		if _, delErr := h.Sources.Delete(context.WithoutCancel(ctx), src.ID); delErr != nil {
			h.Logger.Error().Err(delErr).Str("source_id", src.ID.String()).Msg("remove source after failed start")
		}
		return response.BadRequest(c, "start source failed", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return response.Created(c, h.toResponse(src), "")
}

// DeleteSource stops a source and removes it (DELETE /sources/:id). Its
// stream batch and results are kept.
func (h *SourceHandler) DeleteSource(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid source id", err)
	}
	h.stop(id)
	found, err := h.Sources.Delete(c.Request().Context(), id)
	if err != nil {
		return response.InternalError(c, "delete source failed", err)
	}
	if !found {
		return response.NotFound(c, "source not found", fmt.Errorf("no source %s", id))
	}
	return response.OK(c, map[string]string{"id": id.String()}, "deleted")
}

// RestoreSources starts every persisted source whose desired state is RUNNING.
// Stopped and delivered sources are left alone.
func (h *SourceHandler) RestoreSources(ctx context.Context) {
	list, err := h.Sources.List(ctx)
	if err != nil {
		h.Logger.Error().Err(err).Msg("restore sources: list failed")
		return
	}
	for _, src := range list {
		if src.DesiredState != model.SourceStateRunning {
			continue
		}
		if err := h.start(&src); err != nil {
			h.Logger.Error().Err(err).Str("source_id", src.ID.String()).Str("type", src.Type).Msg("restore source failed")
			continue
		}
		h.Logger.Info().Str("source_id", src.ID.String()).Str("type", src.Type).Str("title", src.Title).Msg("source restored")
	}
}

// StopAll stops every running source and drains its stream.
func (h *SourceHandler) StopAll() {
	h.mu.Lock()
	ids := make([]uuid.UUID, 0, len(h.instances))
	for id := range h.instances {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.stop(id)
	}
}

func (h *SourceHandler) nameTaken(typeName, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, in := range h.instances {
		if in.source.Type != typeName {
			continue
		}
		var cfg inputs.Config
		if json.Unmarshal(in.source.Configuration, &cfg) == nil && cfg.String("name") == name {
			return true
		}
	}
	return false
}

func (h *SourceHandler) streamContext() context.Context {
	if h.StreamContext != nil {
		return h.StreamContext
	}
	return context.Background()
}

// start runs src and binds it to its stream batch. A one-shot source is
// marked DELIVERED once Start has handed its data to the stream.
func (h *SourceHandler) start(src *model.Source) error {
	var cfg inputs.Config
	if err := json.Unmarshal(src.Configuration, &cfg); err != nil {
		return fmt.Errorf("decode configuration: %w", err)
	}
	ctx := h.streamContext()
	stream, err := h.OpenStream(ctx, src.BatchID, src.Title)
	if err != nil {
		return err
	}
	logger := h.Logger.With().Str("source_id", src.ID.String()).Logger()
	run, err := h.Registry.Create(inputs.Spec{Type: src.Type, Config: cfg}, stream, logger)
	if err != nil {
		stream.Close()
		return err
	}

	in := &instance{source: *src, run: run, stream: stream}
	if ep, ok := run.(inputs.HTTPEndpointInput); ok {
		if l, ok := run.(inputs.Listener); !ok || l.ListenAddr() == "" {
			in.path = ep.Path()
			if h.MountIngest != nil {
				h.MountIngest(in.path, ep.Handler())
			}
		}
	}
	h.mu.Lock()
	if h.instances == nil {
		h.instances = make(map[uuid.UUID]*instance)
	}
	h.instances[src.ID] = in
	h.mu.Unlock()

	if err := run.Start(ctx); err != nil {
		h.stop(src.ID)
		return err
	}
	if once, ok := run.(inputs.OneShotInput); ok && once.OneShot() {
		if err := h.Sources.SetDesiredState(context.WithoutCancel(ctx), src.ID, model.SourceStateDelivered); err != nil {
			h.Logger.Error().Err(err).Str("source_id", src.ID.String()).Msg("mark source delivered")
		}
		src.DesiredState = model.SourceStateDelivered
		h.mu.Lock()
		in.source.DesiredState = model.SourceStateDelivered
		h.mu.Unlock()
	}
	return nil
}

func (h *SourceHandler) stop(id uuid.UUID) {
	h.mu.Lock()
	in, ok := h.instances[id]
	delete(h.instances, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	if in.path != "" && h.UnmountIngest != nil {
		h.UnmountIngest(in.path)
	}
	if err := in.run.Stop(); err != nil {
		h.Logger.Warn().Err(err).Str("source_id", id.String()).Msg("stop source")
	}
	in.stream.Close()
}
