// Package server assembles the echo application: middleware, routes and the
// lifecycle of running ingest sources.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/akave-ai/anomalog/internal/config"
	"github.com/akave-ai/anomalog/internal/handler"
	"github.com/akave-ai/anomalog/internal/infrastructure/inputs"
	_ "github.com/akave-ai/anomalog/internal/infrastructure/inputs/csvinput"
	_ "github.com/akave-ai/anomalog/internal/infrastructure/inputs/httpinput"
	"github.com/akave-ai/anomalog/internal/pipeline"
	"github.com/akave-ai/anomalog/internal/response"
)

const maxBodySize = "64M"

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the server. NewRelic, Objects and Database
// may be nil.
type Deps struct {
	Config   *config.Config
	Logger   zerolog.Logger
	NewRelic *newrelic.Application
	Session  *pipeline.Session
	Sources  handler.SourceStore
	Objects  handler.ObjectStore
	Database Pinger
}

// Server holds the Echo app and the running sources.
type Server struct {
	Echo    *echo.Echo
	cfg     *config.Config
	log     zerolog.Logger
	ingest  *IngestDispatcher
	sources *handler.SourceHandler
	cancel  context.CancelFunc
}

// New builds the Echo server and registers routes. Persisted sources are
// started by RestoreSources.
func New(deps Deps) *Server {
	cfg := deps.Config
	log := deps.Logger.With().Str("component", "server").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(cfg.Server.ReadTimeout) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Server.WriteTimeout) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.Server.IdleTimeout) * time.Second

	e.Use(middleware.Recover())
	e.Use(newRelicMiddleware(deps.NewRelic))
	e.Use(requestLogger(log))
	e.Use(middleware.BodyLimit(maxBodySize))
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.CORSAllowedOrigins}))
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	ingest := NewIngestDispatcher()

	batches := &handler.BatchHandler{
		Session:      deps.Session,
		Store:        deps.Session.Store(),
		Objects:      deps.Objects,
		MaxBatchSize: cfg.Server.MaxBatchSize,
		Logger:       deps.Logger,
	}
	sources := &handler.SourceHandler{
		Registry: inputs.GlobalRegistry,
		Sources:  deps.Sources,
		OpenStream: func(ctx context.Context, batchID uuid.UUID, source string) (handler.Stream, error) {
			st, err := deps.Session.OpenStream(ctx, batchID, source)
			if err != nil {
				return nil, err
			}
			return st, nil
		},
		MountIngest:   ingest.Mount,
		UnmountIngest: ingest.Unmount,
		Logger:        deps.Logger,
		StreamContext: streamCtx,
	}

	e.POST("/batches", batches.CreateBatch)
	e.GET("/batches", batches.ListBatches)
	e.GET("/batches/:id", batches.GetBatch)
	e.GET("/batches/:id/results", batches.GetResults)
	e.GET("/batches/:id/export", batches.Export)
	e.GET("/batches/:id/insights", batches.GetInsights)

	e.GET("/sources/types", sources.ListTypes)
	e.GET("/sources/types/:type", sources.GetTypeInfo)
	e.GET("/sources", sources.ListSources)
	e.POST("/sources", sources.CreateSource)
	e.DELETE("/sources/:id", sources.DeleteSource)

	e.Any("/ingest/*", echo.WrapHandler(ingest))
	e.GET("/uploads", batches.ListUploads)
	e.GET("/healthz", health(deps))

	log.Info().Strs("source_types", inputs.GlobalRegistry.ListRegistered()).Msg("routes registered")
	return &Server{Echo: e, cfg: cfg, log: log, ingest: ingest, sources: sources, cancel: cancel}
}

// RestoreSources starts the persisted sources.
func (s *Server) RestoreSources(ctx context.Context) {
	s.sources.RestoreSources(ctx)
}

// Start blocks until the server fails or ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + s.cfg.Server.Port
		s.log.Info().Str("addr", addr).Msg("listening")
		errCh <- s.Echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		s.stopSources()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, then stops sources. Queued stream
// payloads are still scored, with fallback explanations.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	s.stopSources()
	return err
}

func (s *Server) stopSources() {
	s.cancel()
	s.sources.StopAll()
}

func health(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		out := map[string]any{
			"status":         "ok",
			"threshold":      deps.Session.Threshold(),
			"model_version":  deps.Session.ModelVersion(),
			"object_storage": deps.Objects != nil,
			"database":       "memory",
		}
		if deps.Database != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := deps.Database.Ping(ctx); err != nil {
				return response.ServiceUnavailable(c, "database unreachable", err)
			}
			out["database"] = "postgres"
		}
		return response.OK(c, out, "")
	}
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}

// newRelicMiddleware runs every request in a web transaction named after its
// route. A nil app disables it.
func newRelicMiddleware(app *newrelic.Application) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if app == nil {
			return next
		}
		return func(c echo.Context) error {
			r := c.Request()
			txn := app.StartTransaction(r.Method + " " + c.Path())
			defer txn.End()
			txn.SetWebRequestHTTP(r)
			c.Response().Writer = txn.SetWebResponse(c.Response().Writer)
			c.SetRequest(r.WithContext(newrelic.NewContext(r.Context(), txn)))

			err := next(c)
			if err != nil {
				txn.NoticeError(err)
			}
			txn.AddAttribute("http.status", strconv.Itoa(c.Response().Status))
			return err
		}
	}
}
