package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/anomalog/internal/aggregate"
	"github.com/akave-ai/anomalog/internal/config"
	"github.com/akave-ai/anomalog/internal/database"
	"github.com/akave-ai/anomalog/internal/explain"
	"github.com/akave-ai/anomalog/internal/features"
	"github.com/akave-ai/anomalog/internal/handler"
	"github.com/akave-ai/anomalog/internal/logger"
	"github.com/akave-ai/anomalog/internal/pipeline"
	"github.com/akave-ai/anomalog/internal/repository"
	"github.com/akave-ai/anomalog/internal/scorer"
	"github.com/akave-ai/anomalog/internal/server"
	"github.com/akave-ai/anomalog/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Observability)

	nrApp, err := logger.NewRelic(cfg.Observability)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize new relic")
	}
	if nrApp != nil {
		defer nrApp.Shutdown(10 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{Config: cfg, Logger: log, NewRelic: nrApp}

	var store aggregate.Store = aggregate.NewMemoryStore()
	var sources handler.SourceStore = repository.NewMemorySourceRepository()
	if cfg.Database != nil {
		db, err := database.New(ctx, cfg.Database, log, nrApp != nil)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		store = repository.NewResultRepository(db.Pool)
		sources = repository.NewSourceRepository(db.Pool)
		deps.Database = db.Pool
	} else {
		log.Warn().Msg("no database configured, results are kept in memory")
	}
	deps.Sources = sources

	var o3 *storage.O3Client
	if cfg.Storage != nil {
		o3, err = storage.NewO3Client(cfg.Storage.O3)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create object storage client")
		}
	}
	if o3 != nil {
		if err := o3.EnsureBucket(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare bucket")
		}
		deps.Objects = o3
	}

	artifact, err := loadModel(ctx, cfg.Model, o3)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load model")
	}
	sc, err := scorer.New(artifact, cfg.Pipeline.Threshold, scorer.WithTopFeatures(cfg.Pipeline.TopFeatures))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid scoring configuration")
	}

	session, err := pipeline.NewSession(cfg.Pipeline, pipeline.Deps{
		Extractor: features.New(),
		Scorer:    sc,
		Generator: explain.NewGenerator(explanationBackend(cfg.Explainer, log), pipeline.GeneratorConfig(cfg.Pipeline), log),
		Store:     store,
		Logger:    log,
		NewRelic:  nrApp,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start pipeline")
	}
	deps.Session = session

	srv := server.New(deps)
	srv.RestoreSources(ctx)
	log.Info().
		Str("model_version", sc.ModelVersion()).
		Float64("threshold", sc.Threshold()).
		Str("explainer", cfg.Explainer.Provider).
		Msg("anomalog ready")

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

// loadModel prefers a local artifact, then one stored in the bucket, then the
// bundled baseline.
func loadModel(ctx context.Context, cfg config.ModelConfig, o3 *storage.O3Client) (*scorer.LogisticModel, error) {
	switch {
	case cfg.Path != "":
		return scorer.LoadFile(cfg.Path)
	case cfg.ObjectKey != "":
		data, err := o3.GetObject(ctx, cfg.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("fetch model %s: %w", cfg.ObjectKey, err)
		}
		return scorer.LoadArtifact(bytes.NewReader(data))
	default:
		return scorer.Default(), nil
	}
}

func explanationBackend(cfg config.ExplainerConfig, log zerolog.Logger) explain.Backend {
	if cfg.Provider != "anthropic" {
		log.Info().Msg("explanation backend disabled, anomalies get template explanations")
		return explain.DisabledBackend{}
	}
	return explain.NewAnthropicBackend(explain.AnthropicConfig{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
	})
}
