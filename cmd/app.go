package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-commonbase/commonbase/db"
	"github.com/your-commonbase/commonbase/internal/ai"
	"github.com/your-commonbase/commonbase/internal/config"
	"github.com/your-commonbase/commonbase/internal/entry"
	"github.com/your-commonbase/commonbase/internal/graph"
	"github.com/your-commonbase/commonbase/internal/ingest"
	"github.com/your-commonbase/commonbase/internal/log"
	"github.com/your-commonbase/commonbase/internal/search"
)

// app bundles everything a command needs after startup.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	pool     *pgxpool.Pool
	store    *entry.Store
	ai       *ai.Client
	searcher *search.Engine
	graph    *graph.Engine
	linker   *graph.Linker
	pipeline *ingest.Pipeline
}

// setupApp loads config, migrates the database and wires the stores and
// engines together.
func setupApp(ctx context.Context, logger log.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	store, err := entry.NewStore(pool, logger.With("component", "store"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating entry store: %w", err)
	}

	apiKey := cfg.OpenAIAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	aiClient, err := ai.New(ai.Config{
		APIKey:             apiKey,
		BaseURL:            cfg.OpenAIBaseURL,
		EmbedderModel:      cfg.EmbedderModel,
		SynthesisModel:     cfg.SynthesisModel,
		TranscriptionModel: cfg.TranscriptionModel,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating AI client: %w", err)
	}

	searcher, err := search.NewEngine(store, aiClient, search.Defaults{
		SemanticLimit:     cfg.SemanticLimit,
		SemanticThreshold: cfg.SemanticThreshold,
		FulltextLimit:     cfg.FulltextLimit,
	}, logger.With("component", "search"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating search engine: %w", err)
	}

	graphEngine, err := graph.NewEngine(store, cfg.SimilarityFloor, logger.With("component", "graph"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating similarity engine: %w", err)
	}

	linker, err := graph.NewLinker(store, logger.With("component", "linker"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating linker: %w", err)
	}

	pipeline, err := ingest.NewPipeline(store, aiClient, linker, logger.With("component", "ingest"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating ingest pipeline: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		store:    store,
		ai:       aiClient,
		searcher: searcher,
		graph:    graphEngine,
		linker:   linker,
		pipeline: pipeline,
	}, nil
}

// Close releases the database pool.
func (a *app) Close() {
	a.pool.Close()
}
