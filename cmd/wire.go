package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/pathforge/internal/ai"
	"github.com/pathforge/internal/analyzer"
	"github.com/pathforge/internal/chunker"
	"github.com/pathforge/internal/config"
	"github.com/pathforge/internal/database"
	"github.com/pathforge/internal/index"
	"github.com/pathforge/internal/logging"
	"github.com/pathforge/internal/planner"
	"github.com/pathforge/internal/progress"
	"github.com/pathforge/internal/retry"
	"github.com/pathforge/internal/tutor"
)

// services bundles everything a command can need. Each command wires only
// what it uses; the AI connector is created lazily because config validation
// and spec export need no provider at all.
type services struct {
	cfg      *config.Config
	chunker  *chunker.Chunker
	engine   *index.Engine
	analyzer *analyzer.Analyzer
	planner  *planner.Planner
	catalog  *progress.PathCatalog
	coord    *progress.Coordinator
	tutor    *tutor.Service

	indexStore index.FragmentStore
}

// Close releases backing connections. The memory store has nothing to close.
func (s *services) Close() {
	if c, ok := s.indexStore.(io.Closer); ok {
		c.Close()
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Setup(c.String("log-level"), c.Bool("pretty-log"))
	return cfg, nil
}

func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	connector, err := ai.NewConnector(ctx, ai.ConnectorOptions{
		Provider:       ai.Provider(cfg.AI.Provider),
		APIKey:         cfg.AI.APIKey,
		BaseURL:        cfg.AI.BaseURL,
		ChatModel:      cfg.AI.ChatModel,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		Temperature:    cfg.AI.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("connect AI provider: %w", err)
	}

	embedder := ai.NewResilientEmbedder(connector, ai.ResilientOptions{
		Retry:        retryConfigFrom(cfg),
		RateLimitRPS: cfg.AI.RateLimitRPS,
		Timeout:      cfg.AI.RequestTimeout,
	})

	var store index.FragmentStore
	if cfg.Database.URL != "" {
		pg, err := index.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open fragment store: %w", err)
		}
		store = pg
	} else {
		store = index.NewMemoryStore()
	}

	engine := index.New(store, embedder, index.Config{
		EmbeddingDimensions: cfg.Index.EmbeddingDimensions,
		MaxWorkers:          cfg.Index.MaxWorkers,
	})

	ch, err := chunker.New(chunker.Config{
		WindowLines:  cfg.Chunker.WindowLines,
		OverlapLines: cfg.Chunker.OverlapLines,
		ScanSecrets:  cfg.Chunker.ScanSecrets,
	})
	if err != nil {
		return nil, fmt.Errorf("configure chunker: %w", err)
	}

	var progressStore progress.ProgressStore = progress.NewMemoryStore()
	if cfg.Database.URL != "" {
		db, err := database.NewDB(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open progress database: %w", err)
		}
		if err := database.EnsureProgressSchema(db); err != nil {
			return nil, fmt.Errorf("prepare progress schema: %w", err)
		}
		progressStore = progress.NewPostgresStore(db)
	}

	catalog := progress.NewPathCatalog()
	coord := progress.NewCoordinator(progressStore, catalog, progress.RiskThresholds{
		ConfidenceFloor: cfg.Sync.RiskConfidenceFloor,
		TimeRatio:       cfg.Sync.RiskTimeRatio,
		AtRisk:          progress.DefaultRiskThresholds().AtRisk,
	})

	tut := tutor.NewService(engine, connector, tutor.NewMemoryConversationStore(), tutor.Options{
		TopK:               cfg.Tutor.TopK,
		ConversationWindow: cfg.Tutor.ConversationWindow,
		ConfidenceFloor:    cfg.Tutor.ConfidenceFloor,
	})

	an := analyzer.New(engine, analyzer.Config{
		MinDomainFiles:    cfg.Analyzer.MinDomainFiles,
		AffinityThreshold: cfg.Analyzer.AffinityThreshold,
	})

	return &services{
		cfg:        cfg,
		chunker:    ch,
		engine:     engine,
		analyzer:   an,
		planner:    planner.New(),
		catalog:    catalog,
		coord:      coord,
		tutor:      tut,
		indexStore: store,
	}, nil
}

func retryConfigFrom(cfg *config.Config) retry.Config {
	rc := retry.ProviderConfig()
	if cfg.Retry.MaxRetries > 0 {
		rc.MaxRetries = cfg.Retry.MaxRetries
	}
	if cfg.Retry.BaseDelay > 0 {
		rc.BaseDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		rc.MaxDelay = cfg.Retry.MaxDelay
	}
	return rc
}
