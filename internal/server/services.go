package server

import (
	"context"
	"io"

	"github.com/jackzampolin/guideshelf/internal/blob"
	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/boundary"
	"github.com/jackzampolin/guideshelf/internal/consolidation"
	"github.com/jackzampolin/guideshelf/internal/db"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/jobs"
	"github.com/jackzampolin/guideshelf/internal/llm"
	"github.com/jackzampolin/guideshelf/internal/llmcall"
	"github.com/jackzampolin/guideshelf/internal/pipeline"
	"github.com/jackzampolin/guideshelf/internal/prompts"
	"github.com/jackzampolin/guideshelf/internal/prompts/extract"
	"github.com/jackzampolin/guideshelf/internal/prompts/finalize"
	"github.com/jackzampolin/guideshelf/internal/prompts/summaries"
	"github.com/jackzampolin/guideshelf/internal/providers"
	"github.com/jackzampolin/guideshelf/internal/publish"
	"github.com/jackzampolin/guideshelf/internal/shards"
	"github.com/jackzampolin/guideshelf/internal/stability"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// initServices opens storage and wires the pipeline. Everything opened is
// registered with onClose, so a failure part way leaves closeAll able to
// release what was built.
func (s *Server) initServices(ctx context.Context) (*svcctx.Services, error) {
	cfg := s.config()
	logger := s.logger

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = s.home.DatabasePath()
	}
	conn, err := db.Open(ctx, dbPath, logger)
	if err != nil {
		return nil, err
	}
	s.onClose("database", conn.Close)

	blobRoot := cfg.Storage.Root
	if blobRoot == "" {
		blobRoot = s.home.BlobPath()
	}
	blobs, err := blob.Open(ctx, cfg.Storage.Backend, blobRoot, cfg.Storage.Bucket, cfg.Storage.Prefix)
	if err != nil {
		return nil, err
	}
	if c, ok := blobs.(io.Closer); ok {
		s.onClose("blob store", c.Close)
	}
	logger.Info("storage ready", "database", dbPath, "blob_backend", cfg.Storage.Backend)

	repo := books.NewRepo(conn)
	shardStore := shards.NewStore(blobs, logger)
	mgr := index.NewManager(blobs, shardStore, logger)
	sums := pipeline.NewSummaryStore(blobs)
	calls := llmcall.NewStore(conn)

	catalog := prompts.NewCatalog()
	extract.RegisterPrompts(catalog)
	finalize.RegisterPrompts(catalog)
	summaries.RegisterPrompts(catalog)

	port := llm.NewPort(llm.Config{
		Client:      s.currentLLM,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BaseDelay:   cfg.Pipeline.RetryBaseDelay,
		CallTimeout: cfg.Pipeline.CallTimeout,
		Recorder:    llmcall.NewRecorder(calls, logger),
		Logger:      logger,
	})
	writer := pipeline.NewWriter(port)

	processor := pipeline.NewProcessor(pipeline.Config{
		Pages:     repo,
		Shards:    shardStore,
		Index:     mgr,
		Summaries: sums,
		Classifier: boundary.New(boundary.Config{
			Generator:             port,
			MinNewTopicConfidence: cfg.Pipeline.MinNewTopicConfidence,
			Logger:                logger,
		}),
		Writer:              writer,
		Stability:           stability.New(cfg.Pipeline.StabilityGap),
		ContextPages:        cfg.Pipeline.ContextPages,
		SummaryTokenCeiling: cfg.Pipeline.SummaryTokenCeiling,
		IndexWriteAttempts:  cfg.Pipeline.IndexWriteAttempts,
		Logger:              logger,
	})

	finalizer := consolidation.New(consolidation.Config{
		Shards:            shardStore,
		Index:             mgr,
		Blobs:             blobs,
		Generator:         port,
		Writer:            writer,
		SummarySimilarity: cfg.Pipeline.SummarySimilarity,
		Logger:            logger,
	})

	guidelines := publish.New(publish.Config{
		DB:     conn,
		Shards: shardStore,
		Index:  mgr,
		Logger: logger,
	})

	coord, err := jobs.New(jobs.Config{
		DB:                conn,
		Books:             repo,
		Index:             mgr,
		Processor:         processor,
		Finalizer:         finalizer,
		Publisher:         guidelines,
		LockTTL:           cfg.Jobs.LockTTL,
		HeartbeatInterval: cfg.Jobs.HeartbeatInterval,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	s.onClose("job coordinator", coord.Close)

	return &svcctx.Services{
		DB:           conn,
		Books:        repo,
		Shards:       shardStore,
		Index:        mgr,
		Summaries:    sums,
		Coordinator:  coord,
		Guidelines:   guidelines,
		Registry:     s.registry,
		Prompts:      catalog,
		LLMCallStore: calls,
		Config:       s.configMgr,
		Logger:       logger,
		Home:         s.home,
	}, nil
}

// currentLLM resolves the default provider on every call so a config
// reload takes effect for the next request.
func (s *Server) currentLLM() (providers.LLMClient, error) {
	if s.llmClient != nil {
		return s.llmClient, nil
	}
	return s.registry.GetLLM(s.config().Defaults.LLMProvider)
}
