package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
	"github.com/candidateeval/evaluator-core/internal/infra/config"
	"github.com/candidateeval/evaluator-core/internal/infra/documents"
	"github.com/candidateeval/evaluator-core/internal/infra/jobstore/memory"
	jobstorepg "github.com/candidateeval/evaluator-core/internal/infra/jobstore/postgres"
	"github.com/candidateeval/evaluator-core/internal/infra/llmclient"
	retrievalchunker "github.com/candidateeval/evaluator-core/internal/infra/retrieval/chunker"
	retrievalmemory "github.com/candidateeval/evaluator-core/internal/infra/retrieval/memory"
	retrievalpg "github.com/candidateeval/evaluator-core/internal/infra/retrieval/postgres"
	queuememory "github.com/candidateeval/evaluator-core/internal/infra/queue/memory"
	queuevalkey "github.com/candidateeval/evaluator-core/internal/infra/queue/valkey"
)

func provideLLMClient(cfg *config.Config, logger *slog.Logger) *llmclient.Client {
	return llmclient.NewClient(llmclient.Config{
		APIKey:            cfg.LLM.APIKey,
		Provider:          llmclient.Provider(cfg.LLM.Provider),
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		Referer:           cfg.LLM.Referer,
		AppName:           cfg.LLM.AppName,
		RetryAttempts:     cfg.LLM.RetryAttempts,
		RetryBaseDelay:    cfg.LLM.RetryBaseDelay,
		ChatTimeout:       cfg.LLM.ChatTimeout,
		EmbeddingsTimeout: cfg.LLM.EmbeddingsTimeout,
		MaxConcurrency:    cfg.LLM.MaxConcurrency,
	}, logger)
}

func provideChunker(cfg *config.Config) evalcore.Chunker {
	return retrievalchunker.NewBoundaryChunker(cfg.Retrieval.ChunkTargetLen, cfg.Retrieval.ChunkOverlap)
}

func provideRetrievalIndex(cfg *config.Config, llm *llmclient.Client, chunker evalcore.Chunker, logger *slog.Logger) evalcore.RetrievalIndex {
	pool := corePostgresPool(cfg, logger)
	if pool == nil {
		logger.Warn("retrieval index falling back to in-memory keyword search")
		return retrievalmemory.New()
	}
	return retrievalpg.New(pool, llm, chunker, cfg.Retrieval.SearchTimeout)
}

func provideJobStore(cfg *config.Config, logger *slog.Logger) evalcore.JobStore {
	pool := corePostgresPool(cfg, logger)
	if pool == nil {
		logger.Warn("job store falling back to in-memory store")
		return memory.New(time.Now)
	}
	return jobstorepg.New(pool)
}

func provideJobQueue(cfg *config.Config, logger *slog.Logger) evalcore.JobQueue {
	if cfg.Queue.InMemory {
		return queuememory.New()
	}
	opt, err := buildValkeyOptions(cfg.Queue.Addr)
	if err != nil {
		logger.Error("invalid queue valkey configuration, falling back to in-memory queue", "error", err)
		return queuememory.New()
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create queue valkey client, falling back to in-memory queue", "error", err)
		return queuememory.New()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("queue valkey ping failed, falling back to in-memory queue", "error", err)
		return queuememory.New()
	}
	logger.Info("valkey job queue enabled", "addr", cfg.Queue.Addr)
	return queuevalkey.New(client, cfg.Queue.Key, logger)
}

func provideDocumentProvider() evalcore.DocumentProvider {
	return documents.NewMemoryProvider()
}

func provideEngine(cfg *config.Config, retrieval evalcore.RetrievalIndex, llm *llmclient.Client, logger *slog.Logger) *evalcore.Engine {
	return evalcore.NewEngine(evalcore.Config{
		Model:               cfg.LLM.Model,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.MaxTokens,
		RetrievalMaxResults: cfg.Retrieval.MaxResults,
		RetrievalThreshold:  cfg.Retrieval.Threshold,
	}, retrieval, llm, logger)
}

func provideDispatcher(docs evalcore.DocumentProvider, store evalcore.JobStore, queue evalcore.JobQueue, logger *slog.Logger) *evalcore.Dispatcher {
	return evalcore.NewDispatcher(docs, store, queue, logger)
}

func provideWorkerPool(cfg *config.Config, queue evalcore.JobQueue, store evalcore.JobStore, engine *evalcore.Engine, logger *slog.Logger) (*evalcore.WorkerPool, error) {
	return evalcore.NewWorkerPool(evalcore.WorkerPoolConfig{
		PoolSize:     cfg.Worker.PoolSize,
		DrainTimeout: 30 * time.Second,
	}, queue, store, engine, logger)
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}

var (
	corePoolOnce sync.Once
	corePool     *pgxpool.Pool
)

func corePostgresPool(cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	corePoolOnce.Do(func() {
		dsn := strings.TrimSpace(cfg.Postgres.DSN)
		if dsn == "" {
			logger.Info("postgres dsn not set, using in-memory job store and retrieval index")
			return
		}
		poolConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			logger.Error("invalid postgres dsn, using in-memory fallbacks", "error", err)
			return
		}
		registerPgVector(poolConfig, logger)
		if cfg.Postgres.MaxConns > 0 {
			poolConfig.MaxConns = cfg.Postgres.MaxConns
		}
		if cfg.Postgres.MinConns > 0 {
			poolConfig.MinConns = cfg.Postgres.MinConns
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			logger.Error("failed to initialize postgres pool, using in-memory fallbacks", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("postgres ping failed, using in-memory fallbacks", "error", err)
			pool.Close()
			return
		}
		logger.Info("postgres-backed job store and retrieval index enabled")
		corePool = pool
	})
	return corePool
}

func registerPgVector(poolConfig *pgxpool.Config, logger *slog.Logger) {
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var oid uint32
		if err := conn.QueryRow(ctx, "SELECT 'vector'::regtype::oid").Scan(&oid); err != nil {
			logger.Error("failed to lookup pgvector oid", "error", err)
			return err
		}
		conn.TypeMap().RegisterType(&pgtype.Type{
			Name:  "vector",
			OID:   oid,
			Codec: pgtype.TextCodec{},
		})
		return nil
	}
}
