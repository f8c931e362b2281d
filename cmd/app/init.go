package main

import (
	"github.com/candidateeval/evaluator-core/internal/bootstrap"
	"github.com/candidateeval/evaluator-core/internal/infra/config"
	"github.com/candidateeval/evaluator-core/pkg/logger"
)

// initializeApp wires the evaluation core's dependency graph by hand: load
// config, build the LLM client and retrieval index, the job store and
// queue, the Engine and WorkerPool, and hand the pool to the bootstrap App.
func initializeApp() (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.New()

	llm := provideLLMClient(cfg, log)
	chunker := provideChunker(cfg)
	retrieval := provideRetrievalIndex(cfg, llm, chunker, log)
	store := provideJobStore(cfg, log)
	queue := provideJobQueue(cfg, log)

	engine := provideEngine(cfg, retrieval, llm, log)
	// The Dispatcher (Submit/GetStatus/List/Cancel) is a Go-interface entrypoint
	// for an external API/CLI surface, which is out of scope for this process;
	// this binary only runs the worker pool that drains the queue Dispatcher
	// writes to. provideDispatcher exists in providers.go for that consumer.
	pool, err := provideWorkerPool(cfg, queue, store, engine, log)
	if err != nil {
		return nil, err
	}

	return bootstrap.NewApp(cfg, log, pool), nil
}
