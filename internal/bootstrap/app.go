package bootstrap

import (
	"context"
	"log/slog"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
	"github.com/candidateeval/evaluator-core/internal/infra/config"
)

// App encapsulates the worker pool lifecycle: there is no HTTP surface to
// serve, only the queue-draining loop that runs the Evaluation Engine.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *evalcore.WorkerPool
}

// NewApp constructs the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, pool *evalcore.WorkerPool) *App {
	return &App{cfg: cfg, logger: logger.With("component", "bootstrap"), pool: pool}
}

// Run drains the durable queue until ctx is cancelled, then drains any
// in-flight work before returning.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("worker pool starting", "pool_size", a.cfg.Worker.PoolSize)
	return a.pool.Run(ctx)
}
