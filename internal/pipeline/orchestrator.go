package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbiterlabs/mevscan/internal/scanner"
)

// Orchestrator runs the pipeline goroutines: the scan engine, the candidate
// runner, and optionally the history archiver.
type Orchestrator struct {
	engine          *scanner.Engine
	runner          *Runner
	archiver        *Archiver // nil outside full mode
	archiveInterval time.Duration
	logger          *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver may be nil.
func NewOrchestrator(engine *scanner.Engine, runner *Runner, archiver *Archiver, archiveInterval time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		engine:          engine,
		runner:          runner,
		archiver:        archiver,
		archiveInterval: archiveInterval,
		logger:          logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every stage under one errgroup. A non-context error from any
// stage cancels the rest; feed loss surfaces here as fatal.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.engine.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("scan engine: %w", err)
	})

	g.Go(func() error {
		err := o.runner.Run(ctx)
		if err != nil && ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunLoop(ctx, o.archiveInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped cleanly")
	return nil
}
