// Package app provides the top-level application lifecycle management for the
// MEV scanner. It wires together all dependencies (caches, stores, blob
// storage, the detection pipeline, server and notifications) and starts the
// appropriate goroutines based on the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/arbiterlabs/mevscan/internal/config"
	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/feed"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()

	mu   sync.RWMutex
	core *core
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return the registered cleanup functions still hold;
// call Close to release them.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "scan":
		return a.ScanMode(ctx, deps)
	case "record":
		return a.RecordMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) setCore(c *core) {
	a.mu.Lock()
	a.core = c
	a.mu.Unlock()
}

// Ingress returns the live chain data ingress, for embedding processes that
// push block diffs and mempool observations. It is nil until Run has started
// and always nil when replaying a recording.
func (a *App) Ingress() *feed.Ingress {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.core == nil {
		return nil
	}
	return a.core.ingress
}

// Dispatcher returns the execution hand-off for embedding processes that
// consume queued opportunities. It is nil until Run has started.
func (a *App) Dispatcher() domain.Dispatcher {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.core == nil {
		return nil
	}
	return a.core.bridge
}
