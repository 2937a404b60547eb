// Package app wires configuration into the running service: token store,
// manager, background refresher, and admin surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/tokenward/internal/admin"
	"github.com/florianilch/tokenward/internal/manager"
	"github.com/florianilch/tokenward/internal/store"
	"github.com/florianilch/tokenward/internal/upstream"
)

// App orchestrates the lifecycle of the credential manager and related
// services.
type App struct {
	cfg       *Config
	store     *store.Store
	manager   *manager.Manager
	refresher *manager.Refresher
	admin     *admin.Server
}

// New creates a new App instance. The store file is read here; everything
// network-facing waits for Start.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := slog.Default()

	st, err := store.Load(cfg.Store.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	secret, err := cfg.clientSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upstream client secret: %w", err)
	}
	source := upstream.NewClient(cfg.Upstream.TokenURL, cfg.Upstream.ClientID, secret, cfg.Upstream.Scopes)

	fallbacks, err := newFallbackProvider(cfg.Fallbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to configure fallback credentials: %w", err)
	}

	mgr, err := manager.New(st, source,
		manager.WithLogger(log),
		manager.WithBuffers(cfg.Refresh.RequestBuffer, cfg.Refresh.RefreshBuffer),
		manager.WithFallbacks(fallbacks),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	refresher, err := manager.NewRefresher(mgr, cfg.Refresh.Interval, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create background refresher: %w", err)
	}

	adminServer, err := admin.New(mgr, refresher, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin server: %w", err)
	}

	return &App{
		cfg:       cfg,
		store:     st,
		manager:   mgr,
		refresher: refresher,
		admin:     adminServer,
	}, nil
}

// Manager exposes the token manager to embedding callers (route handlers
// live outside this module).
func (a *App) Manager() *manager.Manager {
	return a.manager
}

// Start runs environment migration, starts all services, and blocks until
// shutdown is triggered. Uses errgroup for runtime error monitoring and
// shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	// Migration runs once, before the refresher can observe the store.
	seeds, err := resolveSeeds(ctx, a.cfg.Seeds)
	if err != nil {
		return fmt.Errorf("failed to resolve migration seeds: %w", err)
	}
	if err := a.manager.Migrate(ctx, seeds); err != nil {
		// The service must come up even when a seed is broken; the refresh
		// path may still serve every user.
		slog.WarnContext(ctx, "environment migration incomplete", "error", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	g.Go(func() error {
		return a.refresher.Run(gCtx)
	})

	slog.InfoContext(gCtx, "starting admin server", "address", address)
	adminErrCh, err := a.admin.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("admin server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.admin.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-adminErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "admin server runtime error", "error", err)
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready",
		"address", address, "store", a.store.Path())

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	// Final durable write of whatever the refresher last committed.
	if err := a.store.Save(); err != nil {
		slog.ErrorContext(shutdownCtx, "final store save failed", "error", err)
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
