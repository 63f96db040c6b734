// Package server wires the tenancy subsystem together and runs it: it
// bootstraps the catalog, optionally migrates every tenant schema, and serves
// gRPC and Prometheus metrics until it is signalled to stop.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server/config"
	"github.com/dmitrijs2005/tenantry/internal/server/registry"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/repomanager"

	gs "github.com/dmitrijs2005/tenantry/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger
	deps   *Deps
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogLevel, c.LogFormat)

	db, err := OpenDB(c)
	if err != nil {
		return nil, err
	}

	deps, err := NewDeps(context.Background(), c, logger, db, repomanager.NewPostgresRepositoryManager(c.DBRole), dbx.NewTxRunner(db), registry.Default())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := deps.Metrics.RegisterDB(db, "tenantry"); err != nil {
		logger.Warn(context.Background(), "db stats collector not registered", "error", err)
	}

	return &App{config: c, logger: logger, deps: deps}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.config.SecretKey,
		app.deps.Resolver, app.deps.Binder, app.deps.Migrations, app.deps.Metrics)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.deps.Metrics.Handler())

	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// prepare bootstraps the catalog and, if configured, migrates every active
// tenant. Tenants that fail to migrate are logged; the server still starts.
func (app *App) prepare(ctx context.Context) error {
	if err := app.deps.BootstrapCatalog(ctx); err != nil {
		return err
	}

	if !app.config.MigrateOnStart {
		return nil
	}

	res, err := app.deps.Migrations.RunMigrationsForAllTenants(ctx)
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		app.logger.Warn(ctx, "some tenants are not fully migrated", "failed", res.Failed)
	}
	return nil
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.deps.Close()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.prepare(ctx); err != nil {
		app.logger.Error(ctx, "startup failed", "error", err)
		return err
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()
	app.logger.Info(ctx, "App stopped")
	return nil
}
