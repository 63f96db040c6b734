package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server/audit"
	"github.com/dmitrijs2005/tenantry/internal/server/config"
	"github.com/dmitrijs2005/tenantry/internal/server/metrics"
	"github.com/dmitrijs2005/tenantry/internal/server/registry"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tenantry/internal/server/runner"
	"github.com/dmitrijs2005/tenantry/internal/server/services"
	"github.com/dmitrijs2005/tenantry/internal/server/tenancy"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// Deps holds the collaborators shared by the server and tenantctl.
type Deps struct {
	DB           *sql.DB
	Repos        repomanager.RepositoryManager
	Runner       *runner.Runner
	Resolver     *tenancy.Resolver
	Binder       *tenancy.Binder
	Provisioning *services.ProvisioningService
	Migrations   *services.MigrationService
	Metrics      *metrics.Collector
	Redis        *redis.Client
	Audit        *audit.Archiver
	Logger       logging.Logger
}

// OpenDB opens the shared pool through the pgx stdlib driver.
func OpenDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// NewDeps wires every component over db, migrating tenant schemas with reg.
// With a Postgres database the runner serializes migrations through advisory
// locks; otherwise in-process locks are used. Rebuilds are archived to S3
// when cfg names a bucket.
func NewDeps(ctx context.Context, cfg *config.Config, logger logging.Logger, db *sql.DB, repos repomanager.RepositoryManager, tx dbx.TxRunner, reg *registry.Registry) (*Deps, error) {
	d := &Deps{
		DB:      db,
		Repos:   repos,
		Metrics: metrics.New(),
		Logger:  logger,
	}

	locker := runner.Locker(runner.NewLocalLock())
	if _, ok := repos.(*repomanager.PostgresRepositoryManager); ok {
		locker = runner.NewPostgresLock(db)
	}

	d.Runner = runner.New(db, tx, repos, reg,
		runner.WithLocker(locker),
		runner.WithLogger(logger),
		runner.WithMetrics(d.Metrics),
	)

	var cache tenancy.RedisClient
	if cfg.RedisAddr != "" {
		d.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache = d.Redis
	}
	d.Resolver = tenancy.NewResolver(repos.Tenants(db), cache, cfg.TenantCacheTTL, logger)
	d.Binder = tenancy.NewBinder(db, logger, d.Metrics)

	d.Provisioning = services.NewProvisioningService(db, repos, d.Runner, cfg,
		services.WithLogger(logger),
		services.WithCacheInvalidator(d.Resolver),
		services.WithProvisioningMetrics(d.Metrics),
	)
	migrationOpts := []services.Option{services.WithLogger(logger)}
	if cfg.S3Bucket != "" {
		a, err := audit.NewS3Archiver(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("rebuild archive: %w", err)
		}
		d.Audit = a
		migrationOpts = append(migrationOpts, services.WithRebuildRecorder(a))
	}
	d.Migrations = services.NewMigrationService(db, repos, d.Runner, cfg, migrationOpts...)

	return d, nil
}

// EnsureHelpers creates the shared routines tenant tables depend on.
func (d *Deps) EnsureHelpers(ctx context.Context) error {
	if err := d.Repos.Schemas(d.DB).EnsureHelpers(ctx); err != nil {
		return fmt.Errorf("shared helpers: %w", err)
	}
	return nil
}

// BootstrapCatalog prepares the public schema: the uuid extension (best
// effort), the shared helper routines and the catalog tables.
func (d *Deps) BootstrapCatalog(ctx context.Context) error {
	if err := d.Repos.Schemas(d.DB).EnsureUUIDExtension(ctx); err != nil {
		d.Logger.Warn(ctx, "uuid extension not ensured, assuming it exists", "error", err)
	}
	if err := d.EnsureHelpers(ctx); err != nil {
		return err
	}
	if err := d.Repos.RunMigrations(ctx, d.DB); err != nil {
		return fmt.Errorf("catalog migrations: %w", err)
	}
	return nil
}

func (d *Deps) Close() error {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	return d.DB.Close()
}
