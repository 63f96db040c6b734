// Package runner applies the migration registry to tenant schemas: one
// schema at a time, across every active tenant, or from scratch after a
// destructive rebuild.
package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/dmitrijs2005/tenantry/internal/server/registry"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/repomanager"
)

const lockPrefix = "tenantry:migrate:"

// Metrics receives migration outcomes. kind is registry.Kind.String().
type Metrics interface {
	MigrationApplied(kind string)
	MigrationFailed(kind string)
	SweepFinished(success, failed int)
}

type nopMetrics struct{}

func (nopMetrics) MigrationApplied(string) {}
func (nopMetrics) MigrationFailed(string)  {}
func (nopMetrics) SweepFinished(int, int)  {}

// Runner applies registry entries to tenant schemas.
type Runner struct {
	db       dbx.DBTX
	tx       dbx.TxRunner
	repos    repomanager.RepositoryManager
	registry *registry.Registry
	locker   Locker
	logger   logging.Logger
	metrics  Metrics
}

type Option func(*Runner)

func WithLocker(l Locker) Option { return func(r *Runner) { r.locker = l } }

func WithLogger(l logging.Logger) Option { return func(r *Runner) { r.logger = l } }

func WithMetrics(m Metrics) Option { return func(r *Runner) { r.metrics = m } }

// New builds a Runner. db serves catalog reads and DDL outside
// transactions; tx wraps each migration together with its tracking record.
// While a connection-bound lock is held, both are replaced by the lock's
// connection. Without WithLocker an in-process LocalLock is used.
func New(db dbx.DBTX, tx dbx.TxRunner, repos repomanager.RepositoryManager, reg *registry.Registry, opts ...Option) *Runner {
	r := &Runner{
		db:       db,
		tx:       tx,
		repos:    repos,
		registry: reg,
		locker:   NewLocalLock(),
		logger:   logging.Nop{},
		metrics:  nopMetrics{},
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("module", "runner")
	return r
}

// Registry returns the registry the runner applies.
func (r *Runner) Registry() *registry.Registry {
	return r.registry
}

// AppliedVersions lists the versions recorded for schema, ascending. A schema
// without a tracking table has none.
func (r *Runner) AppliedVersions(ctx context.Context, schema string) ([]int64, error) {
	return r.appliedVersions(ctx, r.db, schema)
}

func (r *Runner) appliedVersions(ctx context.Context, db dbx.DBTX, schema string) ([]int64, error) {
	records, err := r.repos.Tracking(db).Applied(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("applied versions of %s: %w", schema, err)
	}

	versions := make([]int64, 0, len(records))
	for _, rec := range records {
		versions = append(versions, rec.Version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// Pending returns the registry entries not yet applied to schema, ascending by version.
func (r *Runner) Pending(ctx context.Context, schema string) ([]registry.Definition, error) {
	return r.pending(ctx, r.db, schema)
}

func (r *Runner) pending(ctx context.Context, db dbx.DBTX, schema string) ([]registry.Definition, error) {
	versions, err := r.appliedVersions(ctx, db, schema)
	if err != nil {
		return nil, err
	}

	applied := make(map[int64]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return r.registry.Pending(applied), nil
}

// ApplyTo brings schema up to date under the schema's migration lock.
//
// Pending entries run in ascending order, each in its own transaction with
// its tracking record. The first failure stops the run and is returned;
// entries applied before it stay applied. When every pending entry
// succeeded, all KindEnsure entries run again; their failures are logged
// and never returned.
func (r *Runner) ApplyTo(ctx context.Context, schema string) error {
	lease, err := r.locker.Acquire(ctx, lockPrefix+schema)
	if err != nil {
		return fmt.Errorf("lock %s: %w", schema, err)
	}
	defer lease.Release()

	db, tx := r.session(lease)
	return r.applyLocked(ctx, db, tx, schema)
}

// session returns the handles for work done under lease. A lock bound to a
// connection keeps all of that work on the same connection.
func (r *Runner) session(lease *Lease) (dbx.DBTX, dbx.TxRunner) {
	if lease.Conn == nil {
		return r.db, r.tx
	}
	return lease.Conn, dbx.NewTxRunner(lease.Conn)
}

func (r *Runner) applyLocked(ctx context.Context, db dbx.DBTX, txr dbx.TxRunner, schema string) error {
	if err := r.repos.Tracking(db).EnsureTable(ctx, schema); err != nil {
		return fmt.Errorf("tracking table of %s: %w", schema, err)
	}

	pending, err := r.pending(ctx, db, schema)
	if err != nil {
		return err
	}

	for _, d := range pending {
		err := txr.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			if err := d.Apply(ctx, tx, schema); err != nil {
				return err
			}
			return r.repos.Tracking(tx).Record(ctx, schema, d.Version, d.Name)
		})
		if err != nil {
			r.metrics.MigrationFailed(d.Kind.String())
			return fmt.Errorf("migration %d %s on %s: %w", d.Version, d.Name, schema, err)
		}

		r.metrics.MigrationApplied(d.Kind.String())
		r.logger.Info(ctx, "migration applied", "schema", schema, "version", d.Version, "name", d.Name)
	}

	for _, d := range r.registry.Ensure() {
		err := txr.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			return d.Apply(ctx, tx, schema)
		})
		if err != nil {
			r.metrics.MigrationFailed(d.Kind.String())
			r.logger.Warn(ctx, "ensure migration failed", "schema", schema, "name", d.Name, "error", err)
			continue
		}
		r.logger.Debug(ctx, "ensure migration checked", "schema", schema, "name", d.Name)
	}

	return nil
}

// ApplyToAllActiveTenants runs ApplyTo for every active tenant, one after
// another. A tenant that fails is logged and listed in Failed; the sweep
// continues with the next one. An error is returned only when the tenant
// list cannot be read or ctx ends; the partial result is returned with it.
func (r *Runner) ApplyToAllActiveTenants(ctx context.Context) (models.SweepResult, error) {
	result := models.SweepResult{Success: []string{}, Failed: []string{}}

	tenants, err := r.repos.Tenants(r.db).ListActive(ctx)
	if err != nil {
		return result, fmt.Errorf("list active tenants: %w", err)
	}

	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := r.ApplyTo(ctx, t.SchemaName); err != nil {
			r.logger.Error(ctx, "tenant migration failed", "slug", t.Slug, "schema", t.SchemaName, "error", err)
			result.Failed = append(result.Failed, t.Slug)
			continue
		}
		result.Success = append(result.Success, t.Slug)
	}

	r.metrics.SweepFinished(len(result.Success), len(result.Failed))
	r.logger.Info(ctx, "migration sweep finished", "success", len(result.Success), "failed", len(result.Failed))
	return result, nil
}

// Rebuild drops schema if it exists, recreates it and applies the whole
// registry. Everything stored in the schema is lost.
func (r *Runner) Rebuild(ctx context.Context, schema string) error {
	lease, err := r.locker.Acquire(ctx, lockPrefix+schema)
	if err != nil {
		return fmt.Errorf("lock %s: %w", schema, err)
	}
	defer lease.Release()

	db, tx := r.session(lease)
	schemas := r.repos.Schemas(db)

	exists, err := schemas.SchemaExists(ctx, schema)
	if err != nil {
		return err
	}
	if exists {
		r.logger.Warn(ctx, "dropping schema for rebuild", "schema", schema)
		if err := schemas.DropSchemaCascade(ctx, schema); err != nil {
			return err
		}
	}

	if err := schemas.CreateSchemaIfMissing(ctx, schema); err != nil {
		return err
	}

	return r.applyLocked(ctx, db, tx, schema)
}

// StatusReport describes every tenant's schema by introspection alone, so it
// works even when a tracking table is damaged.
func (r *Runner) StatusReport(ctx context.Context) ([]models.SchemaStatus, error) {
	tenants, err := r.repos.Tenants(r.db).ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	schemas := r.repos.Schemas(r.db)
	report := make([]models.SchemaStatus, 0, len(tenants))

	for _, t := range tenants {
		st := models.SchemaStatus{Slug: t.Slug, SchemaName: t.SchemaName, IsActive: t.IsActive}

		st.SchemaExists, err = schemas.SchemaExists(ctx, t.SchemaName)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", t.SchemaName, err)
		}
		if st.SchemaExists {
			st.TablesExist, err = schemas.TableExists(ctx, t.SchemaName, registry.BaseTable)
			if err != nil {
				return nil, fmt.Errorf("inspect %s: %w", t.SchemaName, err)
			}
		}

		report = append(report, st)
	}

	return report, nil
}
