package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server/config"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/repomanager"
)

// FleetMigrator is the runner surface used by MigrationService.
// *runner.Runner implements it.
type FleetMigrator interface {
	SchemaMigrator
	ApplyToAllActiveTenants(ctx context.Context) (models.SweepResult, error)
	Rebuild(ctx context.Context, schema string) error
	AppliedVersions(ctx context.Context, schema string) ([]int64, error)
	StatusReport(ctx context.Context) ([]models.SchemaStatus, error)
}

// MigrationService exposes migration operations addressed by tenant slug.
type MigrationService struct {
	db           dbx.DBTX
	repomanager  repomanager.RepositoryManager
	migrator     FleetMigrator
	allowRebuild bool
	logger       logging.Logger
	audit        RebuildRecorder
}

func NewMigrationService(db dbx.DBTX, m repomanager.RepositoryManager, migrator FleetMigrator, cfg *config.Config, opts ...Option) *MigrationService {
	o := buildOptions(opts)
	return &MigrationService{
		db:           db,
		repomanager:  m,
		migrator:     migrator,
		allowRebuild: cfg.AllowSchemaRebuild,
		logger:       o.logger.With("module", "migrations"),
		audit:        o.audit,
	}
}

// RunMigrationsForTenant applies pending migrations to the tenant's schema.
// Inactive tenants are migrated too.
func (s *MigrationService) RunMigrationsForTenant(ctx context.Context, slug string) error {
	t, err := s.find(ctx, slug)
	if err != nil {
		return err
	}
	return s.migrator.ApplyTo(ctx, t.SchemaName)
}

// RunMigrationsForAllTenants sweeps every active tenant. Per-tenant failures
// are reported in the result, not as an error.
func (s *MigrationService) RunMigrationsForAllTenants(ctx context.Context) (models.SweepResult, error) {
	return s.migrator.ApplyToAllActiveTenants(ctx)
}

// RebuildTenantSchema drops the tenant's schema with all its data and
// recreates it from the registry. It fails with common.ErrorRebuildDisabled
// unless rebuilds are allowed by configuration.
func (s *MigrationService) RebuildTenantSchema(ctx context.Context, slug string) error {
	if !s.allowRebuild {
		return common.ErrorRebuildDisabled
	}

	t, err := s.find(ctx, slug)
	if err != nil {
		return err
	}

	return s.rebuild(ctx, t)
}

// rebuild records the schema's applied versions with the RebuildRecorder and
// then drops and recreates it.
func (s *MigrationService) rebuild(ctx context.Context, t *models.Tenant) error {
	applied, err := s.migrator.AppliedVersions(ctx, t.SchemaName)
	if err != nil {
		s.logger.Warn(ctx, "applied versions unknown", "slug", t.Slug, "error", err)
	}
	if err := s.audit.RecordRebuild(ctx, t, applied); err != nil {
		return fmt.Errorf("record rebuild of %s: %w", t.SchemaName, err)
	}

	s.logger.Warn(ctx, "rebuilding tenant schema", "slug", t.Slug, "schema", t.SchemaName)
	if err := s.migrator.Rebuild(ctx, t.SchemaName); err != nil {
		return fmt.Errorf("rebuild %s: %w", t.SchemaName, err)
	}
	return nil
}

// RebuildAllTenantSchemas rebuilds every active tenant's schema. confirm must
// equal the number of active tenants, otherwise common.ErrorConfirmation is
// returned and nothing is dropped.
func (s *MigrationService) RebuildAllTenantSchemas(ctx context.Context, confirm int) (models.SweepResult, error) {
	result := models.SweepResult{Success: []string{}, Failed: []string{}}
	if !s.allowRebuild {
		return result, common.ErrorRebuildDisabled
	}

	active, err := s.repomanager.Tenants(s.db).ListActive(ctx)
	if err != nil {
		return result, fmt.Errorf("list active tenants: %w", err)
	}
	if confirm != len(active) {
		return result, fmt.Errorf("%w: %d active tenants, got %d", common.ErrorConfirmation, len(active), confirm)
	}

	for _, t := range active {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := s.rebuild(ctx, t); err != nil {
			s.logger.Error(ctx, "tenant rebuild failed", "slug", t.Slug, "error", err)
			result.Failed = append(result.Failed, t.Slug)
			continue
		}
		result.Success = append(result.Success, t.Slug)
	}
	return result, nil
}

// GetMigrationStatus reports schema presence for every tenant in the catalog.
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]models.SchemaStatus, error) {
	return s.migrator.StatusReport(ctx)
}

// ActiveTenantCount is the value RebuildAllTenantSchemas expects as confirmation.
func (s *MigrationService) ActiveTenantCount(ctx context.Context) (int, error) {
	active, err := s.repomanager.Tenants(s.db).ListActive(ctx)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

func (s *MigrationService) find(ctx context.Context, slug string) (*models.Tenant, error) {
	t, err := s.repomanager.Tenants(s.db).FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("tenant %q: %w", slug, common.ErrorNotFound)
	}
	return t, nil
}
