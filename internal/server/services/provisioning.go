// Package services contains the administrative operations of the tenancy
// subsystem: provisioning tenants and running migrations across their
// schemas. Both are used by the server at startup and by tenantctl.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server/config"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/tenants"
	"github.com/dmitrijs2005/tenantry/internal/server/slug"
)

const compensateTimeout = 5 * time.Second

// SchemaMigrator brings one tenant schema up to date. *runner.Runner implements it.
type SchemaMigrator interface {
	ApplyTo(ctx context.Context, schema string) error
}

// CreateTenantInput describes a tenant to provision. Slug is optional; when
// empty it is derived from CompanyName.
type CreateTenantInput struct {
	CompanyName      string
	OwnerEmail       string
	FirebaseTenantID string
	Slug             string
	Description      *string
	Logo             *string
	Region           *string
	DefaultRole      *string
	EnforceDomain    bool
}

// ProvisioningService creates tenants together with their schemas and
// manages their catalog rows afterwards.
type ProvisioningService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	migrator    SchemaMigrator
	autoApprove bool
	logger      logging.Logger
	cache       CacheInvalidator
	metrics     ProvisioningMetrics
}

func NewProvisioningService(db dbx.DBTX, m repomanager.RepositoryManager, migrator SchemaMigrator, cfg *config.Config, opts ...Option) *ProvisioningService {
	o := buildOptions(opts)
	return &ProvisioningService{
		db:          db,
		repomanager: m,
		migrator:    migrator,
		autoApprove: cfg.AutoApproveTenants,
		logger:      o.logger.With("module", "provisioning"),
		cache:       o.cache,
		metrics:     o.metrics,
	}
}

// CreateTenant registers a tenant in the catalog, creates its schema and
// applies every migration to it.
//
// Without an explicit slug, a tenant that already holds the chosen slug when
// the row is inserted is returned as is. An explicit slug that is taken
// fails with common.ErrorConflict and nothing is written.
//
// If the schema cannot be created or migrated the catalog row is deleted
// again and the error is returned wrapped in common.ErrorProvisioning. The
// schema itself, possibly half-migrated, is left in place.
func (s *ProvisioningService) CreateTenant(ctx context.Context, in CreateTenantInput) (*models.Tenant, error) {
	repo := s.repomanager.Tenants(s.db)
	explicit := strings.TrimSpace(in.Slug) != ""

	sl, err := slug.Resolve(ctx, repo, in.Slug, in.CompanyName)
	if err != nil {
		s.metrics.ProvisioningFailed("slug")
		return nil, err
	}

	status := models.TenantStatusPending
	if s.autoApprove {
		status = models.TenantStatusApproved
	}

	t, err := repo.Insert(ctx, &models.Tenant{
		CompanyName:      in.CompanyName,
		Slug:             sl,
		SchemaName:       slug.SchemaName(sl),
		IsActive:         true,
		OwnerEmail:       in.OwnerEmail,
		Status:           status,
		FirebaseTenantID: in.FirebaseTenantID,
		Description:      in.Description,
		Logo:             in.Logo,
		Region:           in.Region,
		DefaultRole:      in.DefaultRole,
		EnforceDomain:    in.EnforceDomain,
	})
	if err != nil {
		if errors.Is(err, common.ErrorConflict) && !explicit {
			existing, ferr := repo.FindBySlug(ctx, sl)
			if ferr == nil && existing != nil {
				s.logger.Info(ctx, "tenant already exists", "slug", sl)
				return existing, nil
			}
		}
		s.metrics.ProvisioningFailed("insert")
		return nil, fmt.Errorf("insert tenant %q: %w", sl, err)
	}

	log := s.logger.With("slug", t.Slug, "schema", t.SchemaName)

	schemas := s.repomanager.Schemas(s.db)
	if err := schemas.EnsureUUIDExtension(ctx); err != nil {
		log.Warn(ctx, "uuid extension not ensured, assuming it exists", "error", err)
	}

	if err := schemas.CreateSchemaIfMissing(ctx, t.SchemaName); err != nil {
		s.compensate(ctx, log, t)
		s.metrics.ProvisioningFailed("schema")
		return nil, fmt.Errorf("%w: create schema %s: %w", common.ErrorProvisioning, t.SchemaName, err)
	}

	if err := s.migrator.ApplyTo(ctx, t.SchemaName); err != nil {
		s.compensate(ctx, log, t)
		log.Warn(ctx, "schema left in place after failed migration", "error", err)
		s.metrics.ProvisioningFailed("migrate")
		return nil, fmt.Errorf("%w: migrate %s: %w", common.ErrorProvisioning, t.SchemaName, err)
	}

	s.metrics.TenantProvisioned()
	log.Info(ctx, "tenant provisioned", "id", t.ID, "status", t.Status)
	return t, nil
}

// compensate removes t's catalog row. It runs even when ctx has ended, since
// a cancelled request is one of the failures it cleans up after.
func (s *ProvisioningService) compensate(ctx context.Context, log logging.Logger, t *models.Tenant) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	if err := s.repomanager.Tenants(s.db).Delete(ctx, t.ID); err != nil {
		log.Error(ctx, "failed to delete catalog row of unprovisioned tenant", "id", t.ID, "error", err)
	}
}

// SetOwner records ownerID as the owner of the tenant. It is called once the
// tenant's first user exists in its schema.
func (s *ProvisioningService) SetOwner(ctx context.Context, tenantID, ownerID string) error {
	return s.mutate(ctx, tenantID, func(repo tenants.Repository) error {
		return repo.UpdateOwner(ctx, tenantID, ownerID)
	})
}

func (s *ProvisioningService) Approve(ctx context.Context, tenantID string) error {
	return s.mutate(ctx, tenantID, func(repo tenants.Repository) error {
		return repo.UpdateStatus(ctx, tenantID, models.TenantStatusApproved)
	})
}

func (s *ProvisioningService) Reject(ctx context.Context, tenantID string) error {
	return s.mutate(ctx, tenantID, func(repo tenants.Repository) error {
		return repo.UpdateStatus(ctx, tenantID, models.TenantStatusRejected)
	})
}

// Deactivate hides the tenant from resolution. Its schema is kept.
func (s *ProvisioningService) Deactivate(ctx context.Context, tenantID string) error {
	return s.mutate(ctx, tenantID, func(repo tenants.Repository) error {
		return repo.Deactivate(ctx, tenantID)
	})
}

func (s *ProvisioningService) mutate(ctx context.Context, tenantID string, fn func(tenants.Repository) error) error {
	repo := s.repomanager.Tenants(s.db)

	t, err := repo.FindByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("tenant %s: %w", tenantID, common.ErrorNotFound)
	}

	if err := fn(repo); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, t.Slug)
	return nil
}

// EnsureCompanyAvailable fails with common.ErrorConflict when a tenant is
// already registered under companyName.
func (s *ProvisioningService) EnsureCompanyAvailable(ctx context.Context, companyName string) error {
	t, err := s.repomanager.Tenants(s.db).FindByCompanyName(ctx, companyName)
	if err != nil {
		return err
	}
	if t != nil {
		return fmt.Errorf("%w: company %q is already registered", common.ErrorConflict, companyName)
	}
	return nil
}

// ListTenantsForUser returns the tenants userID owns or belongs to, with the
// user's role in each.
func (s *ProvisioningService) ListTenantsForUser(ctx context.Context, userID string) ([]*models.TenantWithRole, error) {
	return s.repomanager.Tenants(s.db).ListOwnedOrMemberOf(ctx, userID)
}
