// Package tenants implements the tenant catalog store over public.tenants
// and public.tenant_members.
package tenants

import (
	"context"

	"github.com/dmitrijs2005/tenantry/internal/server/models"
)

// Repository is the tenant catalog. Single-tenant lookups return (nil, nil)
// when nothing matches.
type Repository interface {
	FindByID(ctx context.Context, id string) (*models.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	FindByCompanyName(ctx context.Context, companyName string) (*models.Tenant, error)
	FindByOwnerEmail(ctx context.Context, email string) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]*models.Tenant, error)
	ListAll(ctx context.Context) ([]*models.Tenant, error)
	ListOwnedOrMemberOf(ctx context.Context, userID string) ([]*models.TenantWithRole, error)
	Insert(ctx context.Context, tenant *models.Tenant) (*models.Tenant, error)
	UpdateOwner(ctx context.Context, id, ownerID string) error
	UpdateStatus(ctx context.Context, id string, status models.TenantStatus) error
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
