// Package tenancy binds units of work to tenants: it carries the resolved
// TenantContext in a context.Context and hands out connections whose
// search_path points at the tenant's schema.
package tenancy

import (
	"context"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
)

// TenantContext identifies the tenant a unit of work runs for. It is set
// once by tenant resolution and never modified afterwards.
type TenantContext struct {
	Slug             string
	SchemaName       string
	TenantID         string
	FirebaseTenantID string
}

func NewTenantContext(t *models.Tenant) TenantContext {
	return TenantContext{
		Slug:             t.Slug,
		SchemaName:       t.SchemaName,
		TenantID:         t.ID,
		FirebaseTenantID: t.FirebaseTenantID,
	}
}

type tenantKey struct{}

func WithTenant(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey{}, tc)
}

func FromContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantKey{}).(TenantContext)
	return tc, ok
}

// Require is FromContext returning common.ErrorNoTenant when ctx carries no tenant.
func Require(ctx context.Context) (TenantContext, error) {
	tc, ok := FromContext(ctx)
	if !ok {
		return TenantContext{}, common.ErrorNoTenant
	}
	return tc, nil
}
