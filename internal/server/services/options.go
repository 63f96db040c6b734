package services

import (
	"context"

	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
)

// CacheInvalidator drops cached tenant lookups after catalog changes.
// *tenancy.Resolver implements it.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, slug string)
}

// ProvisioningMetrics receives tenant lifecycle outcomes.
type ProvisioningMetrics interface {
	TenantProvisioned()
	ProvisioningFailed(step string)
}

// RebuildRecorder keeps a record of a tenant schema that is about to be
// dropped. A failing recorder stops the rebuild. *audit.Archiver implements it.
type RebuildRecorder interface {
	RecordRebuild(ctx context.Context, t *models.Tenant, applied []int64) error
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(context.Context, string) {}

type nopProvisioningMetrics struct{}

func (nopProvisioningMetrics) TenantProvisioned()        {}
func (nopProvisioningMetrics) ProvisioningFailed(string) {}

type nopRecorder struct{}

func (nopRecorder) RecordRebuild(context.Context, *models.Tenant, []int64) error { return nil }

type options struct {
	logger  logging.Logger
	cache   CacheInvalidator
	metrics ProvisioningMetrics
	audit   RebuildRecorder
}

// Option configures the services in this package.
type Option func(*options)

func WithLogger(l logging.Logger) Option { return func(o *options) { o.logger = l } }

func WithCacheInvalidator(c CacheInvalidator) Option { return func(o *options) { o.cache = c } }

func WithProvisioningMetrics(m ProvisioningMetrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithRebuildRecorder(r RebuildRecorder) Option { return func(o *options) { o.audit = r } }

func buildOptions(opts []Option) options {
	o := options{
		logger:  logging.Nop{},
		cache:   nopInvalidator{},
		metrics: nopProvisioningMetrics{},
		audit:   nopRecorder{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
