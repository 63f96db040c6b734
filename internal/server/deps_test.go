package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server/config"
	"github.com/dmitrijs2005/tenantry/internal/server/registry"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tenantry/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeps(t *testing.T, cfg *config.Config) (*Deps, *repomanager.MemoryStore) {
	t.Helper()

	db, _, err := sqlmock.New()
	require.NoError(t, err)

	store := repomanager.NewMemoryStore()
	reg := registry.MustNew(registry.Definition{
		Version: 1,
		Name:    "CreateUsers",
		Apply: func(_ context.Context, _ dbx.DBTX, schema string) error {
			store.CreateTable(schema, registry.BaseTable)
			return nil
		},
	})
	d, err := NewDeps(context.Background(), cfg, logging.Nop{}, db, repomanager.NewInMemoryRepositoryManager(store), repomanager.InMemoryTx{}, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, store
}

func TestNewDeps_WithoutRedis(t *testing.T) {
	d, _ := newTestDeps(t, &config.Config{TenantCacheTTL: time.Minute})

	assert.Nil(t, d.Redis)
	assert.NotNil(t, d.Resolver)
	assert.NotNil(t, d.Binder)
	assert.NotNil(t, d.Runner)
	assert.Equal(t, 1, d.Runner.Registry().Len())
}

func TestNewDeps_ProvisionAndResolveThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	d, _ := newTestDeps(t, &config.Config{RedisAddr: mr.Addr(), TenantCacheTTL: time.Minute, AutoApproveTenants: true})
	require.NotNil(t, d.Redis)
	ctx := context.Background()

	created, err := d.Provisioning.CreateTenant(ctx, services.CreateTenantInput{CompanyName: "Acme"})
	require.NoError(t, err)

	got, err := d.Resolver.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, mr.Exists("tenantry:tenant:acme"))

	// Deactivation invalidates the cached record.
	require.NoError(t, d.Provisioning.Deactivate(ctx, created.ID))
	assert.False(t, mr.Exists("tenantry:tenant:acme"))

	_, err = d.Resolver.Resolve(ctx, "acme")
	assert.Error(t, err)
}

func TestBootstrapCatalog(t *testing.T) {
	d, store := newTestDeps(t, &config.Config{})
	ctx := context.Background()

	// RunMigrations is a no-op for the in-memory manager.
	store.FailOn("EnsureUUIDExtension", errors.New("must be superuser"))
	assert.NoError(t, d.BootstrapCatalog(ctx))

	boom := errors.New("permission denied for schema public")
	store.FailOn("EnsureHelpers", boom)
	assert.ErrorIs(t, d.BootstrapCatalog(ctx), boom)
}
