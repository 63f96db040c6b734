package tenantctl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server"
	"github.com/dmitrijs2005/tenantry/internal/server/config"
	"github.com/dmitrijs2005/tenantry/internal/server/registry"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store  *repomanager.MemoryStore
	cfg    config.Config
	seen   *config.Config
	out    bytes.Buffer
	errOut bytes.Buffer
	input  string
	tty    bool
}

func newHarness() *harness {
	h := &harness{store: repomanager.NewMemoryStore()}
	h.cfg.LoadDefaults()
	return h
}

func (h *harness) open(ctx context.Context, cfg *config.Config, logger logging.Logger) (*server.Deps, error) {
	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	mock.ExpectClose()

	reg := registry.MustNew(registry.Definition{
		Version: 1,
		Name:    "CreateUsers",
		Apply: func(_ context.Context, _ dbx.DBTX, schema string) error {
			h.store.CreateTable(schema, registry.BaseTable)
			return nil
		},
	})

	h.seen = cfg
	return server.NewDeps(ctx, cfg, logger, db, repomanager.NewInMemoryRepositoryManager(h.store), repomanager.InMemoryTx{}, reg)
}

func (h *harness) run(args ...string) error {
	h.out.Reset()

	cfg := h.cfg
	a := NewApp(&cfg)
	a.open = h.open
	a.in = strings.NewReader(h.input)
	a.out = &h.out
	a.errOut = &h.errOut
	a.terminal = func() bool { return h.tty }

	return a.Run(context.Background(), args)
}

func (h *harness) create(t *testing.T, company string) string {
	t.Helper()
	require.NoError(t, h.run("create", company))
	ts := h.store.Tenants()
	for _, tn := range ts {
		if tn.CompanyName == company {
			return tn.ID
		}
	}
	t.Fatalf("tenant %q not created", company)
	return ""
}

func TestFlags_OverrideConfig(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.run("-t", "30", "-x", "-o", "app_role", "status"))

	require.NotNil(t, h.seen)
	assert.Equal(t, 30*time.Second, h.seen.TenantCacheTTL)
	assert.True(t, h.seen.AllowSchemaRebuild)
	assert.Equal(t, "app_role", h.seen.DBRole)
	assert.False(t, h.cfg.AllowSchemaRebuild, "flags must not leak into the base config")
}

func TestCreate(t *testing.T) {
	h := newHarness()

	err := h.run("create", "Acme Corp", "--owner-email", "owner@acme.io", "--region", "eu")
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), `"Slug": "acme-corp"`)

	ts := h.store.Tenants()
	require.Len(t, ts, 1)
	assert.Equal(t, "owner@acme.io", ts[0].OwnerEmail)
	require.NotNil(t, ts[0].Region)
	assert.Equal(t, "eu", *ts[0].Region)
	assert.Nil(t, ts[0].Logo)
	assert.True(t, h.store.Schema(ts[0].SchemaName).Tables[registry.BaseTable])
}

func TestCreate_HelpersFailure(t *testing.T) {
	h := newHarness()
	h.store.FailOn("EnsureHelpers", errors.New("permission denied"))

	err := h.run("create", "Acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared helpers")
	assert.Empty(t, h.store.Tenants())
}

func TestCatalogCommands(t *testing.T) {
	h := newHarness()
	id := h.create(t, "Acme")

	require.NoError(t, h.run("set-owner", id, "user-1"))
	require.NoError(t, h.run("approve", id))
	assert.Contains(t, h.out.String(), "approved")

	ts := h.store.Tenants()
	require.Len(t, ts, 1)
	require.NotNil(t, ts[0].OwnerID)
	assert.Equal(t, "user-1", *ts[0].OwnerID)

	require.NoError(t, h.run("list-for-user", "user-1"))
	assert.Contains(t, h.out.String(), `"Role": "owner"`)

	require.NoError(t, h.run("reject", id))
	require.NoError(t, h.run("deactivate", id))
	assert.False(t, h.store.Tenants()[0].IsActive)
}

func TestCatalogCommands_UnknownTenant(t *testing.T) {
	h := newHarness()

	err := h.run("approve", "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMigrate(t *testing.T) {
	h := newHarness()
	h.create(t, "Acme")
	schema := h.store.Tenants()[0].SchemaName
	delete(h.store.Schema(schema).Tables, registry.BaseTable)
	h.store.Schema(schema).Records = nil

	require.NoError(t, h.run("migrate", "acme"))
	assert.True(t, h.store.Schema(schema).Tables[registry.BaseTable])

	assert.ErrorIs(t, h.run("migrate", "nope"), common.ErrorNotFound)
}

func TestMigrateAll(t *testing.T) {
	h := newHarness()
	h.create(t, "Acme")
	h.create(t, "Globex")

	require.NoError(t, h.run("migrate-all"))
	assert.Contains(t, h.out.String(), `"acme"`)
	assert.Contains(t, h.out.String(), `"globex"`)

	// migrate without a slug sweeps as well
	require.NoError(t, h.run("migrate"))
	assert.Contains(t, h.out.String(), `"success"`)
}

func TestRebuild(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		input   string
		tty     bool
		wantErr error
		rebuilt bool
	}{
		{name: "disabled", args: []string{"rebuild", "acme", "--yes"}, wantErr: common.ErrorRebuildDisabled},
		{name: "non-interactive without yes", args: []string{"-x", "rebuild", "acme"}, wantErr: errNotConfirmed},
		{name: "non-interactive with yes", args: []string{"-x", "rebuild", "acme", "-y"}, rebuilt: true},
		{name: "interactive confirmed", args: []string{"-x", "rebuild", "acme"}, tty: true, input: "acme\n", rebuilt: true},
		{name: "interactive wrong answer", args: []string{"-x", "rebuild", "acme"}, tty: true, input: "globex\n", wantErr: errNotConfirmed},
		{name: "unknown tenant", args: []string{"-x", "rebuild", "nope", "--yes"}, wantErr: common.ErrorNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.create(t, "Acme")
			schema := h.store.Tenants()[0].SchemaName
			h.store.CreateTable(schema, "notes")

			h.tty = tt.tty
			h.input = tt.input
			err := h.run(tt.args...)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, !tt.rebuilt, h.store.Schema(schema).Tables["notes"])
			assert.True(t, h.store.Schema(schema).Tables[registry.BaseTable])
		})
	}
}

func TestRebuild_HelpersFailure(t *testing.T) {
	h := newHarness()
	h.create(t, "Acme")
	h.store.FailOn("EnsureHelpers", errors.New("permission denied"))

	err := h.run("-x", "rebuild", "acme", "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared helpers")

	// An operator at a terminal is only warned.
	h.tty = true
	require.NoError(t, h.run("-x", "rebuild", "acme", "--yes"))
	assert.Contains(t, h.errOut.String(), "continuing without shared helpers")
}

func TestRebuild_ArchivesBeforeDropping(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		fail  bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		defer mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	h := newHarness()
	h.cfg.S3Bucket = "audit"
	h.cfg.S3BaseEndpoint = srv.URL
	h.cfg.S3AccessKey = "key"
	h.cfg.S3SecretKey = "secret"
	h.create(t, "Acme")
	schema := h.store.Tenants()[0].SchemaName
	h.store.CreateTable(schema, "notes")

	mu.Lock()
	fail = true
	mu.Unlock()
	require.Error(t, h.run("-x", "rebuild", "acme", "--yes"))
	assert.True(t, h.store.Schema(schema).Tables["notes"], "schema must survive a failed archive")

	mu.Lock()
	fail = false
	mu.Unlock()
	require.NoError(t, h.run("-x", "rebuild", "acme", "--yes"))
	assert.False(t, h.store.Schema(schema).Tables["notes"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 1)
	assert.True(t, strings.HasPrefix(paths[0], "/audit/rebuilds/"), paths[0])
}

func TestRebuildAll(t *testing.T) {
	h := newHarness()
	h.create(t, "Acme")
	h.create(t, "Globex")

	assert.ErrorIs(t, h.run("-x", "rebuild", "--all"), errNotConfirmed)

	h.tty = true
	h.input = "1\n"
	assert.ErrorIs(t, h.run("-x", "rebuild", "--all"), common.ErrorConfirmation)

	h.input = "two\n"
	assert.ErrorIs(t, h.run("-x", "rebuild", "--all"), common.ErrorConfirmation)

	h.input = "2\n"
	require.NoError(t, h.run("-x", "rebuild", "--all"))
	assert.Contains(t, h.out.String(), `"globex"`)

	h.tty = false
	require.NoError(t, h.run("-x", "rebuild", "--all", "--yes"))

	assert.Error(t, h.run("-x", "rebuild", "--all", "acme"))
}

func TestStatus(t *testing.T) {
	h := newHarness()
	h.create(t, "Acme")

	require.NoError(t, h.run("status"))
	out := h.out.String()
	assert.Contains(t, out, `"slug": "acme"`)
	assert.Contains(t, out, `"tables_exist": true`)
}

func TestConnectFailure(t *testing.T) {
	h := newHarness()
	cfg := h.cfg
	a := NewApp(&cfg)
	a.errOut = &h.errOut
	a.out = &h.out
	a.open = func(context.Context, *config.Config, logging.Logger) (*server.Deps, error) {
		return nil, errors.New("no route to host")
	}

	err := a.Run(context.Background(), []string{"status"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect: no route to host")
}
