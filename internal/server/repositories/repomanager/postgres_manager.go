// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and the catalog migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/server/migrations"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/schemas"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/tenants"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/tracking"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes the catalog migration hook.
type PostgresRepositoryManager struct {
	// role is granted privileges on every tenant schema.
	role string
}

// Tenants returns a tenants.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Tenants(db dbx.DBTX) tenants.Repository {
	return tenants.NewPostgresRepository(db)
}

// Schemas returns a schemas.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Schemas(db dbx.DBTX) schemas.Repository {
	return schemas.NewPostgresRepository(db, m.role)
}

// Tracking returns a tracking.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Tracking(db dbx.DBTX) tracking.Repository {
	return tracking.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded catalog migrations and runs
// them against the public schema.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
// role may be empty, in which case tenant schemas are granted to CURRENT_USER.
func NewPostgresRepositoryManager(role string) RepositoryManager {
	return &PostgresRepositoryManager{role: role}
}
