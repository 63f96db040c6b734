package schemas

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tenantry/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
	// role receives privileges on tenant schemas; empty means CURRENT_USER.
	role string
}

func NewPostgresRepository(db dbx.DBTX, role string) *PostgresRepository {
	return &PostgresRepository{db: db, role: role}
}

func (r *PostgresRepository) grantee() string {
	if r.role == "" {
		return "CURRENT_USER"
	}
	return dbx.Ident(r.role)
}

// CreateSchemaIfMissing creates schema and grants the operating role full
// privileges on it, on its existing tables and sequences and on those created later.
// Running it again for an existing schema is harmless.
func (r *PostgresRepository) CreateSchemaIfMissing(ctx context.Context, schema string) error {
	s := dbx.Ident(schema)
	role := r.grantee()

	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s),
		fmt.Sprintf(`GRANT ALL ON SCHEMA %s TO %s`, s, role),
		fmt.Sprintf(`GRANT ALL ON ALL TABLES IN SCHEMA %s TO %s`, s, role),
		fmt.Sprintf(`GRANT ALL ON ALL SEQUENCES IN SCHEMA %s TO %s`, s, role),
		fmt.Sprintf(`ALTER DEFAULT PRIVILEGES IN SCHEMA %s GRANT ALL ON TABLES TO %s`, s, role),
		fmt.Sprintf(`ALTER DEFAULT PRIVILEGES IN SCHEMA %s GRANT ALL ON SEQUENCES TO %s`, s, role),
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
	}
	return nil
}

// DropSchemaCascade irreversibly drops schema and everything in it.
func (r *PostgresRepository) DropSchemaCascade(ctx context.Context, schema string) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, dbx.Ident(schema))); err != nil {
		return fmt.Errorf("drop schema %s: %w", schema, err)
	}
	return nil
}

func (r *PostgresRepository) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		schema).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM information_schema.tables
		    WHERE table_schema = $1 AND table_name = $2
		 )`,
		schema, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// EnsureUUIDExtension installs uuid-ossp database-wide. Callers treat a
// failure as non-fatal: the extension usually exists already and the role
// may simply lack the privilege to create it.
func (r *PostgresRepository) EnsureUUIDExtension(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return fmt.Errorf("create uuid extension: %w", err)
	}
	return nil
}

// EnsureHelpers creates the shared routines tenant tables depend on.
func (r *PostgresRepository) EnsureHelpers(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE OR REPLACE FUNCTION public.set_updated_at() RETURNS trigger
LANGUAGE plpgsql AS $$
BEGIN
    NEW.updated_at = now();
    RETURN NEW;
END;
$$`)
	if err != nil {
		return fmt.Errorf("create helper routines: %w", err)
	}
	return nil
}
