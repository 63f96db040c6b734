package tracking

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) EnsureTable(ctx context.Context, schema string) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version    bigint PRIMARY KEY,
		name       text NOT NULL,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`, dbx.Ident(schema, TableName))

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Applied(ctx context.Context, schema string) ([]models.MigrationRecord, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, dbx.Ident(schema, TableName)).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if !exists {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT version, name, applied_at FROM %s ORDER BY version`, dbx.Ident(schema, TableName)))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.MigrationRecord
	for rows.Next() {
		var rec models.MigrationRecord
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) Record(ctx context.Context, schema string, version int64, name string) error {
	query := fmt.Sprintf(`INSERT INTO %s (version, name, applied_at) VALUES ($1, $2, now())`, dbx.Ident(schema, TableName))
	if _, err := r.db.ExecContext(ctx, query, version, name); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
