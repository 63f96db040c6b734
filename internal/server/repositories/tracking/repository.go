// Package tracking stores which registry migrations have been applied to a
// tenant schema, in <schema>.schema_migrations.
package tracking

import (
	"context"

	"github.com/dmitrijs2005/tenantry/internal/server/models"
)

// TableName is the per-schema tracking table.
const TableName = "schema_migrations"

type Repository interface {
	// EnsureTable creates the tracking table if it is missing.
	EnsureTable(ctx context.Context, schema string) error
	// Applied lists recorded migrations by ascending version. A schema
	// without a tracking table yields an empty list.
	Applied(ctx context.Context, schema string) ([]models.MigrationRecord, error)
	Record(ctx context.Context, schema string, version int64, name string) error
}
