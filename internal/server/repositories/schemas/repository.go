// Package schemas wraps the DDL used to create, inspect and drop tenant
// schemas. All identifiers are quoted with pgx.Identifier.
package schemas

import "context"

type Repository interface {
	CreateSchemaIfMissing(ctx context.Context, schema string) error
	DropSchemaCascade(ctx context.Context, schema string) error
	SchemaExists(ctx context.Context, schema string) (bool, error)
	TableExists(ctx context.Context, schema, table string) (bool, error)
	EnsureUUIDExtension(ctx context.Context) error
	EnsureHelpers(ctx context.Context) error
}
