// Package migrations embeds the goose migrations for the public catalog
// schema. Tenant schemas are migrated by the runner package instead.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
