package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/schemas"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/tenants"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/tracking"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// runs against the pool, a dedicated connection or a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Tenants(db dbx.DBTX) tenants.Repository
	Schemas(db dbx.DBTX) schemas.Repository
	Tracking(db dbx.DBTX) tracking.Repository
}
