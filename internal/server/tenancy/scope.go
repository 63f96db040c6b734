package tenancy

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/logging"
)

type routerKey struct{}

func WithRouter(ctx context.Context, r *Router) context.Context {
	return context.WithValue(ctx, routerKey{}, r)
}

func RouterFromContext(ctx context.Context) (*Router, bool) {
	r, ok := ctx.Value(routerKey{}).(*Router)
	return r, ok
}

// Conn returns the schema-bound connection of the router in ctx.
func Conn(ctx context.Context) (*sql.Conn, error) {
	r, ok := RouterFromContext(ctx)
	if !ok {
		return nil, common.ErrorNoTenant
	}
	return r.Conn(ctx)
}

// Binder creates routers over one shared pool.
type Binder struct {
	db       *sql.DB
	logger   logging.Logger
	observer Observer
}

func NewBinder(db *sql.DB, logger logging.Logger, observer Observer) *Binder {
	return &Binder{db: db, logger: logger, observer: observer}
}

func (b *Binder) NewRouter(schema string) *Router {
	return NewRouter(b.db, schema, b.logger, b.observer)
}

// Scope starts a unit of work for tc. The returned context carries tc and a
// router bound to tc.SchemaName. The router is released when done is called
// or when ctx is cancelled, whichever happens first:
//
//	ctx, done := binder.Scope(ctx, tc)
//	defer done()
func (b *Binder) Scope(ctx context.Context, tc TenantContext) (context.Context, func()) {
	r := b.NewRouter(tc.SchemaName)
	stop := context.AfterFunc(ctx, r.Release)

	ctx = WithRouter(WithTenant(ctx, tc), r)
	done := func() {
		stop()
		r.Release()
	}
	return ctx, done
}
