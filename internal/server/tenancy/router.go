package tenancy

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/logging"
)

const resetTimeout = 5 * time.Second

// Observer is notified when routers check connections out of the pool and
// hand them back. discarded is true when a connection could not be reset
// and was closed instead of being returned.
type Observer interface {
	ConnAcquired()
	ConnReleased(discarded bool)
}

type nopObserver struct{}

func (nopObserver) ConnAcquired()     {}
func (nopObserver) ConnReleased(bool) {}

// Router owns at most one pooled connection for a single unit of work and
// keeps it bound to one tenant schema. It is safe for concurrent use but is
// meant to live for exactly one request or CLI invocation.
type Router struct {
	db       *sql.DB
	logger   logging.Logger
	observer Observer

	mu       sync.Mutex
	schema   string
	conn     *sql.Conn
	released bool
}

// NewRouter returns a router for schema. No connection is taken from db
// until Conn is first called.
func NewRouter(db *sql.DB, schema string, logger logging.Logger, observer Observer) *Router {
	if logger == nil {
		logger = logging.Nop{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Router{
		db:       db,
		schema:   schema,
		logger:   logger.With("module", "tenancy"),
		observer: observer,
	}
}

func (r *Router) Schema() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schema
}

// Conn returns the router's connection, checking one out and binding it to
// the schema on first use. After Release it fails with common.ErrorHandleReleased.
func (r *Router) Conn(ctx context.Context) (*sql.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return nil, common.ErrorHandleReleased
	}
	if r.conn != nil {
		return r.conn, nil
	}

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	r.observer.ConnAcquired()

	query := fmt.Sprintf(`SET search_path TO %s, public`, dbx.Ident(r.schema))
	if _, err := conn.ExecContext(ctx, query); err != nil {
		r.returnConn(conn)
		return nil, fmt.Errorf("bind schema %s: %w", r.schema, err)
	}

	r.conn = conn
	return conn, nil
}

// Rebind points the router at another schema. A connection bound to the
// previous schema is returned to the pool first; the next Conn call checks
// out a fresh one.
func (r *Router) Rebind(schema string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return common.ErrorHandleReleased
	}
	if schema == r.schema {
		return nil
	}
	if r.conn != nil {
		r.returnConn(r.conn)
		r.conn = nil
	}
	r.schema = schema
	return nil
}

// Release returns the connection to the pool. It is idempotent; only the
// first call has any effect and the router refuses further use afterwards.
func (r *Router) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return
	}
	r.released = true

	if r.conn != nil {
		r.returnConn(r.conn)
		r.conn = nil
	}
}

// returnConn resets search_path and closes conn, which hands it back to the
// pool. A connection that cannot be reset is discarded so it never serves
// another tenant. Called with mu held.
func (r *Router) returnConn(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	discarded := false
	if _, err := conn.ExecContext(ctx, `RESET search_path`); err != nil {
		r.logger.Warn(ctx, "reset search_path failed, discarding connection", "schema", r.schema, "error", err)
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		discarded = true
	}
	_ = conn.Close()
	r.observer.ConnReleased(discarded)
}
