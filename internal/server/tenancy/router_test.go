package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	acquired  atomic.Int32
	released  atomic.Int32
	discarded atomic.Int32
}

func (o *countingObserver) ConnAcquired() { o.acquired.Add(1) }
func (o *countingObserver) ConnReleased(discarded bool) {
	o.released.Add(1)
	if discarded {
		o.discarded.Add(1)
	}
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func expectBind(mock sqlmock.Sqlmock, schema string) {
	mock.ExpectExec(regexp.QuoteMeta(`SET search_path TO "` + schema + `", public`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectReset(mock sqlmock.Sqlmock) *sqlmock.ExpectedExec {
	return mock.ExpectExec(regexp.QuoteMeta(`RESET search_path`))
}

func TestRouter_LazyAcquireAndBind(t *testing.T) {
	db, mock := newMockDB(t)
	obs := &countingObserver{}
	r := NewRouter(db, "tenant_acme", nil, obs)

	assert.Equal(t, 0, db.Stats().InUse)
	assert.Equal(t, "tenant_acme", r.Schema())

	expectBind(mock, "tenant_acme")

	c1, err := r.Conn(context.Background())
	require.NoError(t, err)
	c2, err := r.Conn(context.Background())
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, db.Stats().InUse)
	assert.Equal(t, int32(1), obs.acquired.Load())

	expectReset(mock).WillReturnResult(sqlmock.NewResult(0, 0))
	r.Release()
}

func TestRouter_DoubleReleaseIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	obs := &countingObserver{}
	r := NewRouter(db, "tenant_acme", nil, obs)

	expectBind(mock, "tenant_acme")
	_, err := r.Conn(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, db.Stats().InUse)

	expectReset(mock).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NotPanics(t, r.Release)
	statsAfterFirst := db.Stats()
	require.NotPanics(t, r.Release)
	statsAfterSecond := db.Stats()

	assert.Equal(t, 0, statsAfterFirst.InUse)
	assert.Equal(t, statsAfterFirst.InUse, statsAfterSecond.InUse)
	assert.Equal(t, statsAfterFirst.Idle, statsAfterSecond.Idle)
	assert.Equal(t, statsAfterFirst.OpenConnections, statsAfterSecond.OpenConnections)
	assert.Equal(t, int32(1), obs.released.Load())
}

func TestRouter_ConcurrentReleaseResetsOnce(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewRouter(db, "tenant_acme", nil, nil)

	expectBind(mock, "tenant_acme")
	_, err := r.Conn(context.Background())
	require.NoError(t, err)

	expectReset(mock).WillReturnResult(sqlmock.NewResult(0, 0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, db.Stats().InUse)
}

func TestRouter_ReleaseWithoutConnDoesNothing(t *testing.T) {
	db, _ := newMockDB(t)
	obs := &countingObserver{}
	r := NewRouter(db, "tenant_acme", nil, obs)

	r.Release()
	r.Release()

	assert.Equal(t, int32(0), obs.released.Load())
}

func TestRouter_ConnAfterRelease(t *testing.T) {
	db, _ := newMockDB(t)
	r := NewRouter(db, "tenant_acme", nil, nil)
	r.Release()

	_, err := r.Conn(context.Background())
	assert.ErrorIs(t, err, common.ErrorHandleReleased)
	assert.ErrorIs(t, r.Rebind("tenant_other"), common.ErrorHandleReleased)
}

func TestRouter_FailedResetDiscardsConnection(t *testing.T) {
	db, mock := newMockDB(t)
	obs := &countingObserver{}
	r := NewRouter(db, "tenant_acme", nil, obs)

	expectBind(mock, "tenant_acme")
	_, err := r.Conn(context.Background())
	require.NoError(t, err)

	expectReset(mock).WillReturnError(errors.New("connection lost"))
	r.Release()

	stats := db.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 0, stats.Idle, "connection with a bound search_path must not return to the pool")
	assert.Equal(t, int32(1), obs.discarded.Load())
}

func TestRouter_BindFailureReturnsConnection(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewRouter(db, "tenant_acme", nil, nil)

	mock.ExpectExec(regexp.QuoteMeta(`SET search_path`)).WillReturnError(errors.New("boom"))
	expectReset(mock).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := r.Conn(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestRouter_RebindReleasesPrevious(t *testing.T) {
	db, mock := newMockDB(t)
	obs := &countingObserver{}
	r := NewRouter(db, "tenant_a", nil, obs)

	expectBind(mock, "tenant_a")
	_, err := r.Conn(context.Background())
	require.NoError(t, err)

	expectReset(mock).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, r.Rebind("tenant_b"))
	assert.Equal(t, 0, db.Stats().InUse)

	require.NoError(t, r.Rebind("tenant_b"))

	expectBind(mock, "tenant_b")
	_, err = r.Conn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, db.Stats().InUse)

	expectReset(mock).WillReturnResult(sqlmock.NewResult(0, 0))
	r.Release()

	assert.Equal(t, int32(2), obs.acquired.Load())
	assert.Equal(t, int32(2), obs.released.Load())
}

func TestScope_DoneReleases(t *testing.T) {
	db, mock := newMockDB(t)
	b := NewBinder(db, nil, nil)

	ctx, done := b.Scope(context.Background(), TenantContext{Slug: "acme", SchemaName: "tenant_acme"})

	tc, err := Require(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acme", tc.Slug)

	expectBind(mock, "tenant_acme")
	_, err = Conn(ctx)
	require.NoError(t, err)

	expectReset(mock).WillReturnResult(sqlmock.NewResult(0, 0))
	done()
	done()

	assert.Equal(t, 0, db.Stats().InUse)
	_, err = Conn(ctx)
	assert.ErrorIs(t, err, common.ErrorHandleReleased)
}

func TestScope_CancellationReleases(t *testing.T) {
	db, mock := newMockDB(t)
	b := NewBinder(db, nil, nil)

	parent, cancel := context.WithCancel(context.Background())
	ctx, done := b.Scope(parent, TenantContext{Slug: "acme", SchemaName: "tenant_acme"})
	defer done()

	expectBind(mock, "tenant_acme")
	_, err := Conn(ctx)
	require.NoError(t, err)

	expectReset(mock).WillReturnResult(sqlmock.NewResult(0, 0))
	cancel()

	require.Eventually(t, func() bool { return db.Stats().InUse == 0 }, time.Second, 5*time.Millisecond)
}

func TestConn_NoRouter(t *testing.T) {
	_, err := Conn(context.Background())
	assert.ErrorIs(t, err, common.ErrorNoTenant)
}
