package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashLockKey(t *testing.T) {
	// FNV-1a 64 of "a" is 0xaf63dc4c8601ec8c; the sign bit is cleared.
	assert.Equal(t, int64(0x2f63dc4c8601ec8c), hashLockKey("a"))

	a := hashLockKey("tenantry:migrate:tenant_acme")
	assert.Equal(t, a, hashLockKey("tenantry:migrate:tenant_acme"))
	assert.NotEqual(t, a, hashLockKey("tenantry:migrate:tenant_acme-1"))
	assert.GreaterOrEqual(t, a, int64(0))
	assert.GreaterOrEqual(t, hashLockKey(""), int64(0))
}

func TestLocalLock_SerializesSameKey(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, lease.Conn)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(ctx, "k")
		if err == nil {
			close(acquired)
			r.Release()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire must wait for release")
	case <-time.After(50 * time.Millisecond):
	}

	lease.Release()
	lease.Release() // second call is a no-op

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not proceed after release")
	}
}

func TestLocalLock_IndependentKeys(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "a")
	require.NoError(t, err)
	defer r1.Release()

	r2, err := l.Acquire(ctx, "b")
	require.NoError(t, err)
	r2.Release()
}

func TestLocalLock_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalLock().Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostgresLock_AcquireRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	key := "tenantry:migrate:tenant_acme"
	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
		WithArgs(hashLockKey(key)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(hashLockKey(key)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	lease, err := NewPostgresLock(db).Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, lease.Conn)
	assert.Equal(t, 1, db.Stats().InUse)

	lease.Release()
	lease.Release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLock_AcquireError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SELECT pg_advisory_lock`).WillReturnError(errors.New("canceling statement due to lock timeout"))

	_, err = NewPostgresLock(db).Acquire(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg_advisory_lock")
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestPostgresLock_UnlockFailureDiscardsConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SELECT pg_advisory_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WillReturnError(errors.New("connection reset"))

	lease, err := NewPostgresLock(db).Acquire(context.Background(), "k")
	require.NoError(t, err)
	lease.Release()

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, db.Stats().InUse)
	assert.Equal(t, 0, db.Stats().Idle)
}
