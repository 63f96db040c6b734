package runner

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Locker provides mutual exclusion for migrating one schema across
// processes or nodes.
type Locker interface {
	// Acquire blocks until the lock for key is held. The returned lease must
	// be released.
	Acquire(ctx context.Context, key string) (*Lease, error)
}

// Lease is a held lock.
type Lease struct {
	// Conn is the session holding the lock, nil for in-process locks. Work
	// done under the lock must run on it: it is the only pooled connection
	// the holder may use.
	Conn *sql.Conn

	release func()
}

// Release drops the lock. Extra calls are no-ops.
func (l *Lease) Release() {
	if l.release != nil {
		l.release()
	}
}

// PostgresLock implements Locker with session-level advisory locks. Each
// lock pins its own connection, since advisory locks belong to a session.
type PostgresLock struct {
	db *sql.DB
}

func NewPostgresLock(db *sql.DB) *PostgresLock {
	return &PostgresLock{db: db}
}

// Acquire takes pg_advisory_lock on a dedicated connection and hands that
// connection out as Lease.Conn. Release unlocks on it and returns it to the
// pool.
func (l *PostgresLock) Acquire(ctx context.Context, key string) (*Lease, error) {
	lockID := hashLockKey(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, lockID); err != nil {
				// Closing the session is the only other way to drop the lock.
				_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			}
			_ = conn.Close()
		})
	}
	return &Lease{Conn: conn, release: release}, nil
}

// LocalLock implements Locker with in-process mutexes, one per key. It
// suits tests and single-process tooling.
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLock() *LocalLock {
	return &LocalLock{locks: make(map[string]*sync.Mutex)}
}

// Acquire obtains the mutex for key. Returns an error if the context is already cancelled.
func (l *LocalLock) Acquire(ctx context.Context, key string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire local lock: %w", err)
	}

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	var once sync.Once
	return &Lease{release: func() { once.Do(m.Unlock) }}, nil
}

// hashLockKey maps key to a non-negative pg_advisory_lock id with FNV-1a.
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
