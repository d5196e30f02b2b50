package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Postgres uses session-level advisory locks. Each Acquire pins one pooled connection
// until release.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates an advisory locker over db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Acquire takes pg_advisory_lock for every key in sorted order.
func (p *Postgres) Acquire(ctx context.Context, keys ...string) (func(), error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve connection: %v", ErrNotAcquired, err)
	}

	var held []string
	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, held[i])
		}
		_ = conn.Close()
	}

	for _, key := range normalizeKeys(keys) {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
			unlock()
			return nil, fmt.Errorf("%w: advisory lock %s: %v", ErrNotAcquired, key, err)
		}
		held = append(held, key)
	}
	return releaseAll([]func(){unlock}), nil
}
