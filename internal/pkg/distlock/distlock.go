// Package distlock guarantees that a campaign is sent by at most one
// runner at a time.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotOwner is returned when extending a lock that expired or was taken
// over by another process.
var ErrNotOwner = errors.New("distlock: lock not owned")

// DistLock is a mutual exclusion lock shared between processes. A lock
// instance belongs to one runner; concurrent runners need their own.
type DistLock interface {
	// Acquire tries to acquire the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Extend pushes the expiry out while the lock is still owned.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release releases the lock if it is still owned.
	Release(ctx context.Context) error
}

// CampaignKey is the lock key of a campaign send run.
func CampaignKey(campaignCID string) string {
	return "campaign-send:" + campaignCID
}

// NewLock prefers Redis and falls back to a PostgreSQL advisory lock when
// no Redis client is configured.
func NewLock(redisClient redis.Cmdable, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// KeepAlive extends lock every interval until ctx is done. onLost is
// called once if the lock can no longer be extended.
func KeepAlive(ctx context.Context, lock DistLock, ttl, interval time.Duration, onLost func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, ttl); err != nil {
				if ctx.Err() != nil {
					return
				}
				onLost(err)
				return
			}
		}
	}
}

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks are owned by a
// session, so the lock pins one pooled connection until Release. A dropped
// connection releases the lock.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock derives a deterministic lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, fmt.Errorf("distlock: advisory lock %d already acquired", l.lockID)
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("distlock: reserve connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("distlock: try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Extend checks the pinned session is still alive. Advisory locks do not
// expire, so ttl is ignored.
func (l *PGAdvisoryLock) Extend(ctx context.Context, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotOwner
	}
	if err := l.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotOwner, err)
	}
	return nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
