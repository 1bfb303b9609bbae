// Package cache provides a stampede-safe get-or-set cache for expensive
// aggregation queries. Values live in a shared relational table so every
// instance sees the same entries; cache fills are serialized by an
// in-process singleflight group plus a cross-instance lock row, so an
// expired hot key triggers one recomputation instead of a thundering herd.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/tbourn/go-inquiry-backend/internal/domain"
)

// Store is the shared key-value cache. Safe for concurrent use.
type Store struct {
	DB *gorm.DB

	// LockTTL bounds how long a crashed filler can hold the fill lock.
	LockTTL time.Duration
	// LockWait bounds how long a losing caller polls for the winner's value
	// before giving up and computing directly.
	LockWait time.Duration

	sf singleflight.Group

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// New constructs a Store with sane defaults for the lock windows.
func New(db *gorm.DB, lockTTL, lockWait time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	if lockWait < 0 {
		lockWait = 0
	}
	return &Store{DB: db, LockTTL: lockTTL, LockWait: lockWait, now: time.Now}
}

// GetOrSet returns the cached JSON value for key, computing and storing it
// via factory on a miss. Concurrent callers for the same key collapse to a
// single factory execution per process (singleflight) and, across
// processes, to one lock-holding filler; losers wait briefly for the
// winner's value and fall back to computing directly if it never lands.
func (s *Store) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	if v, ok := s.lookup(ctx, key); ok {
		return v, nil
	}

	out, err, _ := s.sf.Do(key, func() (any, error) {
		// Re-check under singleflight: another goroutine may have filled it.
		if v, ok := s.lookup(ctx, key); ok {
			return v, nil
		}

		if s.acquireLock(ctx, key) {
			defer s.releaseLock(ctx, key)
			return s.fill(ctx, key, ttl, factory)
		}

		// Another instance is filling; poll briefly for its value.
		deadline := s.now().Add(s.LockWait)
		for s.now().Before(deadline) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(25 * time.Millisecond):
			}
			if v, ok := s.lookup(ctx, key); ok {
				return v, nil
			}
		}

		// The winner is slow or gone; compute directly without storing so we
		// never fight the lock holder over the row.
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return out.(json.RawMessage), nil
}

// InvalidatePrefix deletes every entry whose key starts with prefix. Writes
// that change an inquiry's status or analysis call this so stats reflect the
// write without waiting out a stale TTL.
func (s *Store) InvalidatePrefix(ctx context.Context, prefix string) error {
	pattern := escapeLike(prefix) + "%"
	return s.DB.WithContext(ctx).
		Where("key LIKE ? ESCAPE '\\'", pattern).
		Delete(&domain.CacheEntry{}).Error
}

// lookup returns a fresh entry's value, if any.
func (s *Store) lookup(ctx context.Context, key string) (json.RawMessage, bool) {
	var entry domain.CacheEntry
	err := s.DB.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, s.now().UTC()).
		First(&entry).Error
	if err != nil {
		return nil, false
	}
	return json.RawMessage(entry.Value), true
}

// fill runs the factory and upserts the computed value.
func (s *Store) fill(ctx context.Context, key string, ttl time.Duration, factory func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	v, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := domain.CacheEntry{Key: key, Value: string(raw), ExpiresAt: now.Add(ttl), UpdatedAt: now}
	// Save on the primary key acts as insert-or-replace; a failed store is
	// not fatal, the value was computed either way.
	_ = s.DB.WithContext(ctx).Save(&entry).Error
	return json.RawMessage(raw), nil
}

// acquireLock takes the cross-instance fill lock for key via an atomic
// insert on the primary key. Expired locks from crashed holders are reaped
// first.
func (s *Store) acquireLock(ctx context.Context, key string) bool {
	now := s.now().UTC()
	s.DB.WithContext(ctx).
		Where("key = ? AND expires_at <= ?", key, now).
		Delete(&domain.CacheLock{})

	lock := domain.CacheLock{Key: key, ExpiresAt: now.Add(s.LockTTL)}
	return s.DB.WithContext(ctx).Create(&lock).Error == nil
}

func (s *Store) releaseLock(ctx context.Context, key string) {
	s.DB.WithContext(ctx).Where("key = ?", key).Delete(&domain.CacheLock{})
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
