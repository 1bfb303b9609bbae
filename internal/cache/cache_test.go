package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-inquiry-backend/internal/domain"
)

func newCacheDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.CacheEntry{}, &domain.CacheLock{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestGetOrSet_MissFillsThenHits(t *testing.T) {
	s := New(newCacheDB(t), time.Second, 0)
	ctx := context.Background()

	var calls int32
	factory := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]int{"value": 7}, nil
	}

	raw, err := s.GetOrSet(ctx, "k1", time.Minute, factory)
	if err != nil {
		t.Fatalf("GetOrSet miss: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(raw, &got); err != nil || got["value"] != 7 {
		t.Fatalf("unexpected value %s (err %v)", raw, err)
	}

	if _, err := s.GetOrSet(ctx, "k1", time.Minute, factory); err != nil {
		t.Fatalf("GetOrSet hit: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("factory ran %d times, want 1", n)
	}
}

func TestGetOrSet_BrokenStoreStillServesComputedValue(t *testing.T) {
	db := newCacheDB(t)
	s := New(db, time.Second, 0)
	ctx := context.Background()

	// A lost entry table degrades the cache to pass-through: every call pays
	// the factory, nothing errors.
	if err := db.Migrator().DropTable(&domain.CacheEntry{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	var calls int32
	factory := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "computed", nil
	}

	for i := 0; i < 2; i++ {
		raw, err := s.GetOrSet(ctx, "k-broken", time.Minute, factory)
		if err != nil {
			t.Fatalf("GetOrSet with broken store: %v", err)
		}
		if string(raw) != `"computed"` {
			t.Fatalf("unexpected value: %s", raw)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("factory ran %d times, want 2 (no store to hit)", n)
	}
}

func TestGetOrSet_ExpiredEntryRecomputed(t *testing.T) {
	s := New(newCacheDB(t), time.Second, 0)
	ctx := context.Background()

	base := time.Now().UTC()
	s.now = func() time.Time { return base }

	var calls int32
	factory := func(ctx context.Context) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	if _, err := s.GetOrSet(ctx, "k2", time.Minute, factory); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	raw, err := s.GetOrSet(ctx, "k2", time.Minute, factory)
	if err != nil {
		t.Fatalf("refill: %v", err)
	}
	if string(raw) != "2" {
		t.Fatalf("expected recomputed value 2, got %s", raw)
	}
}

func TestGetOrSet_ConcurrentCallersSingleFill(t *testing.T) {
	s := New(newCacheDB(t), time.Second, 200*time.Millisecond)
	ctx := context.Background()

	var calls int32
	factory := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.GetOrSet(ctx, "hot", time.Minute, factory); err != nil {
				t.Errorf("GetOrSet: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("factory ran %d times under contention, want 1", n)
	}
}

func TestGetOrSet_FactoryErrorPropagates(t *testing.T) {
	s := New(newCacheDB(t), time.Second, 0)
	wantErr := fmt.Errorf("aggregate query failed")
	_, err := s.GetOrSet(context.Background(), "bad", time.Minute, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	if err == nil {
		t.Fatalf("expected factory error")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	s := New(newCacheDB(t), time.Second, 0)
	ctx := context.Background()

	mk := func(key string) {
		if _, err := s.GetOrSet(ctx, key, time.Minute, func(ctx context.Context) (any, error) {
			return key, nil
		}); err != nil {
			t.Fatalf("fill %s: %v", key, err)
		}
	}
	mk("stats:biz:b1")
	mk("stats:biz:b2")

	if err := s.InvalidatePrefix(ctx, "stats:biz:b1"); err != nil {
		t.Fatalf("InvalidatePrefix: %v", err)
	}

	var calls int32
	factory := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "fresh", nil
	}
	if _, err := s.GetOrSet(ctx, "stats:biz:b1", time.Minute, factory); err != nil {
		t.Fatalf("refill b1: %v", err)
	}
	if calls != 1 {
		t.Fatalf("invalidated key should recompute, factory calls = %d", calls)
	}
	if _, err := s.GetOrSet(ctx, "stats:biz:b2", time.Minute, factory); err != nil {
		t.Fatalf("read b2: %v", err)
	}
	if calls != 1 {
		t.Fatalf("unrelated key was invalidated too")
	}
}
