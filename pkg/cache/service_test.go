package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type payload struct {
	Count int `json:"count"`
}

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var got payload
	if err := m.Get(ctx, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	if err := m.Set(ctx, "k", payload{Count: 3}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Get(ctx, "k", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Count != 3 {
		t.Fatalf("expected 3, got %d", got.Count)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Get(ctx, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "k", payload{Count: 1}, 2*time.Second)
	now = now.Add(2 * time.Second)

	var got payload
	if err := m.Get(ctx, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

func TestMemoryDeletePattern(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "seats:e1:availability", 1, 0)
	_ = m.Set(ctx, "seats:e1:summary", 1, 0)
	_ = m.Set(ctx, "seats:e2:summary", 1, 0)

	if err := m.DeletePattern(ctx, "seats:e1:*"); err != nil {
		t.Fatalf("delete pattern: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", m.Len())
	}
}

func TestLoaderCachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemory())
	var calls int32

	fetch := func(context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		return payload{Count: int(n)}, nil
	}

	var got payload
	for i := 0; i < 3; i++ {
		if err := l.GetOrLoad(ctx, "k", time.Minute, &got, fetch); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if calls != 1 || got.Count != 1 {
		t.Fatalf("expected one fetch, got calls=%d count=%d", calls, got.Count)
	}

	if err := l.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := l.GetOrLoad(ctx, "k", time.Minute, &got, fetch); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Count != 2 {
		t.Fatalf("expected refetch after invalidate, got %d", got.Count)
	}
}

func TestLoaderCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemory())
	var calls int32
	release := make(chan struct{})

	fetch := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return payload{Count: 7}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got payload
			if err := l.GetOrLoad(ctx, "k", time.Minute, &got, fetch); err != nil {
				t.Errorf("load: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls < 1 || calls > 8 {
		t.Fatalf("unexpected fetch count %d", calls)
	}
}

func TestLoaderWithoutCacheAlwaysFetches(t *testing.T) {
	var l *Loader
	var calls int
	var got payload
	for i := 0; i < 2; i++ {
		err := l.GetOrLoad(context.Background(), "k", time.Minute, &got, func(context.Context) (any, error) {
			calls++
			return payload{Count: calls}, nil
		})
		if err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected 2 fetches, got %d", calls)
	}
}
