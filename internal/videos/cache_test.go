package videos

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubProvider struct {
	metadata Metadata
	err      error
	calls    int
}

func (s *stubProvider) Lookup(context.Context, string) (Metadata, error) {
	s.calls++
	if s.err != nil {
		return Metadata{}, s.err
	}
	return s.metadata, nil
}

func TestCachingProviderLookup(t *testing.T) {
	base := &stubProvider{metadata: Metadata{Title: "Test"}}
	cache := NewCachingProvider(base, time.Minute)

	ctx := context.Background()

	meta, err := cache.Lookup(ctx, "https://example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if meta.Title != "Test" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if base.calls != 1 {
		t.Fatalf("expected base called once got %d", base.calls)
	}

	meta, err = cache.Lookup(ctx, "https://example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("expected cached result got %d calls", base.calls)
	}
}

func TestCachingProviderLookupErrors(t *testing.T) {
	cache := NewCachingProvider(nil, time.Minute)
	if _, err := cache.Lookup(context.Background(), "https://example.com"); err != ErrProviderUnavailable {
		t.Fatalf("expected provider unavailable got %v", err)
	}

	base := &stubProvider{err: ErrProviderUnavailable}
	cache = NewCachingProvider(base, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := cache.Lookup(context.Background(), "https://example.com"); err != ErrProviderUnavailable {
			t.Fatalf("expected provider unavailable got %v", err)
		}
	}
	if base.calls != 2 {
		t.Fatalf("expected failures not to be cached, got %d calls", base.calls)
	}
}

func TestCachingProviderExpiry(t *testing.T) {
	base := &stubProvider{metadata: Metadata{Title: "Test", DurationSeconds: 60}}
	cache := NewCachingProvider(base, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	if _, err := cache.Lookup(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("expected 1 call got %d", base.calls)
	}

	now = now.Add(time.Minute)

	if _, err := cache.Lookup(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected cache miss after expiry got %d calls", base.calls)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected expired entries to be swept, got %d", len(cache.items))
	}
}

func TestCachingProviderDefaultTTL(t *testing.T) {
	base := &stubProvider{metadata: Metadata{Title: "Test"}}
	cache := NewCachingProvider(base, 0)

	if cache.ttl <= 0 {
		t.Fatalf("expected ttl to default positive got %v", cache.ttl)
	}
}

type gatedProvider struct {
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedProvider) Lookup(context.Context, string) (Metadata, error) {
	g.calls.Add(1)
	<-g.release
	return Metadata{Title: "Shared", DurationSeconds: 90}, nil
}

func TestCachingProviderSharesConcurrentLookups(t *testing.T) {
	base := &gatedProvider{release: make(chan struct{})}
	cache := NewCachingProvider(base, time.Minute)

	const callers = 8
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	errs := make(chan error, callers)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			meta, err := cache.Lookup(context.Background(), "https://example.com/shared")
			if err == nil && meta.Title != "Shared" {
				t.Errorf("unexpected metadata %+v", meta)
			}
			errs <- err
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(base.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
	}
	if got := base.calls.Load(); got != 1 {
		t.Fatalf("expected one shared lookup, got %d", got)
	}
}
