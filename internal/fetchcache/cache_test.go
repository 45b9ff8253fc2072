package fetchcache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/derickschaefer/kwchart/internal/fetchcache"
	"github.com/derickschaefer/kwchart/internal/metrics"
	"github.com/derickschaefer/kwchart/internal/model"
)

// countingFetcher returns a Fetcher that blocks until release is closed and
// counts its invocations.
func countingFetcher(calls *int32, release <-chan struct{}, pts []model.Point, err error) fetchcache.Fetcher {
	return func(ctx context.Context) ([]model.Point, error) {
		atomic.AddInt32(calls, 1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return pts, err
	}
}

func TestGetCoalescesInFlight(t *testing.T) {
	c := fetchcache.New(metrics.New(), nil)
	var calls int32
	release := make(chan struct{})
	want := []model.Point{{T: 0, V: 1}}
	fetch := countingFetcher(&calls, release, want, nil)

	var wg sync.WaitGroup
	results := make([][]model.Point, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pts, err := c.Get(context.Background(), "v", "avg", fetch)
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			results[i] = pts
		}(i)
	}
	// Give every goroutine a chance to register before the fetch resolves.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", n)
	}
	for i, r := range results {
		if len(r) != 1 || r[0].V != 1 {
			t.Errorf("result %d: %v", i, r)
		}
	}
	if c.Fetches() != 1 || c.Len() != 1 {
		t.Errorf("Fetches=%d Len=%d", c.Fetches(), c.Len())
	}
}

func TestGetDistinctKeys(t *testing.T) {
	c := fetchcache.New(nil, nil)
	var calls int32
	release := make(chan struct{})
	close(release)
	fetch := countingFetcher(&calls, release, nil, nil)

	ctx := context.Background()
	c.Get(ctx, "v", "avg", fetch)
	c.Get(ctx, "v", "sum", fetch)
	c.Get(ctx, "w", "avg", fetch)
	c.Get(ctx, "v", "avg", fetch)
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 3 fetches for 3 keys, got %d", n)
	}
}

func TestFailedEntryIsRetried(t *testing.T) {
	c := fetchcache.New(nil, nil)
	var calls int32
	release := make(chan struct{})
	close(release)
	boom := errors.New("boom")

	_, err := c.Get(context.Background(), "v", "avg", countingFetcher(&calls, release, nil, boom))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("failed entry should be dropped, Len=%d", c.Len())
	}
	if _, err := c.Get(context.Background(), "v", "avg", countingFetcher(&calls, release, nil, nil)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected 2 fetches, got %d", n)
	}
}

func TestClearCancelsAndRefetches(t *testing.T) {
	c := fetchcache.New(nil, nil)
	var calls int32
	block := make(chan struct{}) // never closed

	errc := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "v", "avg", countingFetcher(&calls, block, nil, nil))
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	c.Clear()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled after Clear, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Clear did not cancel the in-flight fetch")
	}

	release := make(chan struct{})
	close(release)
	if _, err := c.Get(context.Background(), "v", "avg", countingFetcher(&calls, release, nil, nil)); err != nil {
		t.Fatalf("Get after Clear: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected a fresh fetch after Clear, got %d calls", n)
	}
}

func TestWaiterCancelDoesNotDisturbFetch(t *testing.T) {
	c := fetchcache.New(nil, nil)
	var calls int32
	release := make(chan struct{})
	fetch := countingFetcher(&calls, release, []model.Point{{T: 1, V: 2}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, "v", "avg", fetch); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled waiter, got %v", err)
	}
	close(release)
	pts, err := c.Get(context.Background(), "v", "avg", fetch)
	if err != nil || len(pts) != 1 {
		t.Fatalf("shared fetch should still resolve: %v %v", pts, err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestClosed(t *testing.T) {
	c := fetchcache.New(nil, nil)
	c.Close()
	_, err := c.Get(context.Background(), "v", "avg", func(context.Context) ([]model.Point, error) { return nil, nil })
	if !errors.Is(err, fetchcache.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
