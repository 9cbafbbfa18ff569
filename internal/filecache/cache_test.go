package filecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mockshelf/mockshelf/internal/figma"
	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/logging"
)

type fakeFetcher struct {
	calls atomic.Int32
	err   error
	delay time.Duration
	// started, when set, is closed once a fetch begins; the fetch then
	// blocks until release is closed or its context ends.
	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) GetFile(ctx context.Context, token, key string) (*figma.FileData, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.started != nil {
		close(f.started)
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &figma.FileData{Key: key, Frames: []flow.Frame{{ID: "1:1", Name: "Home"}}}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCache_HitWithinTTL(t *testing.T) {
	f := &fakeFetcher{}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := New(f, 5*time.Minute, logging.Discard(), WithClock(clk.Now))

	for i := 0; i < 3; i++ {
		data, err := c.Get(context.Background(), "tok", "abc")
		if err != nil || data.Key != "abc" {
			t.Fatalf("Get() = %+v, %v", data, err)
		}
		clk.Advance(time.Minute)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}

	clk.Advance(3 * time.Minute)
	if _, err := c.Get(context.Background(), "tok", "abc"); err != nil {
		t.Fatal(err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("fetch calls after expiry = %d, want 2", got)
	}
}

func TestCache_StaleOnError(t *testing.T) {
	f := &fakeFetcher{}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := New(f, time.Minute, logging.Discard(), WithClock(clk.Now))

	if _, err := c.Get(context.Background(), "tok", "abc"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(2 * time.Minute)
	f.err = errors.New("rate limited")

	data, err := c.Get(context.Background(), "tok", "abc")
	if err != nil {
		t.Fatalf("Get() error = %v, want stale data", err)
	}
	if data == nil || data.Key != "abc" {
		t.Errorf("stale data = %+v", data)
	}

	if _, err := c.Get(context.Background(), "tok", "other"); err == nil {
		t.Error("expected error for key without stale entry")
	}
}

func TestCache_ConcurrentMissesShareFetch(t *testing.T) {
	f := &fakeFetcher{delay: 50 * time.Millisecond}
	c := New(f, time.Minute, logging.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "tok", "abc"); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
}

func TestCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := &fakeFetcher{started: make(chan struct{}), release: make(chan struct{})}
	c := New(f, time.Minute, logging.Discard())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Get(ctxA, "tok", "k")
		errA <- err
	}()
	<-f.started

	type result struct {
		data *figma.FileData
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		data, err := c.Get(context.Background(), "tok", "k")
		resB <- result{data, err}
	}()

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}

	close(f.release)
	select {
	case r := <-resB:
		if r.err != nil || r.data == nil || r.data.Key != "k" {
			t.Errorf("other caller Get() = %+v, %v", r.data, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("other caller never returned")
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	if c.Peek("k") == nil {
		t.Error("shared fetch result was not stored")
	}
}

func TestCache_SharedFetchTimesOut(t *testing.T) {
	f := &fakeFetcher{started: make(chan struct{}), release: make(chan struct{})}
	c := New(f, time.Minute, logging.Discard())
	c.fetchTimeout = 20 * time.Millisecond

	_, err := c.Get(context.Background(), "tok", "k")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestCache_Prune(t *testing.T) {
	f := &fakeFetcher{}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := New(f, time.Minute, logging.Discard(), WithClock(clk.Now))

	c.Get(context.Background(), "tok", "a")
	clk.Advance(30 * time.Second)
	c.Get(context.Background(), "tok", "b")

	clk.Advance(45 * time.Second)
	if n := c.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if c.Peek("a") != nil || c.Peek("b") == nil {
		t.Error("Prune removed the wrong entry")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
