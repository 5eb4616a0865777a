package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/pipeline"
)

// fakeScanner returns size records, all tagged with the scan number.
type fakeScanner struct {
	scans   atomic.Int32
	size    int
	delay   time.Duration
	release chan struct{}
}

func (f *fakeScanner) Scan(ctx context.Context, root string, _ pipeline.Memo) ([]document.Record, error) {
	n := f.scans.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	records := make([]document.Record, f.size)
	for i := range records {
		records[i] = document.Record{
			Ref:    document.Ref{ID: fmt.Sprintf("%s/%d", root, i)},
			Text:   fmt.Sprintf("scan-%d", n),
			Status: document.StatusOK,
			Order:  i,
		}
	}
	return records, nil
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(scanner Scanner, clk *clock) *Cache {
	return New(scanner, Config{TTL: 30 * time.Minute, CleanupInterval: time.Hour}, nil, WithClock(clk.Now))
}

func TestGetOrPopulateReusesGeneration(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	scanner := &fakeScanner{size: 2}
	c := newCache(scanner, clk)

	first, populated, err := c.GetOrPopulate(context.Background(), "s1", "root", false)
	require.NoError(t, err)
	assert.True(t, populated)
	assert.Len(t, first.Records, 2)

	clk.Advance(10 * time.Minute)
	second, populated, err := c.GetOrPopulate(context.Background(), "s1", "root", false)
	require.NoError(t, err)
	assert.False(t, populated)
	assert.Equal(t, first.Generation, second.Generation)
	assert.Equal(t, int32(1), scanner.scans.Load())
	assert.True(t, second.LastAccess.After(first.LastAccess))
	assert.Equal(t, 1, c.Len())
}

func TestForceAndRootChangeCreateNewGenerations(t *testing.T) {
	clk := &clock{now: time.Now()}
	c := newCache(&fakeScanner{size: 1}, clk)
	ctx := context.Background()

	s1, _, err := c.GetOrPopulate(ctx, "s", "a", false)
	require.NoError(t, err)
	s2, populated, err := c.GetOrPopulate(ctx, "s", "a", true)
	require.NoError(t, err)
	assert.True(t, populated)
	assert.Greater(t, s2.Generation, s1.Generation)

	s3, populated, err := c.GetOrPopulate(ctx, "s", "b", false)
	require.NoError(t, err)
	assert.True(t, populated)
	assert.Equal(t, "b", s3.Root)
	assert.Equal(t, "b/0", s3.Records[0].Ref.ID)
}

func TestExpiredSessionIsRescannedWithHigherGeneration(t *testing.T) {
	clk := &clock{now: time.Now()}
	scanner := &fakeScanner{size: 1}
	c := newCache(scanner, clk)

	before, _, err := c.GetOrPopulate(context.Background(), "s", "root", false)
	require.NoError(t, err)

	clk.Advance(31 * time.Minute)
	_, err = c.Get("s")
	assert.ErrorIs(t, err, ErrNotFound)

	after, populated, err := c.GetOrPopulate(context.Background(), "s", "root", false)
	require.NoError(t, err)
	assert.True(t, populated)
	assert.Greater(t, after.Generation, before.Generation)
	assert.Equal(t, int32(2), scanner.scans.Load())
}

func TestEvictExpiredAndClose(t *testing.T) {
	clk := &clock{now: time.Now()}
	c := newCache(&fakeScanner{size: 1}, clk)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, _, err := c.GetOrPopulate(ctx, id, "root", false)
		require.NoError(t, err)
	}
	clk.Advance(20 * time.Minute)
	assert.True(t, c.Touch("b"))
	clk.Advance(15 * time.Minute)

	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Touch("a"))

	assert.True(t, c.Close("b"))
	assert.False(t, c.Close("b"))
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentPopulateSharesOneScan(t *testing.T) {
	scanner := &fakeScanner{size: 3, release: make(chan struct{})}
	c := newCache(scanner, &clock{now: time.Now()})

	const callers = 10
	var wg sync.WaitGroup
	gens := make([]uint64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := c.GetOrPopulate(context.Background(), "s", "root", false)
			assert.NoError(t, err)
			gens[i] = s.Generation
		}(i)
	}

	require.Eventually(t, func() bool { return scanner.scans.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(scanner.release)
	wg.Wait()

	assert.Equal(t, int32(1), scanner.scans.Load())
	for _, g := range gens {
		assert.Equal(t, gens[0], g)
	}
}

func TestReadersNeverSeeMixedGenerations(t *testing.T) {
	scanner := &fakeScanner{size: 50, delay: time.Millisecond}
	c := newCache(scanner, &clock{now: time.Now()})
	ctx := context.Background()
	_, _, err := c.GetOrPopulate(ctx, "s", "root", false)
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s, _, err := c.GetOrPopulate(ctx, "s", "root", false)
				if !assert.NoError(t, err) {
					return
				}
				for _, r := range s.Records {
					if !assert.Equal(t, s.Records[0].Text, r.Text, "generation %d mixes scans", s.Generation) {
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 10; i++ {
		_, _, err := c.GetOrPopulate(ctx, "s", "root", true)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func TestCancelledWaiterLeavesOthersRunning(t *testing.T) {
	scanner := &fakeScanner{size: 1, release: make(chan struct{})}
	c := newCache(scanner, &clock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrPopulate(ctx, "s", "root", false)
		errs <- err
	}()

	done := make(chan Session, 1)
	go func() {
		s, _, err := c.GetOrPopulate(context.Background(), "s", "root", false)
		assert.NoError(t, err)
		done <- s
	}()

	require.Eventually(t, func() bool { return scanner.scans.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	close(scanner.release)
	s := <-done
	assert.Len(t, s.Records, 1)
}

func TestCancelledScanPublishesNothing(t *testing.T) {
	scanner := &fakeScanner{size: 1, release: make(chan struct{})}
	c := newCache(scanner, &clock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool { return scanner.scans.Load() == 1 }, time.Second, time.Millisecond)
		cancel()
	}()

	_, _, err := c.GetOrPopulate(ctx, "s", "root", false)
	require.ErrorIs(t, err, context.Canceled)

	_, err = c.Get("s")
	assert.ErrorIs(t, err, ErrNotFound)
}

// windingDownScanner blocks its first scan until cancelled and then keeps it
// running until windDown is closed. Later scans return at once.
type windingDownScanner struct {
	scans    atomic.Int32
	windDown chan struct{}
}

func (w *windingDownScanner) Scan(ctx context.Context, root string, _ pipeline.Memo) ([]document.Record, error) {
	if w.scans.Add(1) == 1 {
		<-ctx.Done()
		<-w.windDown
		return nil, ctx.Err()
	}
	return []document.Record{{Ref: document.Ref{ID: root + "/a"}, Text: "a", Status: document.StatusOK}}, nil
}

func TestLateCallerDoesNotJoinCancelledScan(t *testing.T) {
	scanner := &windingDownScanner{windDown: make(chan struct{})}
	defer close(scanner.windDown)
	c := newCache(scanner, &clock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrPopulate(ctx, "s", "root", false)
		errs <- err
	}()

	require.Eventually(t, func() bool { return scanner.scans.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	// The first scan is still winding down.
	s, populated, err := c.GetOrPopulate(context.Background(), "s", "root", false)
	require.NoError(t, err)
	assert.True(t, populated)
	assert.Len(t, s.Records, 1)
	assert.Equal(t, int32(2), scanner.scans.Load())
}

func TestCloseDuringScanIsNotUndone(t *testing.T) {
	scanner := &fakeScanner{size: 1, release: make(chan struct{})}
	c := newCache(scanner, &clock{now: time.Now()})

	done := make(chan Session, 1)
	go func() {
		s, _, err := c.GetOrPopulate(context.Background(), "s1", "root", false)
		assert.NoError(t, err)
		done <- s
	}()

	require.Eventually(t, func() bool { return scanner.scans.Load() == 1 }, time.Second, time.Millisecond)
	require.True(t, c.Close("s1"))
	close(scanner.release)

	// The waiter still gets its records.
	s := <-done
	assert.Len(t, s.Records, 1)

	assert.Equal(t, 0, c.Len())
	_, err := c.Get("s1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, populated, err := c.GetOrPopulate(context.Background(), "s1", "root", false)
	require.NoError(t, err)
	assert.True(t, populated)
	assert.Equal(t, int32(2), scanner.scans.Load())
}

func TestScanOfExpiredEntryDoesNotOverwriteNewer(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	scanner := &fakeScanner{size: 1, release: make(chan struct{})}
	c := newCache(scanner, clk)

	old := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrPopulate(context.Background(), "s1", "root", false)
		old <- err
	}()
	require.Eventually(t, func() bool { return scanner.scans.Load() == 1 }, time.Second, time.Millisecond)

	clk.Advance(31 * time.Minute)
	fresh := make(chan Session, 1)
	go func() {
		s, _, err := c.GetOrPopulate(context.Background(), "s1", "root", false)
		assert.NoError(t, err)
		fresh <- s
	}()
	require.Eventually(t, func() bool { return scanner.scans.Load() == 2 }, time.Second, time.Millisecond)

	close(scanner.release)
	require.NoError(t, <-old)
	newer := <-fresh

	got, err := c.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, newer.Generation, got.Generation)
	assert.Equal(t, "scan-2", got.Records[0].Text)
}
