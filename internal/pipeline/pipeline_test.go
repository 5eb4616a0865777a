package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/resume-ranker/internal/discovery"
	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/extract"
	"github.com/spigell/resume-ranker/internal/store"
	"github.com/spigell/resume-ranker/internal/store/storetest"
)

func byOrder(records []document.Record) []document.Record {
	out := append([]document.Record(nil), records...)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func TestConfigWorkers(t *testing.T) {
	assert.Equal(t, 3, Config{Workers: 3}.workers())
	assert.Equal(t, 2, Config{Workers: 10, MaxWorkers: 2}.workers())
	assert.LessOrEqual(t, Config{}.workers(), defaultWorkers)
	assert.GreaterOrEqual(t, Config{}.workers(), 1)
}

func TestExtractAllIsolatesFailures(t *testing.T) {
	mem := storetest.NewMemory().
		AddFile("root", "alice.txt", []byte("Alice, 5 years Go")).
		AddFile("root", "broken.pdf", []byte("not a pdf")).
		AddFile("root", "gone.txt", []byte("x")).
		AddFile("root", "empty.txt", []byte("   "))
	mem.FailFetch("root/gone.txt", store.Permanent("fetch", "root/gone.txt", storetest.ErrNotFound))

	refs := discovery.New(mem, nil, nil).Discover(context.Background(), "root")
	refs = append(refs, document.Ref{ID: "locked", Path: "locked", Failure: "discovery failed: 403"})

	records, err := New(mem, DefaultConfig(), nil).ExtractAll(context.Background(), refs, nil)
	require.NoError(t, err)
	require.Len(t, records, 5)

	got := map[string]document.Record{}
	for _, r := range records {
		got[r.Ref.Path] = r
	}
	assert.Equal(t, document.StatusOK, got["alice.txt"].Status)
	assert.Equal(t, "Alice, 5 years Go", got["alice.txt"].Text)
	assert.Equal(t, document.StatusParseFailed, got["broken.pdf"].Status)
	assert.Empty(t, got["broken.pdf"].Text)
	assert.Equal(t, document.StatusEmpty, got["empty.txt"].Status)
	assert.Equal(t, document.StatusFetchFailed, got["gone.txt"].Status)
	assert.Contains(t, got["gone.txt"].Detail, document.ErrFetch.Error())
	assert.Equal(t, document.StatusFetchFailed, got["locked"].Status)

	for i, r := range byOrder(records) {
		assert.Equal(t, i, r.Order)
	}
}

func TestExtractAllTimesOutSlowFetches(t *testing.T) {
	mem := storetest.NewMemory().AddFile("root", "slow.txt", []byte("x"))
	mem.SetDelay(time.Second)

	refs := discovery.New(mem, nil, nil).Discover(context.Background(), "root")
	records, err := New(mem, Config{FetchTimeout: 10 * time.Millisecond}, nil).ExtractAll(context.Background(), refs, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, document.StatusFetchFailed, records[0].Status)
	assert.Contains(t, records[0].Detail, "timeout")
}

func TestExtractAllBoundsConcurrency(t *testing.T) {
	mem := storetest.NewMemory()
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt", "f.txt"} {
		mem.AddFile("root", name, []byte(name))
	}
	refs := discovery.New(mem, nil, nil).Discover(context.Background(), "root")

	var running, peak atomic.Int32
	slow := func(format document.Format, data []byte) extract.Result {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return extract.Extract(format, data)
	}

	records, err := New(mem, Config{Workers: 2}, nil, WithExtractFunc(slow)).ExtractAll(context.Background(), refs, nil)
	require.NoError(t, err)
	assert.Len(t, records, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExtractAllReusesMemo(t *testing.T) {
	mem := storetest.NewMemory().
		AddFile("root", "a.txt", []byte("alpha")).
		AddFile("root", "b.txt", []byte("beta"))
	mem.FailFetch("root/b.txt", store.Transient("fetch", "root/b.txt", errors.New("503")))

	memo := NewMapMemo()
	p := New(mem, DefaultConfig(), nil)
	refs := discovery.New(mem, nil, nil).Discover(context.Background(), "root")

	_, err := p.ExtractAll(context.Background(), refs, memo)
	require.NoError(t, err)
	assert.Equal(t, 1, memo.Len(), "fetch failures are not remembered")
	assert.Equal(t, int64(2), mem.Fetches.Load())

	_, err = p.ExtractAll(context.Background(), refs, memo)
	require.NoError(t, err)
	assert.Equal(t, int64(3), mem.Fetches.Load(), "only the failed fetch is repeated")

	mem.Replace("root/a.txt", []byte("alpha v2"))
	refs = discovery.New(mem, nil, nil).Discover(context.Background(), "root")
	records, err := p.ExtractAll(context.Background(), refs, memo)
	require.NoError(t, err)
	assert.Equal(t, "alpha v2", byOrder(records)[0].Text)
}

func TestExtractAllCancelled(t *testing.T) {
	mem := storetest.NewMemory().AddFile("root", "a.txt", []byte("x"))
	refs := discovery.New(mem, nil, nil).Discover(context.Background(), "root")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	records, err := New(mem, DefaultConfig(), nil).ExtractAll(ctx, refs, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, records)
}

func TestScanReturnsDiscoveryOrder(t *testing.T) {
	mem := storetest.NewMemory().
		AddFile("root", "a.txt", []byte("first")).
		AddFolder("root", "sub", "sub").
		AddFile("sub", "b.txt", []byte("second")).
		AddFile("root", "c.txt", []byte("third"))

	s := NewScanner(discovery.New(mem, nil, nil), New(mem, Config{Workers: 3}, nil), nil)
	records, err := s.Scan(context.Background(), "root", nil)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{records[0].Text, records[1].Text, records[2].Text})
	assert.Equal(t, Summary{document.StatusOK: 3}, Summarize(records))
}
