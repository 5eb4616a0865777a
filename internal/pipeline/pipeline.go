// Package pipeline fetches and extracts discovered documents with a bounded
// worker pool. Per-document failures are recorded on the record, never
// returned as errors.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/extract"
	"github.com/spigell/resume-ranker/internal/store"
)

const defaultWorkers = 8

// Config controls extraction concurrency and per-document fetch timeouts.
type Config struct {
	Workers      int           `mapstructure:"workers"`
	MaxWorkers   int           `mapstructure:"max-workers"`
	FetchTimeout time.Duration `mapstructure:"fetch-timeout"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{FetchTimeout: 30 * time.Second}
}

// workers resolves the effective pool size.
func (c Config) workers() int {
	n := c.Workers
	if n <= 0 {
		n = min(defaultWorkers, runtime.GOMAXPROCS(0))
	}
	if c.MaxWorkers > 0 && n > c.MaxWorkers {
		n = c.MaxWorkers
	}
	return max(n, 1)
}

// Memo remembers extraction results so unchanged documents are not fetched
// again. Implementations must be safe for concurrent use.
type Memo interface {
	Lookup(ref document.Ref) (document.Record, bool)
	Remember(rec document.Record)
}

// ExtractFunc turns document bytes into text.
type ExtractFunc func(format document.Format, data []byte) extract.Result

// Pipeline fetches documents from a store and extracts their text.
type Pipeline struct {
	store   store.Store
	cfg     Config
	extract ExtractFunc
	logger  *zap.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithExtractFunc replaces the format dispatcher.
func WithExtractFunc(fn ExtractFunc) Option {
	return func(p *Pipeline) { p.extract = fn }
}

// New creates a pipeline over s.
func New(s store.Store, cfg Config, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{store: s, cfg: cfg, extract: extract.Extract, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExtractAll builds one record per ref, in completion order. Order carries the
// ref's index in refs. When ctx is cancelled the records finished so far are
// returned together with the context error. memo may be nil.
func (p *Pipeline) ExtractAll(ctx context.Context, refs []document.Ref, memo Memo) ([]document.Record, error) {
	var (
		mu      sync.Mutex
		records = make([]document.Record, 0, len(refs))
		g       errgroup.Group
	)
	g.SetLimit(p.cfg.workers())

	for i, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec := p.one(ctx, ref, i, memo)
			if ctx.Err() != nil && rec.Status == document.StatusFetchFailed {
				return nil
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return records, err
	}
	return records, nil
}

func (p *Pipeline) one(ctx context.Context, ref document.Ref, order int, memo Memo) document.Record {
	rec := document.Record{Ref: ref, Order: order}

	if ref.Failed() {
		rec.Status = document.StatusFetchFailed
		rec.Detail = ref.Failure
		return rec
	}
	if memo != nil {
		if cached, ok := memo.Lookup(ref); ok {
			cached.Ref = ref
			cached.Order = order
			return cached
		}
	}

	data, err := p.fetch(ctx, ref)
	if err != nil {
		rec.Status = document.StatusFetchFailed
		rec.Detail = err.Error()
		p.logger.Warn("fetch failed", zap.String("path", ref.Path), zap.Error(err))
		return rec
	}

	res := p.extract(ref.Format, data)
	rec.Text, rec.Status, rec.Detail = res.Text, res.Status, res.Detail
	if rec.Status != document.StatusOK {
		p.logger.Info("document not usable",
			zap.String("path", ref.Path),
			zap.String("status", string(rec.Status)),
			zap.String("detail", rec.Detail),
		)
	}
	if memo != nil && rec.Status.Deterministic() {
		memo.Remember(rec)
	}
	return rec
}

func (p *Pipeline) fetch(ctx context.Context, ref document.Ref) ([]byte, error) {
	fctx := ctx
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}

	data, err := p.store.Fetch(fctx, ref.ID)
	if err == nil {
		return data, nil
	}
	if ctx.Err() == nil && errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: timeout after %s", document.ErrFetch, p.cfg.FetchTimeout)
	}
	return nil, fmt.Errorf("%w: %w", document.ErrFetch, err)
}
