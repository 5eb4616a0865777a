// Package session keeps the candidate records of each conversation in memory
// for as long as the conversation stays active.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/pipeline"
)

// ErrNotFound is returned for session ids that are unknown or expired.
var ErrNotFound = errors.New("session not found")

// Config controls session lifetime.
type Config struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup-interval"`
}

// DefaultConfig returns a 30 minute idle TTL.
func DefaultConfig() Config {
	return Config{TTL: 30 * time.Minute, CleanupInterval: time.Minute}
}

// Scanner builds the records of one generation.
type Scanner interface {
	Scan(ctx context.Context, root string, memo pipeline.Memo) ([]document.Record, error)
}

// Session is a read-only view of one generation of a session. Records are
// shared with the cache and must not be modified.
type Session struct {
	ID         string
	Root       string
	CreatedAt  time.Time
	LastAccess time.Time
	Generation uint64
	Records    []document.Record
}

type generation struct {
	root      string
	number    uint64
	records   []document.Record
	scannedAt time.Time
}

type entry struct {
	id         string
	serial     uint64
	createdAt  time.Time
	lastAccess atomic.Int64
	current    atomic.Pointer[generation]
	memo       *pipeline.MapMemo
	// removed is set once the entry has left the cache. A removed entry is
	// never stored again.
	removed atomic.Bool
}

// flight is a scan shared by every caller waiting on it. The scan context is
// cancelled once the last waiter has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Cache maps session ids to their current generation.
type Cache struct {
	items   *gocache.Cache
	group   singleflight.Group
	scanner Scanner
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	flights map[string]*flight

	generations atomic.Uint64
	entries     atomic.Uint64
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock replaces time.Now for idle checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache whose sessions are populated by scanner.
func New(scanner Scanner, cfg Config, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}

	c := &Cache{
		items:   gocache.New(cfg.TTL, cfg.CleanupInterval),
		scanner: scanner,
		ttl:     cfg.TTL,
		now:     time.Now,
		logger:  logger,
		flights: map[string]*flight{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.items.OnEvicted(func(id string, x any) {
		if e, ok := x.(*entry); ok {
			e.removed.Store(true)
		}
		c.logger.Info("session evicted", zap.String("session", id))
	})
	return c
}

// GetOrPopulate returns the current generation of session id. A new generation
// is scanned when the session is new or expired, when root differs from the
// session's root, or when force is set. populated reports whether this call
// produced a new generation. Concurrent calls for the same id and root share
// one scan; each caller still returns as soon as its own ctx is done.
func (c *Cache) GetOrPopulate(ctx context.Context, id, root string, force bool) (Session, bool, error) {
	e := c.entry(id)

	if gen := e.current.Load(); gen != nil && !force && gen.root == root {
		c.touch(e)
		return e.view(gen), false, nil
	}

	gen, err := c.populate(ctx, e, root)
	if err != nil {
		return Session{}, false, err
	}
	return e.view(gen), true, nil
}

// Get returns the current generation of a live session without scanning.
func (c *Cache) Get(id string) (Session, error) {
	e, ok := c.lookup(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	gen := e.current.Load()
	if gen == nil {
		return Session{}, ErrNotFound
	}
	c.touch(e)
	return e.view(gen), nil
}

// Touch resets the idle timer of a live session.
func (c *Cache) Touch(id string) bool {
	e, ok := c.lookup(id)
	if ok {
		c.touch(e)
	}
	return ok
}

// Close drops a session and its records.
func (c *Cache) Close(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items.Get(id)
	c.items.Delete(id)
	return ok
}

// EvictExpired drops every session idle for longer than the TTL and returns
// how many were dropped.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.DeleteExpired()

	evicted := 0
	for id, item := range c.items.Items() {
		e, ok := item.Object.(*entry)
		if ok && c.idle(e) {
			c.items.Delete(id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live sessions.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

func (c *Cache) lookup(id string) (*entry, bool) {
	x, ok := c.items.Get(id)
	if !ok {
		return nil, false
	}
	e := x.(*entry)
	if e.removed.Load() || c.idle(e) {
		c.items.Delete(id)
		return nil, false
	}
	return e, true
}

func (c *Cache) entry(id string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lookup(id); ok {
		return e
	}

	now := c.now()
	e := &entry{id: id, serial: c.entries.Add(1), createdAt: now, memo: pipeline.NewMapMemo()}
	e.lastAccess.Store(now.UnixNano())
	c.items.Set(id, e, c.ttl)
	c.logger.Info("session created", zap.String("session", id))
	return e
}

func (c *Cache) touch(e *entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh(e)
}

// refresh extends the TTL of e if it is still the entry stored for its id.
// c.mu must be held.
func (c *Cache) refresh(e *entry) bool {
	if !c.stored(e) {
		return false
	}
	e.lastAccess.Store(c.now().UnixNano())
	c.items.Set(e.id, e, c.ttl)
	return true
}

// publish makes gen the current generation of e unless e was closed, expired
// or replaced while it was being scanned.
func (c *Cache) publish(e *entry, gen *generation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stored(e) {
		return false
	}
	e.current.Store(gen)
	return c.refresh(e)
}

// stored reports whether e is still the live entry for its id. c.mu must be
// held.
func (c *Cache) stored(e *entry) bool {
	if e.removed.Load() {
		return false
	}
	x, ok := c.items.Get(e.id)
	return ok && x.(*entry) == e
}

func (c *Cache) idle(e *entry) bool {
	return c.now().Sub(time.Unix(0, e.lastAccess.Load())) >= c.ttl
}

func (c *Cache) populate(ctx context.Context, e *entry, root string) (*generation, error) {
	// Scans are shared per entry: an entry that replaced an expired one for
	// the same id never joins the old entry's scan.
	key := fmt.Sprintf("%s\x00%d\x00%s", e.id, e.serial, root)
	f := c.join(ctx, key)

	ch := c.group.DoChan(key, func() (any, error) {
		defer c.finish(key, f)
		return c.scan(f.ctx, e, root)
	})

	select {
	case res := <-ch:
		c.leave(key, f)
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*generation), nil
	case <-ctx.Done():
		c.leave(key, f)
		return nil, ctx.Err()
	}
}

func (c *Cache) scan(ctx context.Context, e *entry, root string) (*generation, error) {
	records, err := c.scanner.Scan(ctx, root, e.memo)
	if err != nil {
		c.logger.Warn("scan abandoned", zap.String("session", e.id), zap.String("root", root), zap.Error(err))
		return nil, fmt.Errorf("scan %q: %w", root, err)
	}

	gen := &generation{
		root:      root,
		number:    c.generations.Add(1),
		records:   records,
		scannedAt: c.now(),
	}
	if !c.publish(e, gen) {
		c.logger.Info("session closed during scan, generation not published",
			zap.String("session", e.id),
			zap.Uint64("generation", gen.number),
		)
		return gen, nil
	}

	c.logger.Info("session generation published",
		zap.String("session", e.id),
		zap.Uint64("generation", gen.number),
		zap.Int("records", len(records)),
	)
	return gen, nil
}

func (c *Cache) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flights[key]
	if !ok || f.ctx.Err() != nil {
		if ok {
			c.group.Forget(key)
		}
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: sctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one cancels the scan and detaches it from
// key, so a later caller starts a fresh scan instead of joining a dying one.
func (c *Cache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
		c.group.Forget(key)
	}
}

func (c *Cache) finish(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

func (e *entry) view(gen *generation) Session {
	return Session{
		ID:         e.id,
		Root:       gen.root,
		CreatedAt:  e.createdAt,
		LastAccess: time.Unix(0, e.lastAccess.Load()),
		Generation: gen.number,
		Records:    gen.records,
	}
}
