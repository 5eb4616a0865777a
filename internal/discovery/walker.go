// Package discovery walks a store's container tree and yields document refs.
package discovery

import (
	"context"
	"fmt"
	"iter"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/store"
)

// Walker discovers documents depth-first, in the order the store lists them.
type Walker struct {
	store   store.Store
	allowed map[document.Format]struct{}
	logger  *zap.Logger
}

// New creates a walker that only yields files whose extension is in
// extensions. An empty list means document.DefaultExtensions.
func New(s store.Store, extensions []string, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(extensions) == 0 {
		extensions = document.DefaultExtensions
	}

	allowed := make(map[document.Format]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext == "" {
			continue
		}
		allowed[document.FormatOf(ext)] = struct{}{}
	}

	return &Walker{store: s, allowed: allowed, logger: logger}
}

// Walk lazily yields refs below root in depth-first pre-order: entries come in
// listing order and a container is walked as soon as it is met. Every
// container is listed at most once and every file identity is yielded at most
// once, so cyclic container graphs terminate. A container that cannot be
// listed is reported as one ref with Failure set and the walk goes on with its
// siblings.
func (w *Walker) Walk(ctx context.Context, root string) iter.Seq[document.Ref] {
	return func(yield func(document.Ref) bool) {
		t := &walk{
			Walker:  w,
			ctx:     ctx,
			yield:   yield,
			visited: map[string]struct{}{},
			seen:    map[string]struct{}{},
		}
		t.container(root, "")
	}
}

type walk struct {
	*Walker
	ctx     context.Context
	yield   func(document.Ref) bool
	visited map[string]struct{}
	seen    map[string]struct{}
}

// container walks one container and reports whether the walk should go on.
func (t *walk) container(id, dir string) bool {
	if t.ctx.Err() != nil {
		return false
	}
	if _, ok := t.visited[id]; ok {
		t.logger.Debug("container already visited", zap.String("id", id), zap.String("path", dir))
		return true
	}
	t.visited[id] = struct{}{}

	entries, err := t.store.List(t.ctx, id)
	if err != nil {
		if t.ctx.Err() != nil {
			return false
		}
		t.logger.Warn("cannot list container", zap.String("id", id), zap.String("path", dir), zap.Error(err))
		return t.yield(document.Ref{
			ID:      id,
			Path:    dir,
			Failure: fmt.Errorf("%w: %w", document.ErrDiscovery, err).Error(),
		})
	}

	for _, e := range entries {
		p := path.Join(dir, e.Name)
		if e.IsContainer {
			if !t.container(e.ID, p) {
				return false
			}
			continue
		}
		if !t.file(e, p) {
			return false
		}
	}
	return true
}

func (t *walk) file(e store.Entry, p string) bool {
	format := document.FormatOf(e.Extension)
	if e.Extension == "" {
		format = document.FormatOf(e.Name)
	}
	if _, ok := t.allowed[format]; !ok {
		return true
	}
	if _, ok := t.seen[e.ID]; ok {
		return true
	}
	t.seen[e.ID] = struct{}{}

	return t.yield(document.Ref{
		ID:         e.ID,
		Path:       p,
		Format:     format,
		Size:       e.Size,
		ModifiedAt: e.ModifiedAt,
	})
}

// Discover drains Walk into a slice in discovery order.
func (w *Walker) Discover(ctx context.Context, root string) []document.Ref {
	var refs []document.Ref
	for ref := range w.Walk(ctx, root) {
		refs = append(refs, ref)
	}
	return refs
}
