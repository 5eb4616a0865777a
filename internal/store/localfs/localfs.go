// Package localfs serves documents from a filesystem tree through afero.
package localfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/store"
)

// Store lists and reads files below a filesystem root. Ids are slash
// separated paths relative to the afero filesystem root.
type Store struct {
	fs afero.Fs
}

// New returns a store over the given afero filesystem.
func New(fsys afero.Fs) *Store {
	return &Store{fs: fsys}
}

// NewOS returns a store over the operating system filesystem.
func NewOS() *Store {
	return New(afero.NewOsFs())
}

func (s *Store) List(ctx context.Context, containerID string) ([]store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.FromSlash(containerID)
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, classify("list", containerID, err)
	}

	entries := make([]store.Entry, 0, len(infos))
	for _, info := range infos {
		child := filepath.Join(dir, info.Name())
		entry := store.Entry{
			ID:          filepath.ToSlash(child),
			Name:        info.Name(),
			IsContainer: info.IsDir(),
			Size:        info.Size(),
			ModifiedAt:  info.ModTime(),
		}

		if info.Mode()&os.ModeSymlink != 0 {
			resolved, ok := s.resolveLink(child)
			if !ok {
				continue
			}
			entry = resolved
			entry.Name = info.Name()
		}

		if !entry.IsContainer {
			entry.Extension = string(document.FormatOf(entry.Name))
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// resolveLink follows a symlink so that directories reached through links are
// identified by their target path, which is what lets the walker detect cycles.
func (s *Store) resolveLink(link string) (store.Entry, bool) {
	reader, ok := s.fs.(afero.LinkReader)
	if !ok {
		return store.Entry{}, false
	}
	target, err := reader.ReadlinkIfPossible(link)
	if err != nil {
		return store.Entry{}, false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}
	target = filepath.Clean(target)

	info, err := s.fs.Stat(target)
	if err != nil {
		return store.Entry{}, false
	}
	return store.Entry{
		ID:          filepath.ToSlash(target),
		IsContainer: info.IsDir(),
		Size:        info.Size(),
		ModifiedAt:  info.ModTime(),
	}, true
}

func (s *Store) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, filepath.FromSlash(id))
	if err != nil {
		return nil, classify("fetch", id, err)
	}
	return data, nil
}

// Root converts a user supplied folder into a container id.
func Root(folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return "."
	}
	return filepath.ToSlash(filepath.Clean(folder))
}

func classify(op, id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return store.Permanent(op, id, err)
	}
	return store.Transient(op, id, err)
}
