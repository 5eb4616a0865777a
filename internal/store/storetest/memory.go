// Package storetest provides an in-memory store for tests.
package storetest

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/store"
)

// ErrNotFound is returned for ids the memory store does not know.
var ErrNotFound = errors.New("not found")

// Memory is a hierarchical store held in maps. Containers may reference each
// other in cycles. It is safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	children  map[string][]store.Entry
	content   map[string][]byte
	listErrs  map[string]error
	fetchErrs map[string]error
	delay     time.Duration

	Lists   atomic.Int64
	Fetches atomic.Int64
}

// NewMemory returns an empty store with a root container "root".
func NewMemory() *Memory {
	return &Memory{
		children:  map[string][]store.Entry{"root": nil},
		content:   map[string][]byte{},
		listErrs:  map[string]error{},
		fetchErrs: map[string]error{},
	}
}

// AddFolder adds a container under parent.
func (m *Memory) AddFolder(parent, id, name string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[parent] = append(m.children[parent], store.Entry{ID: id, Name: name, IsContainer: true})
	if _, ok := m.children[id]; !ok {
		m.children[id] = nil
	}
	return m
}

// AddFile adds a document under parent. The file id is parent/name.
func (m *Memory) AddFile(parent, name string, data []byte) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := path.Join(parent, name)
	m.children[parent] = append(m.children[parent], store.Entry{
		ID:         id,
		Name:       name,
		Extension:  string(document.FormatOf(name)),
		Size:       int64(len(data)),
		ModifiedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	m.content[id] = data
	return m
}

// Replace swaps the content of an existing file and bumps its modification time.
func (m *Memory) Replace(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[id] = data
	for parent, entries := range m.children {
		for i := range entries {
			if entries[i].ID == id {
				m.children[parent][i].Size = int64(len(data))
				m.children[parent][i].ModifiedAt = entries[i].ModifiedAt.Add(time.Minute)
			}
		}
	}
}

// FailList makes listing a container fail with err.
func (m *Memory) FailList(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErrs[id] = err
}

// FailFetch makes fetching a document fail with err.
func (m *Memory) FailFetch(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErrs[id] = err
}

// SetDelay makes every fetch wait d or until the context is done.
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *Memory) List(_ context.Context, containerID string) ([]store.Entry, error) {
	m.Lists.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.listErrs[containerID]; err != nil {
		return nil, err
	}
	entries, ok := m.children[containerID]
	if !ok {
		return nil, store.Permanent("list", containerID, ErrNotFound)
	}
	out := append([]store.Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Fetch(ctx context.Context, id string) ([]byte, error) {
	m.Fetches.Add(1)
	m.mu.RLock()
	delay := m.delay
	err := m.fetchErrs[id]
	data, ok := m.content[id]
	m.mu.RUnlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.Permanent("fetch", id, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}
