package pipeline

import (
	"sync"
	"time"

	"github.com/spigell/resume-ranker/internal/document"
)

type memoKey struct {
	id       string
	size     int64
	modified time.Time
}

func keyOf(ref document.Ref) memoKey {
	return memoKey{id: ref.ID, size: ref.Size, modified: ref.ModifiedAt.UTC()}
}

// MapMemo is an in-memory Memo keyed by identity, size and modification time.
type MapMemo struct {
	mu      sync.RWMutex
	records map[memoKey]document.Record
}

func NewMapMemo() *MapMemo {
	return &MapMemo{records: map[memoKey]document.Record{}}
}

func (m *MapMemo) Lookup(ref document.Ref) (document.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[keyOf(ref)]
	return rec, ok
}

func (m *MapMemo) Remember(rec document.Record) {
	if !rec.Status.Deterministic() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[keyOf(rec.Ref)] = rec
}

// Len returns the number of remembered records.
func (m *MapMemo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
