package storage

import (
	"context"
	"sync"
	"time"

	"github.com/maaaruch/tg-pod-poll-bot/internal/domain"
)

// MemoryStore is a process-local store with the same versioning rules as
// the SQL stores.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	seq     int64
	order   map[string]int64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		order:   make(map[string]int64),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	r.Poll = r.Poll.Clone()
	return r, nil
}

func (m *MemoryStore) Latest(_ context.Context) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best    Record
		bestSeq int64 = -1
	)
	for key, seq := range m.order {
		if seq > bestSeq {
			best, bestSeq = m.records[key], seq
		}
	}
	if bestSeq < 0 {
		return Record{}, ErrNotFound
	}
	best.Poll = best.Poll.Clone()
	return best, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, p domain.Poll, version int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.records[key]
	switch {
	case version == 0 && exists:
		return 0, ErrConflict
	case version != 0 && (!exists || cur.Version != version):
		return 0, ErrConflict
	}

	m.seq++
	m.order[key] = m.seq
	m.records[key] = Record{
		Key:       key,
		Poll:      p.Clone(),
		Version:   version + 1,
		UpdatedAt: time.Now().UTC(),
	}
	return version + 1, nil
}

func (m *MemoryStore) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]Record)
	m.order = make(map[string]int64)
	return nil
}
