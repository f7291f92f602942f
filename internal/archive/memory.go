package archive

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memStore is the in-process row store used when no database is configured.
type memStore struct {
	mu   sync.RWMutex
	byID map[string]Record
}

func NewMemoryStore() Store {
	return &memStore{byID: make(map[string]Record)}
}

func (m *memStore) InsertGameRecord(_ context.Context, rec Record) (string, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return "", ErrDuplicate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[id]; exists {
		return id, ErrDuplicate
	}
	m.byID[id] = rec
	return id, nil
}

func (m *memStore) ListGameRecords(_ context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	m.mu.RLock()
	items := make([]Record, 0, len(m.byID))
	for _, r := range m.byID {
		items = append(items, r)
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if offset >= len(items) {
		return []Record{}, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memStore) GetGameRecord(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) Close() error { return nil }
