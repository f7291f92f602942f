package roomhost

import (
	"context"
	"sync"

	"github.com/park285/cheese-rooms/internal/room"
)

// Memory is a single-process backend. Update holds one mutex for every room;
// Publish calls subscribers synchronously without holding it.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]*room.State

	subMu   sync.RWMutex
	subs    map[string]map[int]func(Event)
	nextSub int
}

func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string]*room.State),
		subs:  make(map[string]map[int]func(Event)),
	}
}

func (m *Memory) Load(_ context.Context, roomID string) (*room.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID].Clone(), nil
}

func (m *Memory) Update(_ context.Context, roomID string, fn UpdateFunc) (*room.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(m.rooms[roomID].Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(m.rooms, roomID)
		return nil, nil
	}
	m.rooms[roomID] = next.Clone()
	return next, nil
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.subMu.RLock()
	fns := make([]func(Event), 0, len(m.subs[ev.RoomID]))
	for _, fn := range m.subs[ev.RoomID] {
		fns = append(fns, fn)
	}
	m.subMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, roomID string, fn func(Event)) (func(), error) {
	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	if m.subs[roomID] == nil {
		m.subs[roomID] = make(map[int]func(Event))
	}
	m.subs[roomID][id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs[roomID], id)
		if len(m.subs[roomID]) == 0 {
			delete(m.subs, roomID)
		}
		m.subMu.Unlock()
	}, nil
}
