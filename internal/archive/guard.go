// Package archive turns finished room states into persisted game records,
// at most once per logical game.
package archive

import (
	"strconv"
	"sync"

	"github.com/park285/cheese-rooms/internal/room"
)

// MakeKey builds "<roomId>:<version|noversion>:<finishedAt|startedAt|pending>:<result|unknown>".
func MakeKey(roomID string, version, finishedAt, startedAt *int64, result string) string {
	v := "noversion"
	if version != nil {
		v = strconv.FormatInt(*version, 10)
	}
	ts := "pending"
	switch {
	case finishedAt != nil:
		ts = strconv.FormatInt(*finishedAt, 10)
	case startedAt != nil:
		ts = strconv.FormatInt(*startedAt, 10)
	}
	r := result
	if r == "" {
		r = "unknown"
	}
	return roomID + ":" + v + ":" + ts + ":" + r
}

// Key derives the dedup key of a snapshot.
func Key(s *room.State) string {
	if s == nil {
		return MakeKey("", nil, nil, nil, "")
	}
	return MakeKey(s.RoomID, s.Version, s.FinishedAt, s.StartedAt, s.Result)
}

// Guard remembers only the last key it saw.
type Guard struct {
	mu   sync.Mutex
	last string
	set  bool
}

func NewGuard() *Guard { return &Guard{} }

// ShouldArchive reports whether s carries a key different from the last one,
// and remembers s's key either way.
func (g *Guard) ShouldArchive(s *room.State) bool {
	k := Key(s)
	g.mu.Lock()
	defer g.mu.Unlock()
	fresh := !g.set || g.last != k
	g.last, g.set = k, true
	return fresh
}

// Mark remembers s's key without a decision.
func (g *Guard) Mark(s *room.State) {
	k := Key(s)
	g.mu.Lock()
	g.last, g.set = k, true
	g.mu.Unlock()
}

// Forget clears the memory if it still holds key, so the same snapshot can be
// archived again after a failed write.
func (g *Guard) Forget(key string) {
	g.mu.Lock()
	if g.set && g.last == key {
		g.last, g.set = "", false
	}
	g.mu.Unlock()
}

// Last returns the remembered key.
func (g *Guard) Last() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.set
}
