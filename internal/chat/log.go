// Package chat keeps a bounded per-room chat history in the KV store.
package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/park285/cheese-rooms/internal/kv"
)

// MaxMessages is the per-room retention; older entries are dropped first.
const MaxMessages = 100

const keyPrefix = "cm.chat."

type Message struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Txt  string `json:"txt"`
	Ts   int64  `json:"ts"`
}

// Log serializes reads and appends so a reader never sees a half-written list.
// Append is the only write path.
type Log struct {
	mu    sync.Mutex
	store kv.Store
	max   int
}

func NewLog(store kv.Store) *Log {
	return &Log{store: store, max: MaxMessages}
}

func Key(roomID string) string { return keyPrefix + roomID }

func (l *Log) Get(ctx context.Context, roomID string) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx, roomID)
}

func (l *Log) load(ctx context.Context, roomID string) ([]Message, error) {
	var msgs []Message
	if _, err := kv.GetJSON(ctx, l.store, Key(roomID), &msgs); err != nil {
		return nil, fmt.Errorf("chat load %s: %w", roomID, err)
	}
	return msgs, nil
}

// Append adds m and trims the log to the newest MaxMessages entries.
func (l *Log) Append(ctx context.Context, roomID string, m Message) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs, err := l.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, m)
	msgs = l.trim(msgs)
	if err := kv.SetJSON(ctx, l.store, Key(roomID), msgs, 0); err != nil {
		return nil, fmt.Errorf("chat append %s: %w", roomID, err)
	}
	return msgs, nil
}

func (l *Log) trim(msgs []Message) []Message {
	if over := len(msgs) - l.max; over > 0 {
		msgs = msgs[over:]
	}
	return msgs
}
