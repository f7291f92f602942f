// Package reconnect re-issues a room join when connectivity comes back.
package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/room"
	"go.uber.org/zap"
)

// Joiner is satisfied by room.Store.
type Joiner interface {
	Join(ctx context.Context, roomID string, mode room.Mode, displayName string) error
}

// Target is the room a client wants to be resynced into.
type Target struct {
	RoomID      string
	Mode        room.Mode
	DisplayName string
}

// Coordinator watches the online flag and rejoins on the false→true edge.
// A failed rejoin is logged and not retried until the next edge.
type Coordinator struct {
	joiner  Joiner
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.Mutex
	wasOnline bool
	target    *Target
}

func New(j Joiner, timeout time.Duration, logger *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{joiner: j, timeout: timeout, logger: obslog.Or(logger), wasOnline: true}
}

// Track sets the room to rejoin. An empty room id clears it.
func (c *Coordinator) Track(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.RoomID == "" {
		c.target = nil
		return
	}
	c.target = &t
}

func (c *Coordinator) Untrack() { c.Track(Target{}) }

// SetOnline feeds one connectivity observation. It returns true when a rejoin
// was attempted.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) bool {
	c.mu.Lock()
	edge := online && !c.wasOnline
	c.wasOnline = online
	var t Target
	if c.target != nil {
		t = *c.target
	}
	c.mu.Unlock()

	if !edge || t.RoomID == "" || !t.Mode.Valid() {
		return false
	}

	jctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.joiner.Join(jctx, t.RoomID, t.Mode, t.DisplayName); err != nil {
		c.logger.Warn("reconnect_rejoin_failed", zap.String("room_id", t.RoomID), zap.Error(err))
		return true
	}
	c.logger.Info("reconnect_rejoin", zap.String("room_id", t.RoomID), zap.String("mode", string(t.Mode)))
	return true
}
