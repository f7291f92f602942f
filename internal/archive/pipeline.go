package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/room"
	"go.uber.org/zap"
)

// Outbox receives records after they are stored.
type Outbox interface {
	Enqueue(ctx context.Context, rec Record) error
}

// Pipeline persists terminal snapshots once per game, one guard per room.
type Pipeline struct {
	store  Store
	outbox Outbox
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	guards map[string]*Guard
}

func NewPipeline(store Store, outbox Outbox, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:  store,
		outbox: outbox,
		logger: obslog.Or(logger),
		now:    time.Now,
		guards: make(map[string]*Guard),
	}
}

// Guard returns the guard for roomID, creating it on first use.
func (p *Pipeline) Guard(roomID string) *Guard {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := p.guards[roomID]
	if g == nil {
		g = NewGuard()
		p.guards[roomID] = g
	}
	return g
}

// Mark pre-seeds the room's guard with s, e.g. for a restored final snapshot.
func (p *Pipeline) Mark(s *room.State) {
	if s == nil {
		return
	}
	p.Guard(s.RoomID).Mark(s)
}

// Archive stores s when it is terminal and its key is new. It returns the
// record and true when this call wrote (or found) the row. A failed write
// releases the guard key so the next delivery retries.
func (p *Pipeline) Archive(ctx context.Context, s *room.State) (*Record, bool, error) {
	if !s.Terminal() {
		return nil, false, nil
	}
	g := p.Guard(s.RoomID)
	if !g.ShouldArchive(s) {
		return nil, false, nil
	}
	key := Key(s)
	rec, err := BuildRecord(s, p.now())
	if err != nil {
		g.Forget(key)
		return nil, false, err
	}

	if _, err := p.store.InsertGameRecord(ctx, rec); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			g.Forget(key)
			p.logger.Warn("archive_failed", zap.String("room_id", s.RoomID), zap.String("key", key), zap.Error(err))
			return nil, false, fmt.Errorf("archive %s: %w", s.RoomID, err)
		}
		p.logger.Info("archive_duplicate", zap.String("room_id", s.RoomID), zap.String("record_id", rec.ID))
	} else {
		p.logger.Info("archive_saved",
			zap.String("room_id", s.RoomID),
			zap.String("record_id", rec.ID),
			zap.String("result", rec.Result),
			zap.Int("moves", rec.Moves),
		)
	}

	if p.outbox != nil {
		if err := p.outbox.Enqueue(ctx, rec); err != nil {
			p.logger.Warn("archive_outbox_failed", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
	return &rec, true, nil
}

func (p *Pipeline) Store() Store { return p.store }
