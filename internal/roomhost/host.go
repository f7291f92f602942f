// Package roomhost is the authoritative side of a room: it serializes every
// transition through a backend and broadcasts the resulting snapshots.
package roomhost

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-rooms/internal/chat"
	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/room"
	"github.com/park285/cheese-rooms/internal/rules"
	"go.uber.org/zap"
)

type EventKind string

const (
	EventState EventKind = "state"
	EventChat  EventKind = "chat"
)

// Event is what subscribers of a room receive.
type Event struct {
	Kind   EventKind     `json:"kind"`
	RoomID string        `json:"roomId"`
	State  *room.State   `json:"state,omitempty"`
	Chat   *chat.Message `json:"chat,omitempty"`
}

// UpdateFunc computes the next state from the current one (nil when the room
// does not exist). Returning a nil state deletes the room.
type UpdateFunc func(cur *room.State) (*room.State, error)

// Backend stores room states and fans events out.
type Backend interface {
	Load(ctx context.Context, roomID string) (*room.State, error)
	// Update applies fn atomically and returns the stored state.
	Update(ctx context.Context, roomID string, fn UpdateFunc) (*room.State, error)
	Publish(ctx context.Context, ev Event) error
	// Subscribe calls fn for every event of roomID until cancel is called.
	Subscribe(ctx context.Context, roomID string, fn func(Event)) (cancel func(), err error)
}

type Host struct {
	backend Backend
	m       *machine
	logger  *zap.Logger
}

type Option func(*Host)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Host) { h.m.now = now }
}

func New(backend Backend, r rules.Capability, logger *zap.Logger, opts ...Option) *Host {
	logger = obslog.Or(logger)
	h := &Host{
		backend: backend,
		m:       &machine{rules: r, auth: room.NewAuthority(r, logger), now: time.Now},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) State(ctx context.Context, roomID string) (*room.State, error) {
	return h.backend.Load(ctx, roomID)
}

// Subscribe delivers the room's events to fn one at a time. A state older
// than one already delivered is dropped, so commits that publish out of order
// never move a subscriber backwards. Equal versions pass as resyncs.
func (h *Host) Subscribe(ctx context.Context, roomID string, fn func(Event)) (func(), error) {
	var (
		mu   sync.Mutex
		last int64
	)
	return h.backend.Subscribe(ctx, roomID, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Kind == EventState && ev.State != nil {
			v, _ := ev.State.VersionValue()
			if v < last {
				h.logger.Debug("room_event_stale",
					zap.String("room_id", roomID),
					zap.Int64("version", v),
					zap.Int64("last", last),
				)
				return
			}
			last = v
		}
		fn(ev)
	})
}

// Join creates the room on first join; later joins keep the existing mode.
// Rejoining with the same name changes nothing and rebroadcasts the stored
// snapshot at its current version.
func (h *Host) Join(ctx context.Context, roomID string, mode room.Mode, member room.Member) (*room.State, error) {
	return h.apply(ctx, "join", roomID, member.ID, func(cur *room.State) (*room.State, error) {
		return h.m.join(cur, roomID, mode, member)
	})
}

func (h *Host) Leave(ctx context.Context, roomID, memberID string) (*room.State, error) {
	return h.apply(ctx, "leave", roomID, memberID, existing(func(cur *room.State) (*room.State, error) {
		return h.m.leave(cur, memberID)
	}))
}

func (h *Host) Seat(ctx context.Context, roomID, memberID string, seat room.Seat) (*room.State, error) {
	return h.apply(ctx, "seat", roomID, memberID, existing(func(cur *room.State) (*room.State, error) {
		return h.m.seat(cur, memberID, seat)
	}))
}

func (h *Host) Start(ctx context.Context, roomID, memberID string) (*room.State, error) {
	return h.apply(ctx, "start", roomID, memberID, existing(func(cur *room.State) (*room.State, error) {
		return h.m.start(cur, memberID)
	}))
}

// MoveSAN applies san for memberID. Concurrent submissions for the same ply
// are serialized by the backend; the loser fails the side-to-move check.
func (h *Host) MoveSAN(ctx context.Context, roomID, memberID, san string) (*room.State, error) {
	return h.apply(ctx, "move", roomID, memberID, existing(func(cur *room.State) (*room.State, error) {
		return h.m.moveSAN(cur, memberID, san)
	}))
}

func (h *Host) Resign(ctx context.Context, roomID, memberID string) (*room.State, error) {
	return h.apply(ctx, "resign", roomID, memberID, existing(func(cur *room.State) (*room.State, error) {
		return h.m.resign(cur, memberID)
	}))
}

// Chat broadcasts a message from a member. Chat does not change the state.
func (h *Host) Chat(ctx context.Context, roomID, memberID, text string) (chat.Message, error) {
	cur, err := h.backend.Load(ctx, roomID)
	if err != nil {
		return chat.Message{}, err
	}
	if cur == nil {
		return chat.Message{}, room.ErrUnknownRoom
	}
	text, err = h.m.checkChat(cur, memberID, text)
	if err != nil {
		return chat.Message{}, err
	}
	msg := chat.Message{ID: uuid.NewString(), From: memberID, Txt: text, Ts: h.m.ms()}
	if err := h.backend.Publish(ctx, Event{Kind: EventChat, RoomID: roomID, Chat: &msg}); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func existing(fn UpdateFunc) UpdateFunc {
	return func(cur *room.State) (*room.State, error) {
		if cur == nil {
			return nil, room.ErrUnknownRoom
		}
		return fn(cur)
	}
}

// apply runs one transition and publishes the result after the backend has
// committed it.
func (h *Host) apply(ctx context.Context, op, roomID, memberID string, fn UpdateFunc) (*room.State, error) {
	next, err := h.backend.Update(ctx, roomID, fn)
	var same unchanged
	if errors.As(err, &same) {
		h.logger.Debug("room_resync", zap.String("op", op), zap.String("room_id", roomID), zap.String("member_id", memberID))
		h.publishState(ctx, roomID, same.state)
		return same.state, nil
	}
	if err != nil {
		h.logger.Debug("room_transition_rejected",
			zap.String("op", op),
			zap.String("room_id", roomID),
			zap.String("member_id", memberID),
			zap.Error(err),
		)
		return nil, err
	}
	if next == nil {
		h.logger.Info("room_closed", zap.String("room_id", roomID))
		return nil, nil
	}
	v, _ := next.VersionValue()
	h.logger.Info("room_transition",
		zap.String("op", op),
		zap.String("room_id", roomID),
		zap.String("member_id", memberID),
		zap.Int64("version", v),
		zap.Int("plies", len(next.HistorySAN)),
		zap.String("result", next.Result),
	)
	h.publishState(ctx, roomID, next)
	return next, nil
}

func (h *Host) publishState(ctx context.Context, roomID string, st *room.State) {
	if err := h.backend.Publish(ctx, Event{Kind: EventState, RoomID: roomID, State: st.Clone()}); err != nil {
		h.logger.Warn("room_publish_failed", zap.String("room_id", roomID), zap.Error(err))
	}
}
