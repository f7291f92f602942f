package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/rules"
	"go.uber.org/zap"
)

// Sender is the outbound half of the transport the store needs.
type Sender interface {
	Join(ctx context.Context, roomID string, mode Mode, displayName string) error
	MoveSAN(ctx context.Context, roomID, san string) error
}

// PendingMove is a submitted move awaiting the authoritative echo.
type PendingMove struct {
	RoomID  string
	SAN     string
	Move    rules.Move
	BaseLen int
}

type AckStatus string

const (
	AckConfirmed  AckStatus = "confirmed"
	AckSuperseded AckStatus = "superseded"
)

// Ack reports how a pending move was resolved by a snapshot.
type Ack struct {
	SAN    string
	Status AckStatus
	// Actual is the SAN that landed at the pending ply, if any.
	Actual string
}

// Change is delivered to subscribers after every accepted ingest.
type Change struct {
	RoomID string
	Prev   *State
	Next   *State
	Ack    *Ack
}

type Listener func(Change)

// Store owns the room states a client tracks. States only change through
// Ingest; Join and SubmitMove talk to the transport and wait for the echo.
type Store struct {
	me     string
	rules  rules.Capability
	auth   *Authority
	sender Sender
	logger *zap.Logger

	mu      sync.RWMutex
	rooms   map[string]*State
	pending map[string]*PendingMove

	subMu   sync.RWMutex
	subs    map[int]Listener
	nextSub int
}

func NewStore(memberID string, r rules.Capability, sender Sender, logger *zap.Logger) *Store {
	logger = obslog.Or(logger)
	return &Store{
		me:      memberID,
		rules:   r,
		auth:    NewAuthority(r, logger),
		sender:  sender,
		logger:  logger,
		rooms:   make(map[string]*State),
		pending: make(map[string]*PendingMove),
		subs:    make(map[int]Listener),
	}
}

func (s *Store) MemberID() string { return s.me }

// Subscribe registers fn for changes and returns its cancel func.
func (s *Store) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Ingest validates and installs a snapshot, replacing any previous state for
// the room. Rejected snapshots leave the previous state untouched.
func (s *Store) Ingest(st *State) error {
	if st == nil {
		return fmt.Errorf("%w: nil state", ErrMalformedSnapshot)
	}
	next := st.Clone()
	next.normalize()
	if err := next.Validate(s.rules); err != nil {
		if errors.Is(err, ErrInvariant) {
			s.logger.Error("room_snapshot_invariant", zap.String("room_id", next.RoomID), zap.Error(err))
		} else {
			s.logger.Warn("room_snapshot_quarantined", zap.String("room_id", next.RoomID), zap.Error(err))
		}
		return err
	}

	s.mu.Lock()
	prev := s.rooms[next.RoomID]
	s.rooms[next.RoomID] = next
	ack := s.resolvePendingLocked(next)
	s.mu.Unlock()

	v, _ := next.VersionValue()
	s.logger.Debug("room_ingest",
		zap.String("room_id", next.RoomID),
		zap.Int64("version", v),
		zap.Int("plies", len(next.HistorySAN)),
		zap.Bool("started", next.Started),
		zap.String("result", next.Result),
	)
	s.notify(Change{RoomID: next.RoomID, Prev: prev.Clone(), Next: next.Clone(), Ack: ack})
	return nil
}

func (s *Store) resolvePendingLocked(next *State) *Ack {
	p := s.pending[next.RoomID]
	if p == nil {
		return nil
	}
	n := len(next.HistorySAN)
	switch {
	case n > p.BaseLen:
		delete(s.pending, next.RoomID)
		actual := next.HistorySAN[p.BaseLen]
		if actual == p.SAN {
			return &Ack{SAN: p.SAN, Status: AckConfirmed, Actual: actual}
		}
		return &Ack{SAN: p.SAN, Status: AckSuperseded, Actual: actual}
	case n < p.BaseLen:
		delete(s.pending, next.RoomID)
		return &Ack{SAN: p.SAN, Status: AckSuperseded}
	}
	return nil
}

func (s *Store) notify(c Change) {
	s.subMu.RLock()
	fns := make([]Listener, 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Join asks the transport to join or create roomID. State arrives via Ingest.
func (s *Store) Join(ctx context.Context, roomID string, mode Mode, displayName string) error {
	if roomID == "" || !mode.Valid() {
		return fmt.Errorf("join: invalid room %q mode %q", roomID, mode)
	}
	s.mu.RLock()
	sender := s.sender
	s.mu.RUnlock()
	if sender == nil {
		return errors.New("join: no transport")
	}
	if err := sender.Join(ctx, roomID, mode, displayName); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	return nil
}

// Drop forgets a room and any pending move for it.
func (s *Store) Drop(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	delete(s.pending, roomID)
	s.mu.Unlock()
}

// State returns a copy of the current state, or nil.
func (s *Store) State(roomID string) *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID].Clone()
}

// View returns the derived selectors for the local member.
func (s *Store) View(roomID string) View {
	s.mu.RLock()
	st := s.rooms[roomID].Clone()
	var pending *PendingMove
	if p := s.pending[roomID]; p != nil {
		cp := *p
		pending = &cp
	}
	s.mu.RUnlock()
	v := NewView(st, s.me)
	v.Pending = pending
	return v
}

// Pending returns the move awaiting confirmation in roomID.
func (s *Store) Pending(roomID string) (PendingMove, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.pending[roomID]
	if p == nil {
		return PendingMove{}, false
	}
	return *p, true
}

// SubmitMove checks the move locally, parks it as pending and sends its SAN.
// History is not touched until the authority echoes it back.
func (s *Store) SubmitMove(ctx context.Context, roomID string, mv rules.Move) (string, error) {
	s.mu.Lock()
	st := s.rooms[roomID]
	if st == nil {
		s.mu.Unlock()
		return "", ErrUnknownRoom
	}
	if s.pending[roomID] != nil {
		s.mu.Unlock()
		return "", ErrMovePending
	}
	applied, err := s.auth.Check(st, s.me, mv)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	p := &PendingMove{RoomID: roomID, SAN: applied.SAN, Move: applied.Move, BaseLen: len(st.HistorySAN)}
	s.pending[roomID] = p
	sender := s.sender
	s.mu.Unlock()

	if sender == nil {
		s.clearPending(roomID, p)
		return "", errors.New("move: no transport")
	}
	if err := sender.MoveSAN(ctx, roomID, applied.SAN); err != nil {
		s.clearPending(roomID, p)
		return "", fmt.Errorf("send move: %w", err)
	}
	return applied.SAN, nil
}

func (s *Store) clearPending(roomID string, p *PendingMove) {
	s.mu.Lock()
	if s.pending[roomID] == p {
		delete(s.pending, roomID)
	}
	s.mu.Unlock()
}

// RejectPending clears the pending move for roomID when the authority
// refused san. It reports whether a pending move was cleared.
func (s *Store) RejectPending(roomID, san string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending[roomID]
	if p == nil || (san != "" && p.SAN != san) {
		return false
	}
	delete(s.pending, roomID)
	return true
}
