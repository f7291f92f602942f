package roomhost

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-rooms/internal/identity"
	"github.com/park285/cheese-rooms/internal/room"
	"github.com/park285/cheese-rooms/internal/rules"
)

var (
	ErrBadMode     = errors.New("invalid room mode")
	ErrBadSeat     = errors.New("seat not available in this mode")
	ErrSeatTaken   = errors.New("seat is taken")
	ErrNotMember   = errors.New("not a room member")
	ErrNotHost     = errors.New("only the host can start")
	ErrNotReady    = errors.New("seats are not filled")
	ErrStarted     = errors.New("game already started")
	ErrNotStarted  = errors.New("game not started")
	ErrFinished    = errors.New("game is over")
	ErrNotSeated   = errors.New("not seated")
	ErrEmptyChat   = errors.New("empty chat message")
	ErrChatTooLong = errors.New("chat message too long")
)

const maxChatLen = 500

// unchanged aborts an update that would leave the room as it is. The host
// answers with the stored state and neither writes nor bumps the version.
type unchanged struct{ state *room.State }

func (unchanged) Error() string { return "room unchanged" }

// machine holds the pure room transitions. Each one takes the current state
// (never mutated) and returns the next one with version bumped.
type machine struct {
	rules rules.Capability
	auth  *room.Authority
	now   func() time.Time
}

func (m *machine) ms() int64 { return m.now().UnixMilli() }

func bump(s *room.State) {
	v, _ := s.VersionValue()
	s.Version = room.Int64(v + 1)
}

func (m *machine) join(cur *room.State, roomID string, mode room.Mode, member room.Member) (*room.State, error) {
	member.ID = strings.TrimSpace(member.ID)
	if member.ID == "" {
		return nil, ErrNotMember
	}
	member.Name = strings.TrimSpace(member.Name)
	if member.Name == "" {
		member.Name = identity.DefaultName(member.ID)
	}

	var next *room.State
	if cur == nil {
		if !mode.Valid() {
			return nil, ErrBadMode
		}
		next = room.NewState(roomID, mode)
	} else {
		if mem, ok := cur.Member(member.ID); ok && mem.Name == member.Name {
			return nil, unchanged{state: cur}
		}
		next = cur.Clone()
	}
	renamed := false
	for i := range next.Members {
		if next.Members[i].ID == member.ID {
			next.Members[i].Name = member.Name
			renamed = true
		}
	}
	if !renamed {
		next.Members = append(next.Members, member)
	}
	bump(next)
	return next, nil
}

// leave returns nil when the last member leaves.
func (m *machine) leave(cur *room.State, memberID string) (*room.State, error) {
	if _, ok := cur.Member(memberID); !ok {
		return nil, ErrNotMember
	}
	next := cur.Clone()
	members := next.Members[:0]
	for _, mem := range next.Members {
		if mem.ID != memberID {
			members = append(members, mem)
		}
	}
	next.Members = members
	releaseSeats(next, memberID)
	if len(next.Members) == 0 {
		return nil, nil
	}
	bump(next)
	return next, nil
}

func releaseSeats(s *room.State, memberID string) {
	for seat, id := range s.Seats {
		if id == memberID {
			s.Seats[seat] = ""
		}
	}
}

// seat moves memberID into seat, or out of every seat when seat is empty.
func (m *machine) seat(cur *room.State, memberID string, seat room.Seat) (*room.State, error) {
	if _, ok := cur.Member(memberID); !ok {
		return nil, ErrNotMember
	}
	if cur.Started {
		return nil, ErrStarted
	}
	if seat != "" {
		if !cur.Mode.Has(seat) {
			return nil, ErrBadSeat
		}
		if occ := cur.Occupant(seat); occ != "" && occ != memberID {
			return nil, ErrSeatTaken
		}
	}
	next := cur.Clone()
	releaseSeats(next, memberID)
	if seat != "" {
		next.Seats[seat] = memberID
	}
	bump(next)
	return next, nil
}

func (m *machine) start(cur *room.State, memberID string) (*room.State, error) {
	if _, ok := cur.Member(memberID); !ok {
		return nil, ErrNotMember
	}
	if cur.Started {
		return nil, ErrStarted
	}
	if !room.IsHost(cur, memberID) {
		return nil, ErrNotHost
	}
	if !room.ReadyToStart(cur) {
		return nil, ErrNotReady
	}
	next := cur.Clone()
	next.Started = true
	next.Phase = room.PhaseActive
	next.Driver = rules.White
	next.FEN = rules.StartFEN
	next.HistorySAN = []string{}
	next.Result, next.Reason, next.FinishedAt = "", "", nil
	next.StartedAt = room.Int64(m.ms())
	bump(next)
	return next, nil
}

func (m *machine) moveSAN(cur *room.State, memberID, san string) (*room.State, error) {
	mv, err := m.rules.DecodeSAN(cur.FEN, san)
	if err != nil {
		return nil, room.ErrIllegalMove
	}
	applied, err := m.auth.Check(cur, memberID, mv)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	next.HistorySAN = append(next.HistorySAN, applied.SAN)
	next.FEN = applied.FEN
	side, err := m.rules.SideToMove(applied.FEN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", room.ErrInvariant, err)
	}
	next.Driver = side
	if t := m.rules.ClassifyTerminal(next.HistorySAN); t.Over {
		m.finish(next, t.Result, string(t.Reason))
	}
	bump(next)
	return next, nil
}

func (m *machine) resign(cur *room.State, memberID string) (*room.State, error) {
	if !cur.Started {
		return nil, ErrNotStarted
	}
	if cur.Terminal() {
		return nil, ErrFinished
	}
	side := room.MySide(cur, memberID)
	if side == "" {
		return nil, ErrNotSeated
	}
	next := cur.Clone()
	m.finish(next, rules.WinFor(side.Opposite()), string(rules.ReasonResignation))
	bump(next)
	return next, nil
}

func (m *machine) finish(s *room.State, result, reason string) {
	s.Result = result
	s.Reason = reason
	s.Phase = room.PhaseResult
	s.FinishedAt = room.Int64(m.ms())
}

func (m *machine) checkChat(cur *room.State, memberID, text string) (string, error) {
	if _, ok := cur.Member(memberID); !ok {
		return "", ErrNotMember
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyChat
	}
	if len([]rune(text)) > maxChatLen {
		return "", ErrChatTooLong
	}
	return text, nil
}
