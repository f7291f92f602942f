package room

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/cheese-rooms/internal/rules"
)

// Decode parses a snapshot strictly: unknown fields are rejected and the
// result must pass Validate.
func Decode(raw []byte, r rules.Capability) (*State, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var st State
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	st.normalize()
	if err := st.Validate(r); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *State) normalize() {
	s.RoomID = strings.TrimSpace(s.RoomID)
	if s.Result == "*" {
		s.Result = ""
	}
	if s.HistorySAN == nil {
		s.HistorySAN = []string{}
	}
	if s.Members == nil {
		s.Members = []Member{}
	}
	if s.Seats == nil {
		s.Seats = map[Seat]string{}
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedSnapshot, fmt.Sprintf(format, args...))
}

func violated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// Validate checks the schema and the room invariants. Schema problems wrap
// ErrMalformedSnapshot; invariant breaks wrap ErrInvariant.
func (s *State) Validate(r rules.Capability) error {
	if s == nil {
		return malformed("nil state")
	}
	if s.RoomID == "" {
		return malformed("roomId is empty")
	}
	if !s.Mode.Valid() {
		return malformed("unknown mode %q", s.Mode)
	}

	members := make(map[string]bool, len(s.Members))
	for _, m := range s.Members {
		if strings.TrimSpace(m.ID) == "" {
			return malformed("member with empty id")
		}
		if members[m.ID] {
			return malformed("duplicate member %s", m.ID)
		}
		members[m.ID] = true
	}

	seatOf := make(map[string]Seat, len(s.Seats))
	for seat, id := range s.Seats {
		if !s.Mode.Has(seat) {
			return violated("seat %q not valid in %s", seat, s.Mode)
		}
		if id == "" {
			continue
		}
		if !members[id] {
			return malformed("seat %s held by non-member %s", seat, id)
		}
		if prev, ok := seatOf[id]; ok {
			return violated("member %s holds %s and %s", id, prev, seat)
		}
		seatOf[id] = seat
	}

	if !s.Driver.Valid() {
		return malformed("driver %q", s.Driver)
	}
	side, err := r.SideToMove(s.FEN)
	if err != nil {
		return malformed("fen: %v", err)
	}
	if side != s.Driver {
		return violated("driver %s but %s to move", s.Driver, side)
	}

	replayed, err := r.ApplySAN(rules.StartFEN, s.HistorySAN)
	if err != nil {
		return malformed("history: %v", err)
	}
	if !rules.SamePosition(replayed, s.FEN) {
		return violated("fen does not match history replay")
	}

	switch s.Result {
	case "", rules.ResultWhiteWins, rules.ResultBlackWins, rules.ResultDraw:
	default:
		return malformed("result %q", s.Result)
	}
	if s.FinishedAt != nil && s.Result == "" {
		return malformed("finishedAt without result")
	}
	switch s.Phase {
	case "", PhaseLobby, PhaseActive, PhaseResult:
	default:
		return malformed("phase %q", s.Phase)
	}
	return nil
}

// Encode marshals s for the wire or for KV.
func Encode(s *State) ([]byte, error) {
	return json.Marshal(s)
}
