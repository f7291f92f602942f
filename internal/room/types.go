package room

import (
	"errors"
	"sort"

	"github.com/park285/cheese-rooms/internal/rules"
)

var (
	ErrIllegalMove       = errors.New("illegal move")
	ErrInvariant         = errors.New("room invariant violated")
	ErrMalformedSnapshot = errors.New("malformed room snapshot")
	ErrUnknownRoom       = errors.New("room not tracked")
	ErrMovePending       = errors.New("a move is already pending")
)

type Mode string

const (
	Mode1v1 Mode = "1v1"
	Mode2v2 Mode = "2v2"
)

func (m Mode) Valid() bool { return m == Mode1v1 || m == Mode2v2 }

// Seats lists the seat labels of the mode in display order.
func (m Mode) Seats() []Seat {
	if m == Mode2v2 {
		return []Seat{W1, W2, B1, B2}
	}
	return []Seat{W1, B1}
}

// Has reports whether seat exists in mode.
func (m Mode) Has(seat Seat) bool {
	for _, s := range m.Seats() {
		if s == seat {
			return true
		}
	}
	return false
}

type Seat string

const (
	W1 Seat = "w1"
	W2 Seat = "w2"
	B1 Seat = "b1"
	B2 Seat = "b2"
)

// Color is the side a seat plays for.
func (s Seat) Color() rules.Color {
	if len(s) == 0 {
		return ""
	}
	return rules.Color(s[:1])
}

type Phase string

const (
	PhaseLobby  Phase = "LOBBY"
	PhaseActive Phase = "ACTIVE"
	PhaseResult Phase = "RESULT"
)

type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// State is one authoritative room snapshot. It is replaced wholesale on ingest.
// Timestamps are Unix milliseconds.
type State struct {
	RoomID     string          `json:"roomId"`
	Mode       Mode            `json:"mode"`
	Members    []Member        `json:"members"`
	Seats      map[Seat]string `json:"seats"`
	Driver     rules.Color     `json:"driver"`
	FEN        string          `json:"fen"`
	HistorySAN []string        `json:"historySAN"`
	Started    bool            `json:"started"`
	Phase      Phase           `json:"phase,omitempty"`
	Version    *int64          `json:"version,omitempty"`
	Result     string          `json:"result,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	StartedAt  *int64          `json:"startedAt,omitempty"`
	FinishedAt *int64          `json:"finishedAt,omitempty"`
}

// NewState returns an empty lobby for roomID at the start position.
func NewState(roomID string, mode Mode) *State {
	seats := make(map[Seat]string, len(mode.Seats()))
	for _, s := range mode.Seats() {
		seats[s] = ""
	}
	return &State{
		RoomID:     roomID,
		Mode:       mode,
		Members:    []Member{},
		Seats:      seats,
		Driver:     rules.White,
		FEN:        rules.StartFEN,
		HistorySAN: []string{},
		Phase:      PhaseLobby,
	}
}

// Terminal reports whether a result has been decided.
func (s *State) Terminal() bool { return s != nil && s.Result != "" }

// Occupant returns the member id in seat, or "".
func (s *State) Occupant(seat Seat) string {
	if s == nil || s.Seats == nil {
		return ""
	}
	return s.Seats[seat]
}

// Member looks a member up by id.
func (s *State) Member(id string) (Member, bool) {
	if s == nil {
		return Member{}, false
	}
	for _, m := range s.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// VersionValue returns the version or 0 with ok=false when absent.
func (s *State) VersionValue() (int64, bool) {
	if s == nil || s.Version == nil {
		return 0, false
	}
	return *s.Version, true
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Members = append([]Member(nil), s.Members...)
	c.HistorySAN = append([]string(nil), s.HistorySAN...)
	if s.Seats != nil {
		c.Seats = make(map[Seat]string, len(s.Seats))
		for k, v := range s.Seats {
			c.Seats[k] = v
		}
	}
	c.Version = clonePtr(s.Version)
	c.StartedAt = clonePtr(s.StartedAt)
	c.FinishedAt = clonePtr(s.FinishedAt)
	return &c
}

func clonePtr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// sortedMemberIDs returns member ids in lexicographic order.
func (s *State) sortedMemberIDs() []string {
	ids := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids
}
