package room

import "github.com/park285/cheese-rooms/internal/rules"

// MySeats returns every seat held by me, in mode order.
func MySeats(s *State, me string) []Seat {
	if s == nil || me == "" {
		return nil
	}
	var out []Seat
	for _, seat := range s.Mode.Seats() {
		if s.Seats[seat] == me {
			out = append(out, seat)
		}
	}
	return out
}

// MySide is w when me holds a white seat, b for a black seat, "" otherwise.
func MySide(s *State, me string) rules.Color {
	seats := MySeats(s, me)
	for _, seat := range seats {
		if seat.Color() == rules.White {
			return rules.White
		}
	}
	for _, seat := range seats {
		if seat.Color() == rules.Black {
			return rules.Black
		}
	}
	return ""
}

// ReadyToStart: 1v1 needs w1 and b1; 2v2 needs any white seat and any black seat.
func ReadyToStart(s *State) bool {
	if s == nil {
		return false
	}
	if s.Mode == Mode1v1 {
		return s.Seats[W1] != "" && s.Seats[B1] != ""
	}
	white := s.Seats[W1] != "" || s.Seats[W2] != ""
	black := s.Seats[B1] != "" || s.Seats[B2] != ""
	return white && black
}

// HostID is the lexicographically smallest member id.
func HostID(s *State) string {
	if s == nil || len(s.Members) == 0 {
		return ""
	}
	return s.sortedMemberIDs()[0]
}

func IsHost(s *State, me string) bool {
	return me != "" && HostID(s) == me
}

// SideToMove reads the side to move from the position.
func SideToMove(s *State) rules.Color {
	if s == nil {
		return ""
	}
	return rules.SideOf(s.FEN)
}

func IsMyTurn(s *State, me string) bool {
	if s == nil || !s.Started {
		return false
	}
	side := MySide(s, me)
	return side != "" && side == SideToMove(s)
}

// IsMinimal reports a 1v1 room, where seat selection collapses.
func IsMinimal(s *State) bool {
	return s != nil && s.Mode == Mode1v1
}

// View bundles the derived selectors for one member.
type View struct {
	State        *State
	MySeats      []Seat
	MySide       rules.Color
	IsHost       bool
	ReadyToStart bool
	IsMyTurn     bool
	IsMinimal    bool
	Pending      *PendingMove
}

func NewView(s *State, me string) View {
	return View{
		State:        s,
		MySeats:      MySeats(s, me),
		MySide:       MySide(s, me),
		IsHost:       IsHost(s, me),
		ReadyToStart: ReadyToStart(s),
		IsMyTurn:     IsMyTurn(s, me),
		IsMinimal:    IsMinimal(s),
	}
}
