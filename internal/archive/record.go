package archive

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-rooms/internal/room"
	"github.com/park285/cheese-rooms/internal/rules"
)

var (
	ErrDuplicate   = errors.New("game record already exists")
	ErrNotTerminal = errors.New("room state is not terminal")
)

// recordNamespace seeds the SHA-1 record ids so one archive key always maps to
// one record id.
var recordNamespace = uuid.MustParse("3b1f6c52-7d0e-4c8a-9a57-2f4e61d0c9b3")

// Record is the persisted projection of a finished game.
type Record struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	CreatedAt  time.Time `json:"createdAt"`
	Mode       string    `json:"mode"`
	Result     string    `json:"result"`
	Reason     string    `json:"reason,omitempty"`
	PGN        string    `json:"pgn"`
	Moves      int       `json:"moves"`
	DurationMs int64     `json:"durationMs"`
	WhiteName  string    `json:"whiteName"`
	BlackName  string    `json:"blackName"`
}

// RecordID is the deterministic id for an archive key.
func RecordID(key string) string {
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// BuildRecord projects a terminal state. now is used when finishedAt is absent.
func BuildRecord(s *room.State, now time.Time) (Record, error) {
	if !s.Terminal() {
		return Record{}, ErrNotTerminal
	}
	created := now
	if s.FinishedAt != nil {
		created = time.UnixMilli(*s.FinishedAt)
	}
	var dur int64
	if s.FinishedAt != nil && s.StartedAt != nil {
		if d := *s.FinishedAt - *s.StartedAt; d > 0 {
			dur = d
		}
	}
	white, black := PlayerNames(s)
	eco, _ := rules.ClassifyOpening(s.HistorySAN)
	return Record{
		ID:         RecordID(Key(s)),
		RoomID:     s.RoomID,
		CreatedAt:  created.UTC(),
		Mode:       string(s.Mode),
		Result:     s.Result,
		Reason:     s.Reason,
		Moves:      len(s.HistorySAN),
		DurationMs: dur,
		WhiteName:  white,
		BlackName:  black,
		PGN: BuildPGN(PGNInput{
			Date:        created,
			WhiteName:   white,
			BlackName:   black,
			Result:      s.Result,
			Termination: s.Reason,
			ECO:         eco.Code,
			Opening:     eco.Title,
			MovesSAN:    s.HistorySAN,
		}),
	}, nil
}

// PlayerNames resolves the white and black names of a room. Team seats are
// joined with " & ".
func PlayerNames(s *room.State) (string, string) {
	if s == nil {
		return "White", "Black"
	}
	return sideName(s, "White", room.W1, room.W2), sideName(s, "Black", room.B1, room.B2)
}

func sideName(s *room.State, fallback string, seats ...room.Seat) string {
	var names []string
	for _, seat := range seats {
		if !s.Mode.Has(seat) {
			continue
		}
		id := s.Occupant(seat)
		if id == "" {
			continue
		}
		names = append(names, memberName(s, id))
	}
	if len(names) == 0 {
		return fallback
	}
	return strings.Join(names, " & ")
}

func memberName(s *room.State, id string) string {
	m, ok := s.Member(id)
	name := strings.TrimSpace(m.Name)
	if !ok || name == "" || isPlaceholder(name) {
		tail := id
		if len(tail) > 4 {
			tail = tail[len(tail)-4:]
		}
		return "Guest-" + tail
	}
	return name
}

func isPlaceholder(name string) bool {
	switch strings.ToLower(name) {
	case "me", "opponent":
		return true
	}
	return false
}
