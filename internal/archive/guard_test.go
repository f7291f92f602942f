package archive

import (
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-rooms/internal/room"
)

func finishedState(roomID string, version, finishedAt int64, result string) *room.State {
	s := room.NewState(roomID, room.Mode1v1)
	s.Members = []room.Member{{ID: "u_alice0001", Name: "Alice"}, {ID: "u_bob000002", Name: "Bob"}}
	s.Seats[room.W1] = "u_alice0001"
	s.Seats[room.B1] = "u_bob000002"
	s.Started = true
	s.HistorySAN = []string{"e4", "e5", "Nf3", "Nc6"}
	s.Version = room.Int64(version)
	s.StartedAt = room.Int64(100)
	s.FinishedAt = room.Int64(finishedAt)
	s.Result = result
	s.Phase = room.PhaseResult
	return s
}

func TestMakeKey(t *testing.T) {
	if got := MakeKey("R1", nil, nil, nil, ""); got != "R1:noversion:pending:unknown" {
		t.Fatalf("empty key = %q", got)
	}
	if got := MakeKey("R1", room.Int64(7), nil, room.Int64(55), "1-0"); got != "R1:7:55:1-0" {
		t.Fatalf("startedAt fallback = %q", got)
	}
	if got := MakeKey("R1", room.Int64(7), room.Int64(99), room.Int64(55), "1-0"); got != "R1:7:99:1-0" {
		t.Fatalf("finishedAt preferred = %q", got)
	}

	base := MakeKey("R1", room.Int64(1), room.Int64(2), nil, "0-1")
	if base != MakeKey("R1", room.Int64(1), room.Int64(2), nil, "0-1") {
		t.Fatalf("not deterministic")
	}
	for _, other := range []string{
		MakeKey("R1", room.Int64(3), room.Int64(2), nil, "0-1"),
		MakeKey("R1", room.Int64(1), room.Int64(4), nil, "0-1"),
		MakeKey("R1", room.Int64(1), room.Int64(2), nil, "1-0"),
	} {
		if other == base {
			t.Fatalf("changing an input kept key %q", base)
		}
	}
}

func TestGuardSingleSlot(t *testing.T) {
	g := NewGuard()
	s := finishedState("R1", 9, 123, "1-0")
	if !g.ShouldArchive(s) {
		t.Fatalf("first call should archive")
	}
	if g.ShouldArchive(s) {
		t.Fatalf("repeat should not archive")
	}
	s2 := s.Clone()
	s2.FinishedAt = room.Int64(456)
	if !g.ShouldArchive(s2) {
		t.Fatalf("changed finishedAt should archive")
	}
	// single slot: going back to the first key archives again
	if !g.ShouldArchive(s) {
		t.Fatalf("older key after a different one should archive")
	}
}

func TestGuardMarkForget(t *testing.T) {
	g := NewGuard()
	s := finishedState("R1", 9, 123, "1-0")
	g.Mark(s)
	if g.ShouldArchive(s) {
		t.Fatalf("marked key should not archive")
	}
	g.Forget("other")
	if last, ok := g.Last(); !ok || last != Key(s) {
		t.Fatalf("forget of another key changed memory: %q %v", last, ok)
	}
	g.Forget(Key(s))
	if !g.ShouldArchive(s) {
		t.Fatalf("forgotten key should archive")
	}
	if _, ok := g.Last(); ok {
		t.Fatalf("forget kept a key")
	}
}

func TestBuildPGN(t *testing.T) {
	out := BuildPGN(PGNInput{
		WhiteName: "Alice",
		BlackName: "Bob",
		Result:    "1-0",
		Date:      time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC),
		MovesSAN:  []string{"e4", "e5", "Nf3", "Nc6"},
	})
	for _, want := range []string{
		`[Event "Casual Game"]`,
		`[Date "2026.03.07"]`,
		`[White "Alice"]`,
		`[Black "Bob"]`,
		`[Result "1-0"]`,
		"\n\n1. e4 e5 2. Nf3 Nc6 1-0",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("pgn missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Termination") {
		t.Fatalf("unexpected termination tag:\n%s", out)
	}
}

func TestBuildPGNEdges(t *testing.T) {
	out := BuildPGN(PGNInput{WhiteName: `A"l\ice`, BlackName: "Bob", Result: "1/2-1/2", Termination: "stalemate"})
	if !strings.Contains(out, `[White "A'l ice"]`) {
		t.Fatalf("name not sanitized:\n%s", out)
	}
	if !strings.Contains(out, `[Termination "stalemate"]`) {
		t.Fatalf("missing termination:\n%s", out)
	}
	if !strings.HasSuffix(out, "\n\n1/2-1/2") {
		t.Fatalf("empty game body wrong:\n%s", out)
	}
	if got := MoveText([]string{"e4", "e5", "Qh5"}, "*"); got != "1. e4 e5 2. Qh5 *" {
		t.Fatalf("odd plies = %q", got)
	}
}

func TestBuildRecord(t *testing.T) {
	s := finishedState("R1", 9, 100+90_000, "1-0")
	s.Reason = "resignation"
	rec, err := BuildRecord(s, time.Now())
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if rec.ID != RecordID(Key(s)) || rec.ID == "" {
		t.Fatalf("id = %q", rec.ID)
	}
	if rec.Moves != 4 || rec.DurationMs != 90_000 || rec.Mode != "1v1" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.WhiteName != "Alice" || rec.BlackName != "Bob" {
		t.Fatalf("names = %q %q", rec.WhiteName, rec.BlackName)
	}
	if !rec.CreatedAt.Equal(time.UnixMilli(100 + 90_000)) {
		t.Fatalf("createdAt = %v", rec.CreatedAt)
	}
	if !strings.Contains(rec.PGN, "[ECO \"C") {
		t.Fatalf("open game should carry a C-series ECO tag:\n%s", rec.PGN)
	}
	if _, err := BuildRecord(room.NewState("R2", room.Mode1v1), time.Now()); err != ErrNotTerminal {
		t.Fatalf("lobby err = %v", err)
	}
}

func TestPlayerNames(t *testing.T) {
	s := room.NewState("R1", room.Mode2v2)
	s.Members = []room.Member{
		{ID: "u_aaaaaaaa0001", Name: "Ann"},
		{ID: "u_bbbbbbbb0002", Name: "Me"},
		{ID: "u_cccccccc0003", Name: ""},
	}
	s.Seats[room.W1] = "u_aaaaaaaa0001"
	s.Seats[room.W2] = "u_bbbbbbbb0002"
	s.Seats[room.B2] = "u_cccccccc0003"
	white, black := PlayerNames(s)
	if white != "Ann & Guest-0002" {
		t.Fatalf("white = %q", white)
	}
	if black != "Guest-0003" {
		t.Fatalf("black = %q", black)
	}

	empty := room.NewState("R2", room.Mode1v1)
	if w, b := PlayerNames(empty); w != "White" || b != "Black" {
		t.Fatalf("empty seats = %q %q", w, b)
	}
}

func TestBuildPGNOpeningTags(t *testing.T) {
	out := BuildPGN(PGNInput{Result: "1-0", ECO: "B20", Opening: `Sicilian "Defense"`, MovesSAN: []string{"e4", "c5"}})
	if !strings.Contains(out, "[ECO \"B20\"]\n[Opening \"Sicilian 'Defense'\"]\n") {
		t.Fatalf("opening tags wrong:\n%s", out)
	}
	if strings.Contains(BuildPGN(PGNInput{Result: "1-0"}), "[ECO") {
		t.Fatalf("unexpected ECO tag")
	}
}
