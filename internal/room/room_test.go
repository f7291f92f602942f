package room

import (
	"context"
	"errors"
	"testing"

	"github.com/park285/cheese-rooms/internal/rules"
)

var testRules = rules.New()

// activeState builds a started room with history replayed from the start.
func activeState(t *testing.T, mode Mode, seats map[Seat]string, history ...string) *State {
	t.Helper()
	st := NewState("room1", mode)
	ids := map[string]bool{}
	for seat, id := range seats {
		st.Seats[seat] = id
		if id != "" && !ids[id] {
			ids[id] = true
			st.Members = append(st.Members, Member{ID: id, Name: "name-" + id})
		}
	}
	fen, err := testRules.ApplySAN(rules.StartFEN, history)
	if err != nil {
		t.Fatalf("ApplySAN: %v", err)
	}
	st.FEN = fen
	st.Driver = rules.SideOf(fen)
	st.HistorySAN = append([]string{}, history...)
	st.Started = true
	st.Phase = PhaseActive
	st.Version = Int64(int64(len(history) + 1))
	return st
}

func TestSelectors1v1(t *testing.T) {
	st := NewState("r", Mode1v1)
	st.Members = []Member{{ID: "u_b", Name: "B"}, {ID: "u_a", Name: "A"}}
	if ReadyToStart(st) {
		t.Fatalf("empty room should not be ready")
	}
	st.Seats[W1] = "u_a"
	if ReadyToStart(st) {
		t.Fatalf("one seat should not be ready")
	}
	st.Seats[B1] = "u_b"
	if !ReadyToStart(st) {
		t.Fatalf("w1+b1 should be ready")
	}
	if got := MySeats(st, "u_b"); len(got) != 1 || got[0] != B1 {
		t.Fatalf("MySeats = %v", got)
	}
	if MySide(st, "u_b") != rules.Black || MySide(st, "u_x") != "" {
		t.Fatalf("MySide mismatch")
	}
	if !IsHost(st, "u_a") || IsHost(st, "u_b") {
		t.Fatalf("host should be smallest id")
	}
	if !IsMinimal(st) {
		t.Fatalf("1v1 is minimal")
	}
	if IsMyTurn(st, "u_a") {
		t.Fatalf("not started yet")
	}
	st.Started = true
	if !IsMyTurn(st, "u_a") || IsMyTurn(st, "u_b") {
		t.Fatalf("white to move at start")
	}
}

func TestSelectors2v2Ready(t *testing.T) {
	st := NewState("r", Mode2v2)
	st.Members = []Member{{ID: "a"}, {ID: "b"}}
	st.Seats[W2] = "a"
	st.Seats[B2] = "b"
	if !ReadyToStart(st) {
		t.Fatalf("one seat per color is enough in 2v2")
	}
	if IsMinimal(st) {
		t.Fatalf("2v2 is not minimal")
	}
	st.Seats[B2] = ""
	if ReadyToStart(st) {
		t.Fatalf("no black seat")
	}
}

func TestAuthorityRejectsBlackSeatOnWhiteTurn(t *testing.T) {
	a := NewAuthority(testRules, nil)
	st := activeState(t, Mode1v1, map[Seat]string{W1: "w", B1: "b"})
	if _, err := a.Check(st, "b", rules.Move{From: "e2", To: "e4"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	applied, err := a.Check(st, "w", rules.Move{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("white move: %v", err)
	}
	if applied.SAN != "e4" {
		t.Fatalf("san = %q", applied.SAN)
	}
}

func TestAuthorityRejections(t *testing.T) {
	a := NewAuthority(testRules, nil)
	st := activeState(t, Mode1v1, map[Seat]string{W1: "w", B1: "b"})

	lobby := st.Clone()
	lobby.Started = false
	if _, err := a.Check(lobby, "w", rules.Move{From: "e2", To: "e4"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("not started: %v", err)
	}
	if _, err := a.Check(st, "spectator", rules.Move{From: "e2", To: "e4"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("spectator: %v", err)
	}
	if _, err := a.Check(st, "w", rules.Move{From: "e7", To: "e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("opponent piece: %v", err)
	}
	if _, err := a.Check(st, "w", rules.Move{From: "e4", To: "e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("empty square: %v", err)
	}
	if _, err := a.Check(st, "w", rules.Move{From: "e2", To: "e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("rules illegal: %v", err)
	}

	broken := st.Clone()
	broken.Driver = rules.Black
	if _, err := a.Check(broken, "b", rules.Move{From: "e7", To: "e5"}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("driver mismatch: %v", err)
	}
}

func TestAuthorityTeammatesShareSide(t *testing.T) {
	a := NewAuthority(testRules, nil)
	st := activeState(t, Mode2v2, map[Seat]string{W1: "w1", W2: "w2", B1: "b1"}, "e4")
	if _, err := a.Check(st, "w2", rules.Move{From: "d2", To: "d4"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("white teammate on black turn: %v", err)
	}
	if _, err := a.Check(st, "b1", rules.Move{From: "e7", To: "e5"}); err != nil {
		t.Fatalf("black move: %v", err)
	}
	st2 := activeState(t, Mode2v2, map[Seat]string{W1: "w1", W2: "w2", B1: "b1"}, "e4", "e5")
	if _, err := a.Check(st2, "w2", rules.Move{From: "g1", To: "f3"}); err != nil {
		t.Fatalf("w2 should move for white: %v", err)
	}
}

func TestDecodeStrict(t *testing.T) {
	good := `{"roomId":"r","mode":"1v1","members":[{"id":"a","name":"A"}],"seats":{"w1":"a","b1":""},"driver":"b","fen":"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1","historySAN":["e4"],"started":true,"version":3,"result":"*"}`
	st, err := Decode([]byte(good), testRules)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if st.Result != "" {
		t.Fatalf("* should normalize to no result")
	}
	if v, ok := st.VersionValue(); !ok || v != 3 {
		t.Fatalf("version = %d %v", v, ok)
	}

	if _, err := Decode([]byte(`{"roomId":"r","mode":"1v1","extra":1}`), testRules); !errors.Is(err, ErrMalformedSnapshot) {
		t.Fatalf("unknown field: %v", err)
	}
	if _, err := Decode([]byte(`{"roomId":"r","mode":"3v3","driver":"w","fen":"`+rules.StartFEN+`"}`), testRules); !errors.Is(err, ErrMalformedSnapshot) {
		t.Fatalf("bad mode: %v", err)
	}
}

func TestValidateInvariants(t *testing.T) {
	st := activeState(t, Mode2v2, map[Seat]string{W1: "a", B1: "b"})
	st.Seats[W2] = "a"
	if err := st.Validate(testRules); !errors.Is(err, ErrInvariant) {
		t.Fatalf("double seating: %v", err)
	}

	st = activeState(t, Mode1v1, map[Seat]string{W1: "a", B1: "b"}, "e4")
	st.Driver = rules.White
	if err := st.Validate(testRules); !errors.Is(err, ErrInvariant) {
		t.Fatalf("driver mismatch: %v", err)
	}

	st = activeState(t, Mode1v1, map[Seat]string{W1: "a", B1: "b"}, "e4")
	st.HistorySAN = []string{"d4"}
	if err := st.Validate(testRules); !errors.Is(err, ErrInvariant) {
		t.Fatalf("history mismatch: %v", err)
	}

	st = activeState(t, Mode1v1, map[Seat]string{W1: "a", B1: "b"})
	st.Seats[W2] = ""
	if err := st.Validate(testRules); !errors.Is(err, ErrInvariant) {
		t.Fatalf("w2 in 1v1: %v", err)
	}

	st = activeState(t, Mode1v1, map[Seat]string{W1: "a", B1: "b"})
	st.FinishedAt = Int64(5)
	if err := st.Validate(testRules); !errors.Is(err, ErrMalformedSnapshot) {
		t.Fatalf("finishedAt without result: %v", err)
	}

	st = activeState(t, Mode1v1, map[Seat]string{W1: "a"})
	st.Seats[B1] = "ghost"
	if err := st.Validate(testRules); !errors.Is(err, ErrMalformedSnapshot) {
		t.Fatalf("non-member seat: %v", err)
	}
}

type fakeSender struct {
	joins   []string
	moves   []string
	moveErr error
	onMove  func(san string)
}

func (f *fakeSender) Join(_ context.Context, roomID string, mode Mode, name string) error {
	f.joins = append(f.joins, roomID+"|"+string(mode)+"|"+name)
	return nil
}

func (f *fakeSender) MoveSAN(_ context.Context, _ string, san string) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, san)
	if f.onMove != nil {
		f.onMove(san)
	}
	return nil
}

func TestStoreIngestAndSubscribe(t *testing.T) {
	sender := &fakeSender{}
	s := NewStore("w", testRules, sender, nil)
	var changes []Change
	cancel := s.Subscribe(func(c Change) { changes = append(changes, c) })

	st := activeState(t, Mode1v1, map[Seat]string{W1: "w", B1: "b"})
	if err := s.Ingest(st); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(changes) != 1 || changes[0].Prev != nil || changes[0].Next == nil {
		t.Fatalf("unexpected changes: %+v", changes)
	}
	v := s.View("room1")
	if !v.IsMyTurn || v.MySide != rules.White || v.IsHost {
		t.Fatalf("unexpected view: %+v", v)
	}

	bad := st.Clone()
	bad.Driver = rules.Black
	if err := s.Ingest(bad); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	if got := s.State("room1"); got.Driver != rules.White {
		t.Fatalf("quarantined snapshot replaced state")
	}
	if len(changes) != 1 {
		t.Fatalf("rejected snapshot should not notify")
	}

	cancel()
	_ = s.Ingest(st)
	if len(changes) != 1 {
		t.Fatalf("cancelled subscriber still notified")
	}

	if err := s.Join(context.Background(), "room1", Mode1v1, "Alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(sender.joins) != 1 || sender.joins[0] != "room1|1v1|Alice" {
		t.Fatalf("joins = %v", sender.joins)
	}
}

func TestStorePendingConfirmedAndSuperseded(t *testing.T) {
	sender := &fakeSender{}
	s := NewStore("w", testRules, sender, nil)
	seats := map[Seat]string{W1: "w", W2: "w2", B1: "b"}
	if err := s.Ingest(activeState(t, Mode2v2, seats)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	var acks []*Ack
	s.Subscribe(func(c Change) {
		if c.Ack != nil {
			acks = append(acks, c.Ack)
		}
	})

	san, err := s.SubmitMove(context.Background(), "room1", rules.Move{From: "e2", To: "e4"})
	if err != nil || san != "e4" {
		t.Fatalf("SubmitMove = %q %v", san, err)
	}
	if got := s.State("room1"); len(got.HistorySAN) != 0 {
		t.Fatalf("history mutated before echo")
	}
	if _, err := s.SubmitMove(context.Background(), "room1", rules.Move{From: "d2", To: "d4"}); !errors.Is(err, ErrMovePending) {
		t.Fatalf("expected ErrMovePending, got %v", err)
	}
	if err := s.Ingest(activeState(t, Mode2v2, seats, "e4")); err != nil {
		t.Fatalf("Ingest echo: %v", err)
	}
	if len(acks) != 1 || acks[0].Status != AckConfirmed {
		t.Fatalf("acks = %+v", acks)
	}
	if _, ok := s.Pending("room1"); ok {
		t.Fatalf("pending should be cleared")
	}

	if err := s.Ingest(activeState(t, Mode2v2, seats, "e4", "e5")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := s.SubmitMove(context.Background(), "room1", rules.Move{From: "g1", To: "f3"}); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	// teammate w2 got there first
	if err := s.Ingest(activeState(t, Mode2v2, seats, "e4", "e5", "d4")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(acks) != 2 || acks[1].Status != AckSuperseded || acks[1].Actual != "d4" {
		t.Fatalf("acks = %+v", acks[len(acks)-1])
	}
}

func TestStoreSubmitFailures(t *testing.T) {
	sender := &fakeSender{moveErr: errors.New("offline")}
	s := NewStore("b", testRules, sender, nil)
	if _, err := s.SubmitMove(context.Background(), "room1", rules.Move{From: "e2", To: "e4"}); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("unknown room: %v", err)
	}
	if err := s.Ingest(activeState(t, Mode1v1, map[Seat]string{W1: "w", B1: "b"})); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := s.SubmitMove(context.Background(), "room1", rules.Move{From: "e7", To: "e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("black on white turn: %v", err)
	}

	s2 := NewStore("w", testRules, sender, nil)
	_ = s2.Ingest(activeState(t, Mode1v1, map[Seat]string{W1: "w", B1: "b"}))
	if _, err := s2.SubmitMove(context.Background(), "room1", rules.Move{From: "e2", To: "e4"}); err == nil {
		t.Fatalf("expected transport error")
	}
	if _, ok := s2.Pending("room1"); ok {
		t.Fatalf("failed send should clear pending")
	}
}

func TestStoreSynchronousEcho(t *testing.T) {
	sender := &fakeSender{}
	s := NewStore("w", testRules, sender, nil)
	seats := map[Seat]string{W1: "w", B1: "b"}
	_ = s.Ingest(activeState(t, Mode1v1, seats))
	sender.onMove = func(san string) {
		if err := s.Ingest(activeState(t, Mode1v1, seats, san)); err != nil {
			t.Errorf("echo ingest: %v", err)
		}
	}
	if _, err := s.SubmitMove(context.Background(), "room1", rules.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if _, ok := s.Pending("room1"); ok {
		t.Fatalf("echo during send should resolve pending")
	}
}

func TestStoreRejectPending(t *testing.T) {
	s := NewStore("w", testRules, &fakeSender{}, nil)
	_ = s.Ingest(activeState(t, Mode1v1, map[Seat]string{W1: "w", B1: "b"}))
	if _, err := s.SubmitMove(context.Background(), "room1", rules.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if s.RejectPending("room1", "d4") {
		t.Fatalf("other SAN should not clear")
	}
	if !s.RejectPending("room1", "e4") {
		t.Fatalf("matching SAN should clear")
	}
	if _, ok := s.Pending("room1"); ok {
		t.Fatalf("pending left behind")
	}
}

func TestCodes(t *testing.T) {
	c, err := NewCode()
	if err != nil {
		t.Fatalf("NewCode: %v", err)
	}
	if !IsValidCode(c) {
		t.Fatalf("generated code invalid: %q", c)
	}
	if got := NormalizeCode(" ab-c2 3o0 "); got != "ABC23" {
		t.Fatalf("NormalizeCode = %q", got)
	}
	if IsValidCode("ABC10Z") || IsValidCode("abcdef") {
		t.Fatalf("invalid codes accepted")
	}
}
