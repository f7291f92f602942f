package reconnect

import (
	"context"
	"errors"
	"testing"

	"github.com/park285/cheese-rooms/internal/room"
)

type joinCall struct {
	roomID string
	mode   room.Mode
	name   string
}

type fakeJoiner struct {
	calls []joinCall
	err   error
}

func (f *fakeJoiner) Join(_ context.Context, roomID string, mode room.Mode, name string) error {
	f.calls = append(f.calls, joinCall{roomID, mode, name})
	return f.err
}

func TestRejoinOnlyOnRecoveryEdge(t *testing.T) {
	j := &fakeJoiner{}
	c := New(j, 0, nil)
	c.Track(Target{RoomID: "R1", Mode: room.Mode1v1, DisplayName: "Alice"})
	ctx := context.Background()

	if c.SetOnline(ctx, true) {
		t.Fatalf("true→true should not rejoin")
	}
	if c.SetOnline(ctx, false) {
		t.Fatalf("drop should not rejoin")
	}
	if !c.SetOnline(ctx, true) {
		t.Fatalf("recovery edge should rejoin")
	}
	if c.SetOnline(ctx, true) {
		t.Fatalf("steady online should not rejoin")
	}
	if len(j.calls) != 1 {
		t.Fatalf("join calls = %d, want 1", len(j.calls))
	}
	if got := j.calls[0]; got.roomID != "R1" || got.mode != room.Mode1v1 || got.name != "Alice" {
		t.Fatalf("unexpected join %+v", got)
	}
}

func TestNoRejoinWithoutTarget(t *testing.T) {
	j := &fakeJoiner{}
	c := New(j, 0, nil)
	ctx := context.Background()
	c.SetOnline(ctx, false)
	if c.SetOnline(ctx, true) {
		t.Fatalf("no target should not rejoin")
	}
	c.Track(Target{RoomID: "R2", Mode: room.Mode2v2})
	c.Untrack()
	c.SetOnline(ctx, false)
	c.SetOnline(ctx, true)
	if len(j.calls) != 0 {
		t.Fatalf("join calls = %d", len(j.calls))
	}
}

func TestFailedRejoinWaitsForNextEdge(t *testing.T) {
	j := &fakeJoiner{err: errors.New("offline")}
	c := New(j, 0, nil)
	c.Track(Target{RoomID: "R3", Mode: room.Mode2v2})
	ctx := context.Background()

	c.SetOnline(ctx, false)
	c.SetOnline(ctx, true)
	c.SetOnline(ctx, true)
	if len(j.calls) != 1 {
		t.Fatalf("join calls = %d, want 1", len(j.calls))
	}
	j.err = nil
	c.SetOnline(ctx, false)
	c.SetOnline(ctx, true)
	if len(j.calls) != 2 {
		t.Fatalf("join calls = %d, want 2", len(j.calls))
	}
}
