package transport

import (
	"context"
	"fmt"

	"github.com/park285/cheese-rooms/internal/room"
	"github.com/park285/cheese-rooms/internal/roomhost"
)

// dispatch applies one request from memberID to the host.
func dispatch(ctx context.Context, h *roomhost.Host, memberID string, env *Envelope) error {
	var err error
	switch env.T {
	case TypeJoin:
		_, err = h.Join(ctx, env.RoomID, env.Mode, room.Member{ID: memberID, Name: env.Name})
	case TypeLeave:
		_, err = h.Leave(ctx, env.RoomID, memberID)
	case TypeSeat:
		_, err = h.Seat(ctx, env.RoomID, memberID, env.Seat)
	case TypeStart:
		_, err = h.Start(ctx, env.RoomID, memberID)
	case TypeMoveSAN:
		_, err = h.MoveSAN(ctx, env.RoomID, memberID, env.SAN)
	case TypeResign:
		_, err = h.Resign(ctx, env.RoomID, memberID)
	case TypeChat:
		_, err = h.Chat(ctx, env.RoomID, memberID, env.Text)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownType, env.T)
	}
	return err
}
