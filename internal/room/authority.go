package room

import (
	"errors"

	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/rules"
	"go.uber.org/zap"
)

// Authority decides whether a member may play a move in a room state.
type Authority struct {
	rules  rules.Capability
	logger *zap.Logger
}

func NewAuthority(r rules.Capability, logger *zap.Logger) *Authority {
	return &Authority{rules: r, logger: obslog.Or(logger)}
}

// Check runs the turn and seat checks in order and, when they pass, applies
// the move with the rules engine. Every rejection is ErrIllegalMove except a
// driver/position disagreement, which is ErrInvariant.
func (a *Authority) Check(st *State, memberID string, mv rules.Move) (rules.Applied, error) {
	if st == nil || !st.Started {
		return a.reject(st, memberID, mv, "not_started")
	}
	if st.Terminal() {
		return a.reject(st, memberID, mv, "finished")
	}

	side, err := a.rules.SideToMove(st.FEN)
	if err != nil {
		return a.reject(st, memberID, mv, "bad_position")
	}
	if side != st.Driver {
		a.logger.Error("room_driver_mismatch",
			zap.String("room_id", st.RoomID),
			zap.String("driver", string(st.Driver)),
			zap.String("side_to_move", string(side)),
		)
		return rules.Applied{}, ErrInvariant
	}

	seats := MySeats(st, memberID)
	if len(seats) == 0 {
		return a.reject(st, memberID, mv, "spectator")
	}
	seated := false
	for _, seat := range seats {
		if seat.Color() == side {
			seated = true
			break
		}
	}
	if !seated {
		return a.reject(st, memberID, mv, "wrong_side")
	}

	pieceColor, occupied, err := a.rules.ColorAt(st.FEN, mv.From)
	if err != nil || !occupied || pieceColor != side {
		return a.reject(st, memberID, mv, "not_own_piece")
	}

	applied, err := a.rules.ApplyMove(st.FEN, mv)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) || errors.Is(err, rules.ErrBadSquare) {
			return a.reject(st, memberID, mv, "rules")
		}
		return a.reject(st, memberID, mv, "rules_error")
	}
	return applied, nil
}

func (a *Authority) reject(st *State, memberID string, mv rules.Move, reason string) (rules.Applied, error) {
	roomID := ""
	if st != nil {
		roomID = st.RoomID
	}
	a.logger.Debug("room_move_rejected",
		zap.String("room_id", roomID),
		zap.String("member_id", memberID),
		zap.String("move", mv.UCI()),
		zap.String("reason", reason),
	)
	return rules.Applied{}, ErrIllegalMove
}
